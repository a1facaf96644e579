package risk

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"

	"github.com/treloxai/riskops/internal/logging"
	"github.com/treloxai/riskops/internal/metrics"
	"github.com/treloxai/riskops/internal/traces"
	"github.com/treloxai/riskops/internal/validation"
)

// AnalyzeRequest is the body of POST /risk/analyze and /risk/report.
type AnalyzeRequest struct {
	ImageID    string           `json:"image_id" validate:"required,max=256"`
	Detections []DetectionInput `json:"detections" validate:"required,dive"`
	Context    *ContextInput    `json:"context" validate:"required"`
}

// DetectionInput is the wire form of a Detection. Pointers distinguish a
// missing confidence from an explicit zero.
type DetectionInput struct {
	ID            string   `json:"id" validate:"required,max=256"`
	Label         string   `json:"label" validate:"max=256"`
	SubstancePred string   `json:"substance_pred" validate:"max=256"`
	Confidence    *float64 `json:"confidence" validate:"required"`
	AreaRatio     *float64 `json:"area_ratio,omitempty"`
}

// ContextInput is the wire form of a Context.
type ContextInput struct {
	SiteID                 string   `json:"site_id" validate:"required,max=256"`
	ZoneID                 string   `json:"zone_id,omitempty" validate:"max=256"`
	ZoneType               string   `json:"zone_type,omitempty" validate:"max=256"`
	ProximityToMachines    string   `json:"proximity_to_machines,omitempty" validate:"max=256"`
	FloorType              string   `json:"floor_type,omitempty" validate:"max=256"`
	ProductionValuePerHour *float64 `json:"production_value_per_hour,omitempty" validate:"omitempty,gte=0"`
}

// NewAnalyzeRequest builds the wire form of a domain request.
func NewAnalyzeRequest(imageID string, detections []Detection, ctx Context) AnalyzeRequest {
	req := AnalyzeRequest{
		ImageID:    imageID,
		Detections: make([]DetectionInput, 0, len(detections)),
		Context: &ContextInput{
			SiteID:                 ctx.SiteID,
			ZoneID:                 ctx.ZoneID,
			ZoneType:               ctx.ZoneType,
			ProximityToMachines:    ctx.ProximityToMachines,
			FloorType:              ctx.FloorType,
			ProductionValuePerHour: &ctx.ProductionValuePerHour,
		},
	}
	for _, d := range detections {
		d := d
		req.Detections = append(req.Detections, DetectionInput{
			ID:            d.ID,
			Label:         d.Label,
			SubstancePred: d.SubstancePred,
			Confidence:    &d.Confidence,
			AreaRatio:     &d.AreaRatio,
		})
	}
	return req
}

// Validate checks the structural constraints of the request.
func (r *AnalyzeRequest) Validate() validation.ValidationErrors {
	return validation.Struct(r)
}

// Domain converts a validated request to engine inputs. Absent optional
// numbers become 0.
func (r *AnalyzeRequest) Domain() ([]Detection, Context) {
	detections := make([]Detection, 0, len(r.Detections))
	for _, d := range r.Detections {
		detections = append(detections, Detection{
			ID:            d.ID,
			Label:         d.Label,
			SubstancePred: d.SubstancePred,
			Confidence:    deref(d.Confidence),
			AreaRatio:     deref(d.AreaRatio),
		})
	}

	var ctx Context
	if r.Context != nil {
		ctx = Context{
			SiteID:                 r.Context.SiteID,
			ZoneID:                 r.Context.ZoneID,
			ZoneType:               r.Context.ZoneType,
			ProximityToMachines:    r.Context.ProximityToMachines,
			FloorType:              r.Context.FloorType,
			ProductionValuePerHour: deref(r.Context.ProductionValuePerHour),
		}
	}
	return detections, ctx
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// ReportRenderer turns a result into a downloadable document.
type ReportRenderer interface {
	Render(result *RiskResult) ([]byte, error)
}

// EventEmitter receives completed analyses, e.g. a realtime hub. ctx carries
// the request span; emitters must not tie work to its cancellation.
type EventEmitter interface {
	EmitAnalysis(ctx context.Context, site Context, result *RiskResult)
	EmitReport(ctx context.Context, site Context, result *RiskResult)
}

// ReportFilename is the attachment name of generated reports.
const ReportFilename = "incident_report.pdf"

// Handler provides the HTTP endpoints of the scoring engine.
type Handler struct {
	engine   *Engine
	renderer ReportRenderer
	events   []EventEmitter
}

// NewHandler creates a new risk handler. renderer may be nil, in which case
// the report route is not registered.
func NewHandler(engine *Engine, renderer ReportRenderer) *Handler {
	return &Handler{engine: engine, renderer: renderer}
}

// WithEvents adds emitters notified of every analysis, in order.
func (h *Handler) WithEvents(emitters ...EventEmitter) *Handler {
	for _, e := range emitters {
		if e != nil {
			h.events = append(h.events, e)
		}
	}
	return h
}

// RegisterRoutes sets up the risk routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/risk/analyze", h.Analyze)
	if h.renderer != nil {
		r.POST("/risk/report", h.Report)
	}
}

// Analyze handles POST /risk/analyze
func (h *Handler) Analyze(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	detections, site := req.Domain()

	ctx := c.Request.Context()
	result := h.analyze(ctx, req.ImageID, detections, site)
	for _, e := range h.events {
		e.EmitAnalysis(ctx, site, &result)
	}

	c.JSON(http.StatusOK, result)
}

// Report handles POST /risk/report
func (h *Handler) Report(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	detections, site := req.Domain()

	ctx, span := traces.StartSpan(c.Request.Context(), "risk.report", traces.ImageID(req.ImageID))
	defer span.End()

	result := h.analyze(ctx, req.ImageID, detections, site)

	pdf, err := h.renderer.Render(&result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render failed")
		metrics.ReportsTotal.WithLabelValues("error").Inc()
		logging.L(ctx).Error("report rendering failed", "image_id", result.ImageID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "report_failed",
			"message": "Failed to render incident report",
		})
		return
	}
	metrics.ReportsTotal.WithLabelValues("ok").Inc()
	for _, e := range h.events {
		e.EmitReport(ctx, site, &result)
	}

	c.Header("Content-Disposition", `attachment; filename="`+ReportFilename+`"`)
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// bind decodes and validates the request body, writing a 400 on failure.
func (h *Handler) bind(c *gin.Context) (*AnalyzeRequest, bool) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.ValidationFailuresTotal.Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Malformed JSON body: " + err.Error(),
		})
		return nil, false
	}

	if errs := req.Validate(); errs != nil {
		metrics.ValidationFailuresTotal.Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": errs.Error(),
			"details": errs,
		})
		return nil, false
	}

	return &req, true
}

func (h *Handler) analyze(ctx context.Context, imageID string, detections []Detection, site Context) RiskResult {
	ctx, s := traces.StartSpan(ctx, "risk.analyze", traces.ImageID(imageID), traces.SiteID(site.SiteID))
	defer s.End()

	result := h.engine.Analyze(imageID, detections, site)

	if len(detections) > 0 {
		s.SetAttributes(traces.Substance(string(ParseSubstance(detections[0].SubstancePred))))
	}
	s.SetAttributes(traces.Level(string(result.GlobalSeverityLevel)), traces.Score(result.GlobalSeverityScore))

	metrics.ObserveAnalysis(string(result.GlobalSeverityLevel),
		result.GlobalSeverityScore, result.RiskReductionPct, result.EstimatedCost)

	logging.L(ctx).Info("risk analysis completed",
		"image_id", imageID,
		"site_id", site.SiteID,
		"detections", len(detections),
		"level", result.GlobalSeverityLevel,
		"score", result.GlobalSeverityScore,
		"mitigated_score", result.MitigatedSeverityScore,
	)
	return result
}
