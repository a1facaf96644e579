package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/treloxai/riskops/internal/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRenderer struct {
	err error
}

func (f *fakeRenderer) Render(r *RiskResult) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-1.3 " + r.ImageID), nil
}

type recordingEmitter struct {
	mu       sync.Mutex
	analyses []string
	reports  []string
	traceIDs []trace.TraceID
}

func (e *recordingEmitter) EmitAnalysis(ctx context.Context, site Context, r *RiskResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.analyses = append(e.analyses, site.SiteID+"/"+r.ImageID)
	e.traceIDs = append(e.traceIDs, trace.SpanContextFromContext(ctx).TraceID())
}

func (e *recordingEmitter) EmitReport(ctx context.Context, site Context, r *RiskResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reports = append(e.reports, site.SiteID+"/"+r.ImageID)
	e.traceIDs = append(e.traceIDs, trace.SpanContextFromContext(ctx).TraceID())
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.Counter.GetValue()
}

func setupRouter(renderer ReportRenderer) (*gin.Engine, *recordingEmitter) {
	events := &recordingEmitter{}
	h := NewHandler(NewEngine("EUR"), renderer).WithEvents(events)

	r := gin.New()
	h.RegisterRoutes(r.Group(""))
	return r, events
}

const validBody = `{
	"image_id": "img_001",
	"detections": [{"id": "det_1", "label": "spill", "substance_pred": "oil", "confidence": 0.93, "area_ratio": 0.3}],
	"context": {"site_id": "SITE_001", "zone_id": "Z1", "zone_type": "production",
		"proximity_to_machines": "near_machine", "floor_type": "non_absorbent", "production_value_per_hour": 8000}
}`

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// POST /risk/analyze
// ---------------------------------------------------------------------------

func TestHandler_Analyze_200(t *testing.T) {
	router, events := setupRouter(&fakeRenderer{})

	before := counterValue(t, metrics.AnalysesTotal.WithLabelValues("MEDIUM"))

	w := post(router, "/risk/analyze", validBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))

	assert.Equal(t, "img_001", got["image_id"])
	assert.Equal(t, 43.1, got["global_severity_score"])
	assert.Equal(t, "MEDIUM", got["global_severity_level"])
	assert.Equal(t, "EUR", got["currency"])
	assert.Len(t, got["factors"], 5)
	for _, key := range []string{"estimated_cost", "explanation", "mitigated_severity_score",
		"mitigated_severity_level", "mitigated_cost", "risk_reduction_pct", "recommendations"} {
		assert.Contains(t, got, key)
	}

	factor := got["factors"].([]any)[0].(map[string]any)
	assert.Equal(t, "physical", factor["name"])
	assert.Equal(t, 44.0, factor["value"])
	assert.Equal(t, 0.35, factor["weight"])
	assert.Equal(t, 15.4, factor["contribution"])

	assert.Equal(t, []string{"SITE_001/img_001"}, events.analyses)
	assert.Equal(t, before+1, counterValue(t, metrics.AnalysesTotal.WithLabelValues("MEDIUM")))
}

func TestHandler_Analyze_EmptyDetections(t *testing.T) {
	router, _ := setupRouter(nil)

	w := post(router, "/risk/analyze", `{"image_id":"img_0","detections":[],"context":{"site_id":"SITE_001"}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got RiskResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Zero(t, got.GlobalSeverityScore)
	assert.Equal(t, LevelLow, got.GlobalSeverityLevel)
	assert.Empty(t, got.Factors)
	assert.Equal(t, NoDetectionExplanation, got.Explanation)
	assert.Contains(t, w.Body.String(), `"factors":[]`)
	assert.Contains(t, w.Body.String(), `"recommendations":[]`)
}

func TestHandler_Analyze_OptionalFieldsDefault(t *testing.T) {
	router, _ := setupRouter(nil)

	// No area_ratio, no zone fields, no production value.
	w := post(router, "/risk/analyze", `{"image_id":"i","detections":[{"id":"d","substance_pred":"sand","confidence":0.5}],"context":{"site_id":"S"}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got RiskResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))

	want := BuildRiskResult("i", []Detection{{ID: "d", SubstancePred: "sand", Confidence: 0.5}}, Context{SiteID: "S"})
	assert.Equal(t, want.GlobalSeverityScore, got.GlobalSeverityScore)
	assert.Zero(t, got.EstimatedCost)
}

func TestHandler_Analyze_EmptySubstanceScoresAsUnknown(t *testing.T) {
	router, events := setupRouter(nil)

	for _, body := range []string{
		`{"image_id":"i","detections":[{"id":"1","label":"spill","substance_pred":"","confidence":0.5}],"context":{"site_id":"s"}}`,
		`{"image_id":"i","detections":[{"id":"1","label":"spill","confidence":0.5}],"context":{"site_id":"s"}}`,
	} {
		w := post(router, "/risk/analyze", body)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var got RiskResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		want := BuildRiskResult("i", []Detection{{ID: "1", Label: "spill", SubstancePred: "unknown", Confidence: 0.5}}, Context{SiteID: "s"})
		require.NotEmpty(t, got.Factors)
		assert.Equal(t, FactorPhysical, got.Factors[0].Name)
		assert.Equal(t, want.Factors[0].Value, got.Factors[0].Value)
		assert.Equal(t, want.GlobalSeverityScore, got.GlobalSeverityScore)
		assert.Contains(t, got.Explanation, "Detected substance: unknown.")
	}
	assert.Len(t, events.analyses, 2)
	assert.Equal(t, 30.0, SubstanceBase[ParseSubstance("")])
}

func TestHandler_Analyze_ValidationErrors(t *testing.T) {
	router, events := setupRouter(nil)

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing image id", `{"detections":[],"context":{"site_id":"S"}}`, "image_id"},
		{"missing detections", `{"image_id":"i","context":{"site_id":"S"}}`, "detections"},
		{"missing context", `{"image_id":"i","detections":[]}`, "context"},
		{"missing site id", `{"image_id":"i","detections":[],"context":{}}`, "context.site_id"},
		{"missing confidence", `{"image_id":"i","detections":[{"id":"d","substance_pred":"oil"}],"context":{"site_id":"S"}}`, "detections[0].confidence"},
		{"missing detection id", `{"image_id":"i","detections":[{"substance_pred":"oil","confidence":0.3}],"context":{"site_id":"S"}}`, "detections[0].id"},
		{"negative production", `{"image_id":"i","detections":[],"context":{"site_id":"S","production_value_per_hour":-1}}`, "context.production_value_per_hour"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(router, "/risk/analyze", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)

			var resp struct {
				Error   string `json:"error"`
				Details []struct {
					Field string `json:"field"`
				} `json:"details"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "invalid_request", resp.Error)

			var fields []string
			for _, d := range resp.Details {
				fields = append(fields, d.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}

	assert.Empty(t, events.analyses, "engine must not run for invalid requests")
}

func TestHandler_Analyze_MalformedJSON(t *testing.T) {
	router, _ := setupRouter(nil)

	for _, body := range []string{`{`, `{"image_id": 12}`, `{"image_id":"i","detections":[{"confidence":"high"}]}`} {
		w := post(router, "/risk/analyze", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Contains(t, w.Body.String(), "invalid_request")
	}
}

// ---------------------------------------------------------------------------
// POST /risk/report
// ---------------------------------------------------------------------------

func TestHandler_Report_200(t *testing.T) {
	router, events := setupRouter(&fakeRenderer{})

	before := counterValue(t, metrics.ReportsTotal.WithLabelValues("ok"))

	w := post(router, "/risk/report", validBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="incident_report.pdf"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "%PDF-1.3 img_001", w.Body.String())
	assert.Equal(t, []string{"SITE_001/img_001"}, events.reports)
	assert.Equal(t, before+1, counterValue(t, metrics.ReportsTotal.WithLabelValues("ok")))
}

func TestHandler_Report_RenderFailure(t *testing.T) {
	router, events := setupRouter(&fakeRenderer{err: errors.New("font missing")})

	w := post(router, "/risk/report", validBody)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "report_failed")
	assert.Empty(t, events.reports)
}

func TestHandler_FansOutToEveryEmitter(t *testing.T) {
	hub, alerts := &recordingEmitter{}, &recordingEmitter{}
	h := NewHandler(NewEngine("EUR"), &fakeRenderer{}).WithEvents(hub, nil).WithEvents(alerts)
	r := gin.New()
	h.RegisterRoutes(r.Group(""))

	require.Equal(t, http.StatusOK, post(r, "/risk/analyze", validBody).Code)
	require.Equal(t, http.StatusOK, post(r, "/risk/report", validBody).Code)

	for _, e := range []*recordingEmitter{hub, alerts} {
		assert.Equal(t, []string{"SITE_001/img_001", "SITE_001/img_001"}, e.analyses)
		assert.Equal(t, []string{"SITE_001/img_001"}, e.reports)
	}
}

func TestHandler_EmittersReceiveRequestTrace(t *testing.T) {
	router, events := setupRouter(&fakeRenderer{})

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(),
		trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled}))

	for _, path := range []string{"/risk/analyze", "/risk/report"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", path, bytes.NewBufferString(validBody)).WithContext(ctx)
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code, path)
	}

	assert.Equal(t, []trace.TraceID{traceID, traceID}, events.traceIDs)
}

func TestHandler_Report_NotRegisteredWithoutRenderer(t *testing.T) {
	router, _ := setupRouter(nil)

	w := post(router, "/risk/report", validBody)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ---------------------------------------------------------------------------
// Request conversion
// ---------------------------------------------------------------------------

func TestNewAnalyzeRequest_RoundTrip(t *testing.T) {
	det, ctx := oilNearMachine()

	req := NewAnalyzeRequest("img", []Detection{det}, ctx)
	require.Nil(t, req.Validate())

	dets, got := req.Domain()
	assert.Equal(t, []Detection{det}, dets)
	assert.Equal(t, ctx, got)
}
