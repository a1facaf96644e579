package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/treloxai/riskops/internal/risk"
)

var (
	webhookEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskops",
		Subsystem: "webhook",
		Name:      "emit_total",
		Help:      "Total webhook emit attempts by event type.",
	}, []string{"event_type"})

	webhookEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskops",
		Subsystem: "webhook",
		Name:      "emit_errors_total",
		Help:      "Total webhook emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(webhookEmitTotal, webhookEmitErrors)
}

// Alert is the data of risk events.
type Alert struct {
	SiteID          string     `json:"siteId"`
	ZoneID          string     `json:"zoneId,omitempty"`
	ZoneType        string     `json:"zoneType,omitempty"`
	ImageID         string     `json:"imageId"`
	Level           risk.Level `json:"level"`
	Score           float64    `json:"score"`
	MitigatedLevel  risk.Level `json:"mitigatedLevel"`
	MitigatedScore  float64    `json:"mitigatedScore"`
	EstimatedCost   float64    `json:"estimatedCost"`
	MitigatedCost   float64    `json:"mitigatedCost"`
	Currency        string     `json:"currency"`
	Recommendations []string   `json:"recommendations"`
}

// NewAlert summarizes a result for subscribers.
func NewAlert(site risk.Context, r *risk.RiskResult) *Alert {
	return &Alert{
		SiteID:          site.SiteID,
		ZoneID:          site.ZoneID,
		ZoneType:        site.ZoneType,
		ImageID:         r.ImageID,
		Level:           r.GlobalSeverityLevel,
		Score:           r.GlobalSeverityScore,
		MitigatedLevel:  r.MitigatedSeverityLevel,
		MitigatedScore:  r.MitigatedSeverityScore,
		EstimatedCost:   r.EstimatedCost,
		MitigatedCost:   r.MitigatedCost,
		Currency:        r.Currency,
		Recommendations: r.Recommendations,
	}
}

// Emitter turns completed analyses into webhook events. All methods are
// fire-and-forget: errors are logged but never returned.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

// EmitAnalysis emits a risk.analyzed event. The span in ctx is propagated to
// subscribers; its cancellation is not.
func (e *Emitter) EmitAnalysis(ctx context.Context, site risk.Context, result *risk.RiskResult) {
	e.emit(ctx, EventRiskAnalyzed, site, result)
}

// EmitReport emits a report.generated event.
func (e *Emitter) EmitReport(ctx context.Context, site risk.Context, result *risk.RiskResult) {
	e.emit(ctx, EventReportGenerated, site, result)
}

// Drain waits for in-flight deliveries.
func (e *Emitter) Drain(ctx context.Context) error {
	if e == nil || e.d == nil {
		return nil
	}
	return e.d.Wait(ctx)
}

func (e *Emitter) emit(ctx context.Context, eventType EventType, site risk.Context, result *risk.RiskResult) {
	if e == nil || e.d == nil || result == nil {
		return
	}
	webhookEmitTotal.WithLabelValues(string(eventType)).Inc()
	event := &Event{
		ID:        "evt_" + uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Level:     result.GlobalSeverityLevel,
		Data:      NewAlert(site, result),
	}
	if err := e.d.Dispatch(ctx, event); err != nil {
		webhookEmitErrors.WithLabelValues(string(eventType)).Inc()
		e.logger.Warn("webhook emit failed", "event", eventType, "image_id", result.ImageID, "error", err)
	}
}
