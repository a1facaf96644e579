// Package webhooks delivers risk alerts to external services.
//
// Subscriptions are configured endpoints (HSE paging, chat bridges, ticketing)
// that receive a signed JSON event whenever an analysis reaches their minimum
// severity level. Deliveries are asynchronous, retried with backoff on
// network errors and 5xx/429 responses, and guarded by a per-subscription
// circuit breaker.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/treloxai/riskops/internal/circuitbreaker"
	"github.com/treloxai/riskops/internal/retry"
	"github.com/treloxai/riskops/internal/risk"
	"github.com/treloxai/riskops/internal/security"
	"github.com/treloxai/riskops/internal/traces"
)

// EventType represents the type of webhook event
type EventType string

const (
	EventRiskAnalyzed    EventType = "risk.analyzed"
	EventReportGenerated EventType = "report.generated"
)

// AllEvents lists every event type a subscription can receive.
var AllEvents = []EventType{EventRiskAnalyzed, EventReportGenerated}

// Header names set on every delivery.
const (
	HeaderEvent     = "X-RiskOps-Event"
	HeaderDelivery  = "X-RiskOps-Delivery"
	HeaderTimestamp = "X-RiskOps-Timestamp"
	HeaderSignature = "X-RiskOps-Signature"
)

const (
	defaultDeliveryTimeout = 10 * time.Second
	maxErrorBody           = 512
)

var deliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "riskops",
	Subsystem: "webhook",
	Name:      "deliveries_total",
	Help:      "Webhook deliveries by outcome (ok, error, circuit_open).",
}, []string{"result"})

func init() {
	prometheus.MustRegister(deliveriesTotal)
}

// ErrNotFound is returned when a subscription does not exist.
var ErrNotFound = errors.New("webhook subscription not found")

// Event represents a webhook event
type Event struct {
	ID        string     `json:"id"`
	Type      EventType  `json:"type"`
	Timestamp time.Time  `json:"timestamp"`
	Level     risk.Level `json:"level"`
	Data      any        `json:"data"`
}

// Subscription represents a webhook subscription
type Subscription struct {
	ID          string      `json:"id"`
	URL         string      `json:"url"`
	Secret      string      `json:"-"` // Used for HMAC signing
	Events      []EventType `json:"events"`
	MinLevel    risk.Level  `json:"minLevel"`
	Active      bool        `json:"active"`
	CreatedAt   time.Time   `json:"createdAt"`
	LastSuccess *time.Time  `json:"lastSuccess,omitempty"`
	LastError   string      `json:"lastError,omitempty"`
}

// Wants reports whether the subscription should receive event.
func (s *Subscription) Wants(event *Event) bool {
	if !s.Active || !event.Level.AtLeast(s.MinLevel) {
		return false
	}
	for _, t := range s.Events {
		if t == event.Type {
			return true
		}
	}
	return false
}

// Store holds webhook subscriptions
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	List(ctx context.Context) ([]*Subscription, error)
	GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// DeliveryError is a non-2xx response from a subscriber.
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("status %d", e.StatusCode)
}

// Temporary reports whether the delivery may succeed if repeated.
func (e *DeliveryError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithRetryPolicy overrides the delivery retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

// WithBreaker overrides the per-subscription circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(d *Dispatcher) { d.breaker = b }
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// Dispatcher sends webhook events
type Dispatcher struct {
	store        Store
	client       *http.Client
	policy       retry.Policy
	breaker      *circuitbreaker.Breaker
	logger       *slog.Logger
	urlValidator func(string) error
	now          func() time.Time
	wg           sync.WaitGroup
}

// NewDispatcher creates a new webhook dispatcher
func NewDispatcher(store Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:        store,
		client:       &http.Client{Timeout: defaultDeliveryTimeout},
		policy:       retry.Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second},
		breaker:      circuitbreaker.New(5, time.Minute),
		logger:       slog.Default(),
		urlValidator: security.ValidateBaseURL,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch sends an event to every subscriber that wants it. Deliveries run
// in the background and outlive ctx's cancellation; use Wait to drain them.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	subs, err := d.store.GetByEvent(ctx, event.Type)
	if err != nil {
		return fmt.Errorf("failed to get subscribers: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	bg := context.WithoutCancel(ctx)
	for _, sub := range subs {
		if !sub.Wants(event) {
			continue
		}
		d.wg.Add(1)
		go func(sub Subscription) {
			defer d.wg.Done()
			_ = d.send(bg, &sub, event, payload)
		}(*sub)
	}

	return nil
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, event *Event, payload []byte) error {
	if err := d.urlValidator(sub.URL); err != nil {
		deliveriesTotal.WithLabelValues("error").Inc()
		d.updateError(ctx, sub, "invalid URL: "+err.Error())
		return err
	}

	err := d.breaker.Execute(ctx, sub.ID, isTemporary, func(ctx context.Context) error {
		return d.policy.Do(ctx, func(ctx context.Context) error {
			return d.post(ctx, sub, event, payload)
		})
	})

	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		deliveriesTotal.WithLabelValues("circuit_open").Inc()
		d.logger.Warn("webhook circuit open, skipping delivery", "subscription", sub.ID, "event", event.ID)
		d.updateError(ctx, sub, err.Error())
	case err != nil:
		deliveriesTotal.WithLabelValues("error").Inc()
		d.logger.Warn("webhook delivery failed", "subscription", sub.ID, "event", event.ID, "error", err)
		d.updateError(ctx, sub, err.Error())
	default:
		deliveriesTotal.WithLabelValues("ok").Inc()
		d.updateSuccess(ctx, sub)
	}
	return err
}

func (d *Dispatcher) post(ctx context.Context, sub *Subscription, event *Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(event.Type))
	req.Header.Set(HeaderDelivery, event.ID)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(event.Timestamp.Unix(), 10))
	traces.Inject(ctx, req.Header)

	// Sign the payload if secret is set
	if sub.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, sub.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	derr := &DeliveryError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	if !derr.Temporary() {
		return retry.Permanent(derr)
	}
	return derr
}

// isTemporary keeps subscriber 4xx responses from tripping the breaker.
func isTemporary(err error) bool {
	var derr *DeliveryError
	if errors.As(err, &derr) {
		return derr.Temporary()
	}
	return !retry.IsPermanent(err)
}

// Sign returns the signature header value for payload: "sha256=" followed
// by the hex HMAC-SHA256 of the body.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// Verify checks a signature header produced by Sign in constant time.
func Verify(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

func (d *Dispatcher) updateSuccess(ctx context.Context, sub *Subscription) {
	now := d.now().UTC()
	sub.LastSuccess = &now
	sub.LastError = ""
	if err := d.store.Update(ctx, sub); err != nil {
		d.logger.Warn("failed to record webhook success", "subscription", sub.ID, "error", err)
	}
}

func (d *Dispatcher) updateError(ctx context.Context, sub *Subscription, errMsg string) {
	sub.LastError = errMsg
	if err := d.store.Update(ctx, sub); err != nil {
		d.logger.Warn("failed to record webhook error", "subscription", sub.ID, "error", err)
	}
}

// MemoryStore is the in-process subscription store. Subscriptions come from
// configuration and live as long as the process.
type MemoryStore struct {
	subs  map[string]*Subscription
	order []string
	mu    sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs: make(map[string]*Subscription),
	}
}

func (m *MemoryStore) Create(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.subs[sub.ID]; exists {
		return fmt.Errorf("webhook subscription %q already exists", sub.ID)
	}
	cp := *sub
	m.subs[sub.ID] = &cp
	m.order = append(m.order, sub.ID)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Subscription, 0, len(m.order))
	for _, id := range m.order {
		cp := *m.subs[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error) {
	all, _ := m.List(ctx)
	var out []*Subscription
	for _, sub := range all {
		for _, t := range sub.Events {
			if t == eventType {
				out = append(out, sub)
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) Update(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.ID]; !ok {
		return ErrNotFound
	}
	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return ErrNotFound
	}
	delete(m.subs, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// NewEndpoints builds active subscriptions to every event for each URL, in
// order, with ids wh_1, wh_2, ...
func NewEndpoints(urls []string, secret string, minLevel risk.Level, now time.Time) []*Subscription {
	subs := make([]*Subscription, 0, len(urls))
	for i, u := range urls {
		subs = append(subs, &Subscription{
			ID:        "wh_" + strconv.Itoa(i+1),
			URL:       u,
			Secret:    secret,
			Events:    append([]EventType(nil), AllEvents...),
			MinLevel:  minLevel,
			Active:    true,
			CreatedAt: now.UTC(),
		})
	}
	return subs
}
