// Package worker scores requests arriving on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/opensource-finance/fraudlens/internal/domain"
)

// globalTenantID subscribes a worker that serves requests of any tenant
// named in the payload.
const globalTenantID = "_global"

// defaultTenantID scores global requests that name no tenant, matching the
// HTTP API.
const defaultTenantID = "default"

var tenantPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]{0,63}$`)

// Scorer runs one sample through the scoring pipeline.
type Scorer interface {
	Score(ctx context.Context, tenantID, requestID string, features map[string]any) (*domain.Prediction, error)
}

// Worker consumes TopicScoreRequested messages.
type Worker struct {
	bus    domain.EventBus
	scorer Scorer

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to serve. Empty subscribes a single
	// global worker.
	TenantIDs []string
}

// Reply is the response to a score request sent through Request.
type Reply struct {
	Prediction *domain.Prediction `json:"prediction,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, scorer Scorer) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		scorer: scorer,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to score requests of the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.subscribe(globalTenantID)
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.subscribe(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started", "tenant_count", len(cfg.TenantIDs))
	return nil
}

func (w *Worker) subscribe(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicScoreRequested, w.handleMessage)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicScoreRequested,
	)
	return nil
}

// resolveTenant picks the tenant a request is scored under. Only the global
// subscription takes it from the payload; a tenant subscription rejects a
// payload naming any other tenant.
func resolveTenant(subscription, payload string) (string, error) {
	if subscription != globalTenantID {
		if payload != "" && payload != subscription {
			return "", fmt.Errorf("tenant %q does not match subscription tenant %q", payload, subscription)
		}
		return subscription, nil
	}
	if payload == "" {
		return defaultTenantID, nil
	}
	if !tenantPattern.MatchString(payload) {
		return "", fmt.Errorf("invalid tenant id %q", payload)
	}
	return payload, nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var req domain.ScoreRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.reply(ctx, msg, Reply{Error: "invalid score request: " + err.Error()})
		return fmt.Errorf("failed to parse score request: %w", err)
	}

	tenantID, err := resolveTenant(msg.TenantID, req.TenantID)
	if err != nil {
		w.reply(ctx, msg, Reply{Error: err.Error()})
		slog.Warn("score request rejected",
			"subscription_tenant", msg.TenantID,
			"payload_tenant", req.TenantID,
			"error", err,
		)
		return nil
	}
	requestID := req.RequestID
	if requestID == "" {
		requestID = msg.ID
	}

	p, err := w.scorer.Score(ctx, tenantID, requestID, req.Features)
	if err != nil {
		w.reply(ctx, msg, Reply{Error: err.Error()})
		slog.Warn("score request failed",
			"tenant_id", tenantID,
			"request_id", requestID,
			"error", err,
		)
		return nil
	}

	w.reply(ctx, msg, Reply{Prediction: p})

	slog.Info("score request processed",
		"tenant_id", tenantID,
		"request_id", requestID,
		"prediction_id", p.ID,
		"decision", p.Result.Decision(),
		"hybrid_score", p.Result.HybridScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) reply(ctx context.Context, msg *domain.Message, r Reply) {
	payload, err := json.Marshal(r)
	if err != nil {
		slog.Error("failed to encode reply", "message_id", msg.ID, "error", err)
		return
	}
	if err := w.bus.Reply(ctx, msg, payload); err != nil {
		slog.Error("failed to send reply", "message_id", msg.ID, "error", err)
	}
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
