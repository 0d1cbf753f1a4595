package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"driveguard/internal/store"
)

// Publisher turns analysis events into queued deliveries, one per matching subscription.
type Publisher struct {
	Store  store.Store
	Logger *zap.Logger
	now    func() time.Time
}

func NewPublisher(s store.Store, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{Store: s, Logger: logger, now: time.Now}
}

// Payload is the JSON body POSTed to subscribers.
type Payload struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	OrganizationID string    `json:"organization_id"`
	Timestamp      time.Time `json:"ts"`
	Data           any       `json:"data"`
}

// Emit enqueues eventType for every subscription of the organization and returns the
// number of deliveries queued.
func (p *Publisher) Emit(ctx context.Context, orgID, eventType string, data any) (int, error) {
	if p == nil || orgID == "" {
		return 0, nil
	}
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, orgID, eventType)
	if err != nil {
		return 0, fmt.Errorf("load subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return 0, nil
	}
	body, err := json.Marshal(Payload{
		ID:             "evt_" + uuid.NewString(),
		Type:           eventType,
		OrganizationID: orgID,
		Timestamp:      p.now().UTC().Truncate(time.Second),
		Data:           data,
	})
	if err != nil {
		return 0, fmt.Errorf("encode event: %w", err)
	}
	queued := 0
	for _, s := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, orgID, s.ID, eventType, s.URL, s.Secret, body); err != nil {
			p.Logger.Warn("enqueue webhook failed", zap.String("subscription_id", s.ID), zap.Error(err))
			continue
		}
		queued++
	}
	return queued, nil
}
