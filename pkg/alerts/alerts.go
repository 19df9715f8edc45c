// Package alerts forwards unexpected failures to an external notification channel.
// Reporting is fire-and-forget: callers never wait on delivery and never see its errors.
package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const publishTimeout = 5 * time.Second

// Reporter receives unexpected errors.
type Reporter interface {
	Report(ctx context.Context, err error, fields map[string]any)
}

// Alert is the message published for each reported error.
type Alert struct {
	Service    string         `json:"service"`
	Message    string         `json:"message"`
	Fields     map[string]any `json:"fields,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// LogReporter writes alerts to the structured log only.
type LogReporter struct {
	logg *logger.Logger
}

func NewLogReporter(logg *logger.Logger) *LogReporter {
	return &LogReporter{logg: logg}
}

func (r *LogReporter) Report(ctx context.Context, err error, fields map[string]any) {
	if r == nil || r.logg == nil || err == nil {
		return
	}
	r.logg.Error(r.logg.WithFields(ctx, fields), "alert raised", err)
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

// PubSubReporter publishes alerts to the alerts topic and logs them as well.
type PubSubReporter struct {
	pub     publisher
	service string
	logg    *logger.Logger
	now     func() time.Time
}

func NewPubSubReporter(p *gcppubsub.Publisher, service string, logg *logger.Logger) (*PubSubReporter, error) {
	if p == nil {
		return nil, errors.New("alerts publisher required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &PubSubReporter{
		pub:     gcpPublisher{p},
		service: service,
		logg:    logg,
		now:     time.Now,
	}, nil
}

// Report publishes in the background; delivery failures are logged.
func (r *PubSubReporter) Report(ctx context.Context, err error, fields map[string]any) {
	if r == nil || err == nil {
		return
	}
	logCtx := r.logg.WithFields(ctx, fields)
	r.logg.Error(logCtx, "alert raised", err)

	data, mErr := json.Marshal(Alert{
		Service:    r.service,
		Message:    err.Error(),
		Fields:     fields,
		OccurredAt: r.now().UTC(),
	})
	if mErr != nil {
		r.logg.Error(logCtx, "failed to encode alert", mErr)
		return
	}

	go func() {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		result := r.pub.Publish(pubCtx, &gcppubsub.Message{
			Data:       data,
			Attributes: map[string]string{"service": r.service},
		})
		if result == nil {
			return
		}
		if _, pErr := result.Get(pubCtx); pErr != nil {
			r.logg.Error(logCtx, "failed to publish alert", pErr)
		}
	}()
}

type gcpPublisher struct {
	p *gcppubsub.Publisher
}

func (g gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return g.p.Publish(ctx, msg)
}
