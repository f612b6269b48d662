package pipeline

import (
	"context"
	"time"

	"quill/internal/logging"
	"quill/internal/recovery"
	"quill/internal/stream"
	"quill/internal/types"
)

// Publisher delivers stream events to the caller. The streaming channel is
// preferred; when it cannot accept a message the recovery policy decides
// whether the HTTP fallback takes over. Both transports carry the same
// request id, so the receiver observes one continuous stream regardless of
// which path each message took. Every published event is also recorded in
// the replay history.
type Publisher struct {
	channel  *stream.Channel
	fallback *stream.Fallback
	history  *stream.EventHistory
	recovery *recovery.Manager
	logger   logging.Logger
}

// NewPublisher creates a publisher. channel and fallback may each be nil;
// with both nil events are only recorded in the history.
func NewPublisher(channel *stream.Channel, fallback *stream.Fallback, history *stream.EventHistory, mgr *recovery.Manager, logger logging.Logger) *Publisher {
	return &Publisher{
		channel:  channel,
		fallback: fallback,
		history:  history,
		recovery: mgr,
		logger:   logging.OrNop(logger),
	}
}

// Publish delivers one event. Delivery failures never propagate to the
// pipeline: processing continues and the event stays replayable from
// history.
func (p *Publisher) Publish(ctx context.Context, ev types.StreamEvent) {
	env := types.ToEnvelope(ev)
	if p.history != nil {
		p.history.Record(env)
	}

	if p.channel != nil && p.channel.Send(env) {
		return
	}
	if p.fallback == nil {
		p.logger.Debug("no transport available, event %s for %s retained in history only",
			env.Type, env.RequestID)
		return
	}

	if err := p.fallback.Send(ctx, env); err != nil {
		decision := p.recovery.Decide(err)
		if decision.Policy == recovery.PolicyBackoff && decision.RetryAfter > 0 {
			select {
			case <-time.After(decision.RetryAfter):
				if retryErr := p.fallback.Send(ctx, env); retryErr == nil {
					return
				}
			case <-ctx.Done():
			}
		}
		p.logger.Warn("fallback delivery of %s for %s failed (%s): %v",
			env.Type, env.RequestID, decision.Policy, err)
	}
}
