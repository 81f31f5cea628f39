// Package events publishes dispatch outcomes to Redis pub/sub and NATS subjects.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/pavelanni/remedial/internal/model"
)

// Event kinds.
const (
	KindOutcome = "outcome"
	KindRun     = "run"
)

// Event is the JSON payload published for every outcome and once per run.
type Event struct {
	Kind    string                      `json:"kind"`
	RunID   string                      `json:"run_id"`
	Channel string                      `json:"channel"`
	Outcome *model.Outcome              `json:"outcome,omitempty"`
	Counts  map[model.OutcomeStatus]int `json:"counts,omitempty"`
	SentAt  time.Time                   `json:"sent_at"`
}

// Config holds the broker endpoints. Empty URLs disable the corresponding broker.
type Config struct {
	RedisURL     string
	RedisChannel string
	NATSURL      string
	NATSSubject  string
}

// Publisher fans events out to the configured brokers.
type Publisher struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
}

// New wraps existing clients. Either may be nil.
func New(redisClient *redis.Client, redisChannel string, natsConn *nats.Conn, natsSubject string) *Publisher {
	return &Publisher{
		redis:        redisClient,
		redisChannel: redisChannel,
		nats:         natsConn,
		natsSubject:  natsSubject,
	}
}

// Connect dials the brokers named in cfg.
func Connect(ctx context.Context, cfg Config) (*Publisher, error) {
	p := &Publisher{redisChannel: cfg.RedisChannel, natsSubject: cfg.NATSSubject}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		p.redis = redis.NewClient(opts)
		if err := p.redis.Ping(ctx).Err(); err != nil {
			_ = p.redis.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
	}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("remedial"))
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		p.nats = nc
	}
	return p, nil
}

// Enabled reports whether at least one broker is configured.
func (p *Publisher) Enabled() bool {
	return p != nil && ((p.redis != nil && p.redisChannel != "") || (p.nats != nil && p.natsSubject != ""))
}

// PublishRun publishes one event per outcome followed by a run summary event.
func (p *Publisher) PublishRun(ctx context.Context, run model.DispatchRun) error {
	if !p.Enabled() {
		return nil
	}
	var errs []error
	for i := range run.Outcomes {
		ev := Event{Kind: KindOutcome, RunID: run.ID, Channel: run.Channel, Outcome: &run.Outcomes[i], SentAt: time.Now().UTC()}
		if err := p.publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	summary := Event{Kind: KindRun, RunID: run.ID, Channel: run.Channel, Counts: run.Counts(), SentAt: time.Now().UTC()}
	if err := p.publish(ctx, summary); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("publish run %s: %w", run.ID, errors.Join(errs...))
	}
	slog.Debug("published dispatch events", "run", run.ID, "events", len(run.Outcomes)+1)
	return nil
}

func (p *Publisher) publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	if p.redis != nil && p.redisChannel != "" {
		if err := p.redis.Publish(ctx, p.redisChannel, payload).Err(); err != nil {
			return fmt.Errorf("redis publish: %w", err)
		}
	}

	if p.nats != nil && p.natsSubject != "" {
		if err := p.nats.Publish(p.natsSubject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
	}

	return nil
}

// Close releases broker connections.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if p.redis != nil {
		_ = p.redis.Close()
	}
	if p.nats != nil {
		if err := p.nats.Drain(); err != nil {
			p.nats.Close()
		}
	}
}
