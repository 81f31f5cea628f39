// Package dispatch renders per-student notifications from a report and hands them to a
// delivery channel, recording one outcome per student.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pavelanni/remedial/internal/i18n"
	"github.com/pavelanni/remedial/internal/metrics"
	"github.com/pavelanni/remedial/internal/model"
	"github.com/pavelanni/remedial/internal/registry"
)

// DefaultTimeout bounds a single channel invocation when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// ErrTimeout reports a channel invocation that did not finish within the timeout.
var ErrTimeout = errors.New("timeout")

// Message is one rendered notification.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Channel delivers rendered messages.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Options configures a Dispatcher.
type Options struct {
	Timeout     time.Duration
	Teacher     string
	Institution string
	Lang        string
}

// Dispatcher sends one message per report row, sequentially and in roster order.
type Dispatcher struct {
	ch     Channel
	reg    *registry.Registry
	opts   Options
	tracer trace.Tracer
}

// New creates a Dispatcher.
func New(ch Channel, reg *registry.Registry, opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Lang == "" {
		opts.Lang = i18n.DefaultLang
	}
	return &Dispatcher{
		ch:     ch,
		reg:    reg,
		opts:   opts,
		tracer: otel.Tracer("github.com/pavelanni/remedial/internal/dispatch"),
	}
}

// HasAddress reports whether contact is a usable address. Blank and "0" are placeholders.
func HasAddress(contact string) bool {
	c := strings.TrimSpace(contact)
	return c != "" && c != "0"
}

// Dispatch attempts delivery for every row of rep. Per-student failures are recorded
// as outcomes and never stop the run. It returns an error only when ctx is cancelled,
// together with the outcomes collected so far.
func (d *Dispatcher) Dispatch(ctx context.Context, rep model.Report) (model.DispatchRun, error) {
	run := model.DispatchRun{
		ID:        uuid.NewString(),
		Channel:   d.ch.Name(),
		StartedAt: time.Now().UTC(),
		Outcomes:  make([]model.Outcome, 0, len(rep.Rows)),
	}

	ctx, span := d.tracer.Start(ctx, "dispatch.run", trace.WithAttributes(
		attribute.String("run_id", run.ID),
		attribute.String("channel", run.Channel),
		attribute.Int("students", len(rep.Rows)),
	))
	defer span.End()

	ctx = i18n.WithLang(ctx, d.opts.Lang)
	log := slog.With("run", run.ID, "channel", run.Channel)

	for _, row := range rep.Rows {
		if err := ctx.Err(); err != nil {
			run.FinishedAt = time.Now().UTC()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return run, fmt.Errorf("dispatch cancelled after %d of %d students: %w", len(run.Outcomes), len(rep.Rows), err)
		}

		out := d.dispatchOne(ctx, rep.Columns, row)
		metrics.DispatchOutcomes().WithLabelValues(run.Channel, string(out.Status)).Inc()
		switch out.Status {
		case model.OutcomeSent:
			log.Info("message sent", "student", out.StudentID, "to", out.Address)
		case model.OutcomeSkippedNoAddress:
			log.Info("skipping student without address", "student", out.StudentID, "name", out.Name)
		default:
			log.Warn("message failed", "student", out.StudentID, "to", out.Address, "reason", out.Reason)
		}
		run.Outcomes = append(run.Outcomes, out)
	}

	run.FinishedAt = time.Now().UTC()
	counts := run.Counts()
	span.SetAttributes(
		attribute.Int("sent", counts[model.OutcomeSent]),
		attribute.Int("failed", counts[model.OutcomeFailed]),
	)
	return run, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, columns []string, row model.ReportRow) model.Outcome {
	out := model.Outcome{StudentID: row.StudentID, Name: row.Name}
	if !HasAddress(row.Contact) {
		out.Status = model.OutcomeSkippedNoAddress
		return out
	}
	out.Address = strings.TrimSpace(row.Contact)
	row.Contact = out.Address

	msg, err := Render(ctx, d.reg, columns, row, d.opts.Teacher, d.opts.Institution)
	if err != nil {
		out.Status = model.OutcomeFailed
		out.Reason = err.Error()
		return out
	}

	start := time.Now()
	err = d.send(ctx, msg)
	metrics.DispatchSeconds().WithLabelValues(d.ch.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		out.Status = model.OutcomeFailed
		out.Reason = err.Error()
		return out
	}
	out.Status = model.OutcomeSent
	return out
}

// cancelGrace bounds the wait for a channel result after the caller cancels the run.
const cancelGrace = 100 * time.Millisecond

// send invokes the channel with a bounded wait. A channel that ignores its context
// is abandoned once the timeout elapses. A result that is already available when the
// context fires is reported as is.
func (d *Dispatcher) send(parent context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(parent, d.opts.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- d.ch.Send(ctx, msg)
	}()

	select {
	case err := <-done:
		return sendResult(parent, err)
	case <-ctx.Done():
	}

	select {
	case err := <-done:
		return sendResult(parent, err)
	default:
	}
	if parent.Err() == nil {
		return ErrTimeout
	}

	timer := time.NewTimer(cancelGrace)
	defer timer.Stop()
	select {
	case err := <-done:
		return sendResult(parent, err)
	case <-timer.C:
		return parent.Err()
	}
}

func sendResult(parent context.Context, err error) error {
	if err != nil && errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return ErrTimeout
	}
	return err
}
