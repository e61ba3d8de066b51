// Package replay rebuilds aggregates by folding their events, oldest first,
// into the aggregate's zero value.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gyaneshwarpardhi/chronicle/internal/event"
	"github.com/gyaneshwarpardhi/chronicle/internal/metrics"
	"github.com/gyaneshwarpardhi/chronicle/internal/storage"
)

var tracer = otel.Tracer("github.com/gyaneshwarpardhi/chronicle/internal/replay")

// Restorer merges one event into an aggregate. Fields present in the payload
// are overwritten, absent fields are left alone.
type Restorer interface {
	Restore(evt event.Event) error
}

// Reconstructor replays aggregates from an event log.
type Reconstructor struct {
	log     storage.EventLog
	workers int
	logger  *slog.Logger
}

// New creates a Reconstructor folding up to workers aggregates concurrently.
func New(log storage.EventLog, workers int, logger *slog.Logger) *Reconstructor {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconstructor{log: log, workers: workers, logger: logger}
}

// History returns the events of one aggregate (any kind) in replay order.
func (r *Reconstructor) History(ctx context.Context, aggregateID string) ([]event.Event, error) {
	events, err := r.events(ctx)
	if err != nil {
		return nil, err
	}
	var history []event.Event
	for _, evt := range events {
		if evt.AggregateID == aggregateID {
			history = append(history, evt)
		}
	}
	sortChronologically(history)
	return history, nil
}

// Fold applies events in order to the zero value of T.
func Fold[T any, PT interface {
	*T
	Restorer
}](events []event.Event) (T, error) {
	var value T
	for _, evt := range events {
		if err := PT(&value).Restore(evt); err != nil {
			return value, fmt.Errorf("restore %s from event %s: %w", evt.AggregateID, evt.ID, err)
		}
	}
	return value, nil
}

// RestoreOne rebuilds a single aggregate. An aggregate without events is
// returned as the zero value.
func RestoreOne[T any, PT interface {
	*T
	Restorer
}](ctx context.Context, r *Reconstructor, aggregateID string) (T, error) {
	value, _, err := LoadOne[T, PT](ctx, r, aggregateID)
	return value, err
}

// LoadOne is RestoreOne that also reports how many events were folded, so a
// caller can tell an unknown aggregate from one whose events left it zero.
func LoadOne[T any, PT interface {
	*T
	Restorer
}](ctx context.Context, r *Reconstructor, aggregateID string) (T, int, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "replay.RestoreOne",
		trace.WithAttributes(attribute.String("aggregate_id", aggregateID)))
	defer span.End()

	var zero T
	history, err := r.History(ctx, aggregateID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return zero, 0, err
	}
	value, err := Fold[T, PT](history)
	if err != nil {
		metrics.MalformedPayloads.Inc()
		span.SetStatus(codes.Error, err.Error())
		return zero, len(history), err
	}

	metrics.EventsReplayed.WithLabelValues("one").Add(float64(len(history)))
	metrics.ReplayDuration.WithLabelValues("one").Observe(float64(time.Since(start).Milliseconds()))
	span.SetAttributes(attribute.Int("events", len(history)))
	return value, len(history), nil
}

// RestoreAll rebuilds every aggregate of kind. Each aggregate is folded
// independently; aggregates whose replay fails are left out of the result
// and reported together in a *MalformedError. Result order is unspecified.
func RestoreAll[T any, PT interface {
	*T
	Restorer
}](ctx context.Context, r *Reconstructor, kind string) ([]T, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "replay.RestoreAll",
		trace.WithAttributes(attribute.String("kind", kind)))
	defer span.End()

	events, err := r.events(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	groups, replayed := groupByAggregate(events, kind)
	if len(groups) == 0 {
		return []T{}, nil
	}

	values := make([]T, len(groups))
	failures := make([]error, len(groups))
	fold := func(_ context.Context, i int) {
		values[i], failures[i] = Fold[T, PT](groups[i].events)
	}
	pool := newWorkerPool(ctx, min(r.workers, len(groups)), len(groups), fold)
	for i := range groups {
		if !pool.Submit(i) {
			fold(ctx, i)
		}
	}
	pool.Drain()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]T, 0, len(groups))
	malformed := &MalformedError{Kind: kind}
	for i, g := range groups {
		if failures[i] != nil {
			malformed.add(g.aggregateID, failures[i])
			continue
		}
		out = append(out, values[i])
	}
	if err := malformed.OrNil(); err != nil {
		metrics.MalformedPayloads.Add(float64(len(malformed.Aggregates)))
		r.logger.Warn("aggregates left out of replay", "kind", kind, "aggregates", malformed.Aggregates, "err", err)
		span.RecordError(err)
	}

	metrics.EventsReplayed.WithLabelValues("all").Add(float64(replayed))
	metrics.ReplayDuration.WithLabelValues("all").Observe(float64(time.Since(start).Milliseconds()))
	span.SetAttributes(attribute.Int("aggregates", len(out)), attribute.Int("events", replayed))
	return out, malformed.OrNil()
}

// events reads the whole log. Corrupt records are logged, counted and
// skipped so that every readable event stays available.
func (r *Reconstructor) events(ctx context.Context) ([]event.Event, error) {
	events, err := r.log.All(ctx)
	var corrupt *storage.CorruptError
	if errors.As(err, &corrupt) {
		metrics.CorruptRecords.Add(float64(len(corrupt.Positions)))
		r.logger.Warn("skipping corrupt events",
			"collection", corrupt.Collection, "positions", corrupt.Positions, "err", corrupt.Err)
		return events, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	return events, nil
}

type group struct {
	aggregateID string
	events      []event.Event
}

// groupByAggregate keeps groups in order of first appearance and events in
// append order before sorting each group.
func groupByAggregate(events []event.Event, kind string) ([]group, int) {
	index := make(map[string]int)
	var groups []group
	n := 0
	for _, evt := range events {
		if evt.Kind != kind {
			continue
		}
		n++
		i, ok := index[evt.AggregateID]
		if !ok {
			i = len(groups)
			index[evt.AggregateID] = i
			groups = append(groups, group{aggregateID: evt.AggregateID})
		}
		groups[i].events = append(groups[i].events, evt)
	}
	for i := range groups {
		sortChronologically(groups[i].events)
	}
	return groups, n
}

// sortChronologically orders by timestamp; equal timestamps keep append order.
func sortChronologically(events []event.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})
}

// MalformedError lists the aggregates that could not be replayed.
type MalformedError struct {
	Kind       string
	Aggregates []string
	errs       []error
}

func (e *MalformedError) add(aggregateID string, err error) {
	e.Aggregates = append(e.Aggregates, aggregateID)
	e.errs = append(e.errs, err)
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s: %d aggregate(s) could not be replayed [%s]: %v",
		e.Kind, len(e.Aggregates), strings.Join(e.Aggregates, ", "), errors.Join(e.errs...))
}

// Unwrap exposes each aggregate's failure, so errors.Is matches
// event.ErrPayloadMalformed.
func (e *MalformedError) Unwrap() []error {
	return e.errs
}

// OrNil returns e when at least one aggregate failed.
func (e *MalformedError) OrNil() error {
	if len(e.Aggregates) == 0 {
		return nil
	}
	return e
}
