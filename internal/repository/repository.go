// Package repository implements the write/read facade for one entity kind:
// writes append events to the log and keep a denormalized list document in
// step; reads come either from that list or from a replay of the log.
package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gyaneshwarpardhi/chronicle/internal/event"
	"github.com/gyaneshwarpardhi/chronicle/internal/metrics"
	"github.com/gyaneshwarpardhi/chronicle/internal/replay"
	"github.com/gyaneshwarpardhi/chronicle/internal/storage"
)

var tracer = otel.Tracer("github.com/gyaneshwarpardhi/chronicle/internal/repository")

var (
	// ErrNotFound indicates the entity is not present.
	ErrNotFound = errors.New("entity not found")
	// ErrCacheStale indicates the event was appended but the list document
	// could not be written. The log remains authoritative; Repair resyncs.
	ErrCacheStale = errors.New("list cache is stale")
)

// Entity is the identity and freshness every stored kind exposes.
type Entity interface {
	EntityID() string
	EntityTimestamp() int64
}

// Config names the kind and wires the collaborators.
type Config struct {
	Kind        string // event kind tag
	DocumentKey string // key of the denormalized list; defaults to Kind
	Log         storage.EventLog
	Documents   storage.DocumentStore
	Replayer    *replay.Reconstructor
	Clock       event.Clock
	Logger      *slog.Logger
}

// Repository stores one entity kind.
type Repository[T any, PT interface {
	*T
	Entity
	replay.Restorer
}] struct {
	kind   string
	key    string
	log    storage.EventLog
	docs   storage.DocumentStore
	rec    *replay.Reconstructor
	now    event.Clock
	logger *slog.Logger

	// mu serializes writers so the list read, the event append and the list
	// write of one operation are never interleaved with another's.
	mu sync.Mutex
}

// New builds a Repository from cfg.
func New[T any, PT interface {
	*T
	Entity
	replay.Restorer
}](cfg Config) *Repository[T, PT] {
	key := cfg.DocumentKey
	if key == "" {
		key = cfg.Kind
	}
	now := cfg.Clock
	if now == nil {
		now = event.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := cfg.Replayer
	if rec == nil {
		rec = replay.New(cfg.Log, 1, logger)
	}
	return &Repository[T, PT]{
		kind:   cfg.Kind,
		key:    key,
		log:    cfg.Log,
		docs:   cfg.Documents,
		rec:    rec,
		now:    now,
		logger: logger.With("kind", cfg.Kind),
	}
}

// Kind returns the event kind this repository writes.
func (r *Repository[T, PT]) Kind() string { return r.kind }

// Now returns the repository clock's current time.
func (r *Repository[T, PT]) Now() int64 { return r.now() }

// Create appends a creation event carrying the whole entity, then adds the
// entity to the list document. A list failure after the append is reported
// as ErrCacheStale together with the created entity.
func (r *Repository[T, PT]) Create(ctx context.Context, entity T) (T, error) {
	id := PT(&entity).EntityID()
	ctx, span := r.start(ctx, "repository.Create", id)
	defer span.End()

	payload, err := event.EncodeCreate(entity)
	if err != nil {
		return r.fail(span, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.append(ctx, id, payload); err != nil {
		return r.fail(span, err)
	}

	err = r.docs.Update(ctx, r.key, func(current []byte) ([]byte, error) {
		list, err := r.decodeList(current)
		if err != nil {
			return nil, err
		}
		return r.encodeList(append(list, entity))
	})
	if err != nil {
		return entity, r.stale(span, id, err)
	}
	return entity, nil
}

// Update loads the entity from the list document (not a replay), applies
// mutate to a copy, appends an event holding only the changed fields, and
// writes the new value back to the list.
func (r *Repository[T, PT]) Update(ctx context.Context, id string, mutate func(*T)) (T, error) {
	ctx, span := r.start(ctx, "repository.Update", id)
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	list, err := r.load(ctx)
	if err != nil {
		return r.fail(span, err)
	}
	i := r.indexOf(list, id)
	if i < 0 {
		return r.fail(span, fmt.Errorf("%s %s: %w", r.kind, id, ErrNotFound))
	}

	before := list[i]
	after := before
	mutate(&after)

	payload, err := event.EncodeDiff(before, after)
	if err != nil {
		return r.fail(span, err)
	}
	if err := r.append(ctx, id, payload); err != nil {
		return r.fail(span, err)
	}

	err = r.docs.Update(ctx, r.key, func(current []byte) ([]byte, error) {
		list, err := r.decodeList(current)
		if err != nil {
			return nil, err
		}
		if i := r.indexOf(list, id); i >= 0 {
			list[i] = after
		} else {
			list = append(list, after)
		}
		return r.encodeList(list)
	})
	if err != nil {
		return after, r.stale(span, id, err)
	}
	return after, nil
}

// Delete removes the entity from the list document only. No event is
// appended, so replay still reconstructs the entity.
func (r *Repository[T, PT]) Delete(ctx context.Context, id string) error {
	ctx, span := r.start(ctx, "repository.Delete", id)
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.docs.Update(ctx, r.key, func(current []byte) ([]byte, error) {
		list, err := r.decodeList(current)
		if err != nil {
			return nil, err
		}
		i := r.indexOf(list, id)
		if i < 0 {
			return nil, fmt.Errorf("%s %s: %w", r.kind, id, ErrNotFound)
		}
		return r.encodeList(append(list[:i], list[i+1:]...))
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// List returns the list document, newest first.
func (r *Repository[T, PT]) List(ctx context.Context) ([]T, error) {
	list, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	r.sortNewestFirst(list)
	return list, nil
}

// Get replays a single entity from the log.
func (r *Repository[T, PT]) Get(ctx context.Context, id string) (T, error) {
	entity, n, err := replay.LoadOne[T, PT](ctx, r.rec, id)
	if err != nil {
		return entity, err
	}
	if n == 0 {
		return entity, fmt.Errorf("%s %s: %w", r.kind, id, ErrNotFound)
	}
	return entity, nil
}

// History returns the events of one entity in replay order.
func (r *Repository[T, PT]) History(ctx context.Context, id string) ([]event.Event, error) {
	history, err := r.rec.History(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%s %s: %w", r.kind, id, ErrNotFound)
	}
	return history, nil
}

// Replay rebuilds every entity of the kind from the log, newest first. A
// *replay.MalformedError is returned alongside the entities that could be
// rebuilt.
func (r *Repository[T, PT]) Replay(ctx context.Context) ([]T, error) {
	entities, err := replay.RestoreAll[T, PT](ctx, r.rec, r.kind)
	r.sortNewestFirst(entities)
	return entities, err
}

// Divergence describes how the list document differs from a replay.
type Divergence struct {
	Missing   []string `json:"missing"`   // replayed but not listed
	Extra     []string `json:"extra"`     // listed but never replayed
	Changed   []string `json:"changed"`   // listed with a value differing from replay
	Malformed []string `json:"malformed"` // in the log but not replayable, so not compared
}

// Consistent reports whether the list matches the replay of every aggregate
// that could be replayed. Malformed aggregates are not taken into account.
func (d Divergence) Consistent() bool {
	return len(d.Missing) == 0 && len(d.Extra) == 0 && len(d.Changed) == 0
}

// Verify compares the list document with a replay of the log. Entities
// removed with Delete show up as Missing. Aggregates whose events cannot be
// replayed are listed in Malformed and left out of the comparison.
func (r *Repository[T, PT]) Verify(ctx context.Context) (Divergence, error) {
	ctx, span := r.start(ctx, "repository.Verify", "")
	defer span.End()

	// A write in flight holds mu between its append and its list write.
	r.mu.Lock()
	defer r.mu.Unlock()

	listed, err := r.load(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Divergence{}, err
	}
	replayed, err := r.Replay(ctx)
	var malformed *replay.MalformedError
	if err != nil && !errors.As(err, &malformed) {
		span.SetStatus(codes.Error, err.Error())
		return Divergence{}, err
	}

	d := Divergence{Missing: []string{}, Extra: []string{}, Changed: []string{}, Malformed: []string{}}
	if malformed != nil {
		d.Malformed = append(d.Malformed, malformed.Aggregates...)
	}

	cached := make(map[string][]byte, len(listed))
	for i := range listed {
		data, err := json.Marshal(listed[i])
		if err != nil {
			return Divergence{}, fmt.Errorf("%w: %w", storage.ErrEncoding, err)
		}
		cached[PT(&listed[i]).EntityID()] = data
	}

	for _, id := range d.Malformed {
		delete(cached, id)
	}

	for i := range replayed {
		id := PT(&replayed[i]).EntityID()
		data, err := json.Marshal(replayed[i])
		if err != nil {
			return Divergence{}, fmt.Errorf("%w: %w", storage.ErrEncoding, err)
		}
		listedData, ok := cached[id]
		switch {
		case !ok:
			d.Missing = append(d.Missing, id)
		case !bytes.Equal(listedData, data):
			d.Changed = append(d.Changed, id)
		}
		delete(cached, id)
	}
	for id := range cached {
		d.Extra = append(d.Extra, id)
	}
	sort.Strings(d.Missing)
	sort.Strings(d.Extra)
	sort.Strings(d.Changed)
	sort.Strings(d.Malformed)
	return d, nil
}

// Repair rewrites the list document from a replay of the log. Entities that
// cannot be replayed are left out and reported in the returned error.
func (r *Repository[T, PT]) Repair(ctx context.Context) (int, error) {
	ctx, span := r.start(ctx, "repository.Repair", "")
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	entities, replayErr := r.Replay(ctx)
	var malformed *replay.MalformedError
	if replayErr != nil && !errors.As(replayErr, &malformed) {
		span.SetStatus(codes.Error, replayErr.Error())
		return 0, replayErr
	}

	err := r.docs.Update(ctx, r.key, func([]byte) ([]byte, error) {
		return r.encodeList(entities)
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	metrics.CacheRepairs.WithLabelValues(r.kind).Inc()
	r.logger.Info("list cache rebuilt from event log", "entities", len(entities))
	return len(entities), replayErr
}

func (r *Repository[T, PT]) append(ctx context.Context, id string, payload json.RawMessage) error {
	evt := event.New(r.kind, id, payload, r.now())
	if err := r.log.Append(ctx, evt); err != nil {
		metrics.AppendErrors.WithLabelValues(r.kind).Inc()
		return fmt.Errorf("append %s event for %s: %w", r.kind, id, err)
	}
	metrics.EventsAppended.WithLabelValues(r.kind).Inc()
	return nil
}

// load reads the list document. A document that cannot be decoded is
// reported as a *storage.CorruptError, never as an empty list.
func (r *Repository[T, PT]) load(ctx context.Context) ([]T, error) {
	doc, err := r.docs.Load(ctx, r.key)
	if err != nil {
		return nil, fmt.Errorf("load %s list: %w", r.kind, err)
	}
	return r.decodeList(doc)
}

func (r *Repository[T, PT]) decodeList(doc []byte) ([]T, error) {
	if doc == nil {
		return []T{}, nil
	}
	var list []T
	if err := json.Unmarshal(doc, &list); err != nil {
		return nil, &storage.CorruptError{Collection: r.key, Positions: []string{r.key}, Err: err}
	}
	if list == nil {
		list = []T{}
	}
	return list, nil
}

func (r *Repository[T, PT]) encodeList(list []T) ([]byte, error) {
	data, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("%w: %s list: %w", storage.ErrEncoding, r.kind, err)
	}
	return data, nil
}

func (r *Repository[T, PT]) indexOf(list []T, id string) int {
	for i := range list {
		if PT(&list[i]).EntityID() == id {
			return i
		}
	}
	return -1
}

func (r *Repository[T, PT]) sortNewestFirst(list []T) {
	sort.SliceStable(list, func(i, j int) bool {
		return PT(&list[i]).EntityTimestamp() > PT(&list[j]).EntityTimestamp()
	})
}

func (r *Repository[T, PT]) start(ctx context.Context, name, id string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("kind", r.kind)}
	if id != "" {
		attrs = append(attrs, attribute.String("aggregate_id", id))
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (r *Repository[T, PT]) fail(span trace.Span, err error) (T, error) {
	span.SetStatus(codes.Error, err.Error())
	var zero T
	return zero, err
}

func (r *Repository[T, PT]) stale(span trace.Span, id string, err error) error {
	metrics.CacheStaleWrites.WithLabelValues(r.kind).Inc()
	r.logger.Warn("event appended but list cache not updated", "aggregate_id", id, "err", err)
	span.SetStatus(codes.Error, err.Error())
	return fmt.Errorf("%w: %w", ErrCacheStale, err)
}
