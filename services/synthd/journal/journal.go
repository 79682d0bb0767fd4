package journal

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"otcswap/core/events"
	"otcswap/observability"
	"otcswap/services/synthd/storage"
)

const (
	appendTimeout    = 5 * time.Second
	subscriberBuffer = 64
)

type eventMetrics interface {
	RecordEvent(eventType string)
	AddSubscribers(delta int)
}

// Journal is the daemon's event emitter: committed engine events are
// appended to the SQLite journal and then fanned out to live subscribers.
type Journal struct {
	store   *storage.Storage
	logger  *log.Logger
	now     func() time.Time
	metrics eventMetrics

	mu     sync.Mutex
	nextID int
	subs   map[int]chan storage.EventRecord
}

// New constructs a journal backed by store.
func New(store *storage.Storage, logger *log.Logger) (*Journal, error) {
	if store == nil {
		return nil, fmt.Errorf("storage required")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Journal{
		store:   store,
		logger:  logger,
		now:     time.Now,
		metrics: observability.Events(),
		subs:    make(map[int]chan storage.EventRecord),
	}, nil
}

// WithClock overrides the timestamp recorded for journal rows.
func (j *Journal) WithClock(now func() time.Time) {
	if j == nil || now == nil {
		return
	}
	j.now = now
}

// Emit implements events.Emitter. Persistence failures are logged; the engine
// has already committed by the time events are emitted.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || evt == nil {
		return
	}
	flat := events.Flatten(evt)
	rec := storage.EventRecord{
		OperationID: flat.Attributes["operationId"],
		Type:        flat.Type,
		Attributes:  flat.Attributes,
		RecordedAt:  j.now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	id, err := j.store.AppendEvent(ctx, rec)
	if err != nil {
		j.logger.Printf("synthd: journal %s: %v", rec.Type, err)
		return
	}
	rec.ID = id
	j.metrics.RecordEvent(rec.Type)
	j.broadcast(rec)
}

func (j *Journal) broadcast(rec storage.EventRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for id, ch := range j.subs {
		select {
		case ch <- rec:
		default:
			// a subscriber that cannot keep up is dropped and must resume
			// from its cursor
			close(ch)
			delete(j.subs, id)
			j.metrics.AddSubscribers(-1)
			j.logger.Printf("synthd: dropped slow event subscriber %d", id)
		}
	}
}

// Subscribe registers a live subscriber and returns the journal backlog after
// cursor. Live records may overlap the backlog; callers skip ids they have
// already delivered.
func (j *Journal) Subscribe(ctx context.Context, cursor int64, limit int) (<-chan storage.EventRecord, func(), []storage.EventRecord, error) {
	if j == nil {
		return nil, nil, nil, fmt.Errorf("journal not configured")
	}
	ch := make(chan storage.EventRecord, subscriberBuffer)
	j.mu.Lock()
	id := j.nextID
	j.nextID++
	j.subs[id] = ch
	j.mu.Unlock()
	j.metrics.AddSubscribers(1)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			j.mu.Lock()
			defer j.mu.Unlock()
			if existing, ok := j.subs[id]; ok {
				close(existing)
				delete(j.subs, id)
				j.metrics.AddSubscribers(-1)
			}
		})
	}
	backlog, err := j.store.ListEvents(ctx, cursor, limit)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return ch, cancel, backlog, nil
}

// List returns journal records after cursor.
func (j *Journal) List(ctx context.Context, cursor int64, limit int) ([]storage.EventRecord, error) {
	if j == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	return j.store.ListEvents(ctx, cursor, limit)
}
