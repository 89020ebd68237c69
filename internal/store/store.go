package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"rugs_go/internal/domain"
	"rugs_go/internal/event"
	"rugs_go/internal/infra"
)

// SchemaVersion of the batch file layout. Changes are additive only; readers
// of older batches stay valid.
const SchemaVersion = 1

// schemaFields is the column list recorded in the manifest.
var schemaFields = []string{"type", "ts", "game_id", "seq", "epoch", "data"}

// Status is the externally observable health of the store.
type Status int32

const (
	StatusOK Status = iota
	StatusDegraded
)

// String returns the string representation of Status
func (s Status) String() string {
	if s == StatusDegraded {
		return "DEGRADED"
	}
	return "OK"
}

// Manifest records the schema version and field list of the partition tree.
type Manifest struct {
	SchemaVersion int      `json:"schema_version"`
	Fields        []string `json:"fields"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
}

// batchFile is the on-disk batch layout: one array per column, row-aligned.
type batchFile struct {
	SchemaVersion int              `json:"schema_version"`
	Count         int              `json:"count"`
	Type          []string         `json:"type"`
	Ts            []int64          `json:"ts"`
	GameID        []string         `json:"game_id"`
	Seq           []uint64         `json:"seq"`
	Epoch         []uint64         `json:"epoch"`
	Data          []map[string]any `json:"data"`
}

// Store persists every normalized event into a partitioned batch-file tree
// keyed by (event category, date). Exactly one writer goroutine owns all
// disk mutation; producers only enqueue.
type Store struct {
	root       string
	inbox      chan event.Event
	batchSize  int
	flushEvery time.Duration
	metrics    *infra.Metrics

	status  atomic.Int32
	dropped atomic.Uint64
	batches atomic.Uint64
	nameSeq atomic.Uint64

	// pending holds events that failed to commit, retried on the next
	// flush and capped at the queue bound.
	pending []event.Event

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the store rooted at the given directory and writes the
// manifest. The queue bound caps memory under backpressure.
func New(root string, queueSize, batchSize int, flushEvery time.Duration, metrics *infra.Metrics) (*Store, error) {
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	if queueSize <= 0 {
		queueSize = 4096
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	if flushEvery <= 0 {
		flushEvery = 2 * time.Second
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data root: %w", err)
	}

	s := &Store{
		root:       root,
		inbox:      make(chan event.Event, queueSize),
		batchSize:  batchSize,
		flushEvery: flushEvery,
		metrics:    metrics,
	}

	if err := s.writeManifest(); err != nil {
		return nil, err
	}
	return s, nil
}

// Start launches the single writer goroutine.
func (s *Store) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

// Append enqueues an event for persistence. Never blocks the caller: when
// the queue is full the oldest entry is evicted, counted, and the store
// surfaces DEGRADED status.
func (s *Store) Append(ev event.Event) {
	for {
		select {
		case s.inbox <- ev:
			return
		default:
		}
		select {
		case <-s.inbox:
			s.recordDrop()
		default:
		}
	}
}

// HandleEvent is the bus subscription entry point.
func (s *Store) HandleEvent(ev event.Event) {
	s.Append(ev)
}

// Status returns the current health of the store.
func (s *Store) Status() Status {
	return Status(s.status.Load())
}

// Check reports ErrStoreDegraded while the store cannot commit batches.
func (s *Store) Check() error {
	if s.Status() == StatusDegraded {
		return domain.ErrStoreDegraded
	}
	return nil
}

// Dropped returns how many events were evicted under backpressure.
func (s *Store) Dropped() uint64 {
	return s.dropped.Load()
}

// BatchesCommitted returns how many batch files reached disk.
func (s *Store) BatchesCommitted() uint64 {
	return s.batches.Load()
}

// Close flushes outstanding events and stops the writer.
func (s *Store) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Store) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushEvery)
	defer ticker.Stop()

	batch := make([]event.Event, 0, s.batchSize)

	for {
		select {
		case <-ctx.Done():
			// Drain whatever is still queued, then final flush.
			for {
				select {
				case ev := <-s.inbox:
					batch = append(batch, ev)
				default:
					s.flush(batch)
					return
				}
			}
		case ev := <-s.inbox:
			batch = append(batch, ev)
			if len(batch) >= s.batchSize {
				batch = s.flush(batch)
			}
		case <-ticker.C:
			batch = s.flush(batch)
		}
	}
}

// flush commits the pending retry buffer plus the current batch. Returns the
// reusable empty batch slice. Failures keep events buffered up to the queue
// bound and flip the status to DEGRADED; they never stop the writer.
func (s *Store) flush(batch []event.Event) []event.Event {
	if len(s.pending) > 0 {
		batch = append(s.pending, batch...)
		s.pending = nil
	}
	if len(batch) == 0 {
		return batch[:0]
	}

	failed, err := s.commit(batch)
	if err != nil {
		s.setDegraded(true)
		slog.Error("Batch commit failed, buffering", slog.Any("error", err), slog.Int("events", len(failed)))

		// Retain up to the queue bound, dropping oldest beyond it.
		bound := cap(s.inbox)
		if len(failed) > bound {
			for range failed[:len(failed)-bound] {
				s.recordDrop()
			}
			failed = failed[len(failed)-bound:]
		}
		s.pending = append(s.pending, failed...)
		return make([]event.Event, 0, s.batchSize)
	}

	s.setDegraded(false)
	return batch[:0]
}

// commit groups the batch by (category, date) partition and commits one file
// per partition via write-to-temp plus atomic rename. A concurrent reader
// never observes a partial batch. Only the events of partitions that failed
// are returned for retry, so a partial failure never re-commits the
// partitions that already landed.
func (s *Store) commit(batch []event.Event) ([]event.Event, error) {
	partitions := make(map[string][]event.Event)
	for _, ev := range batch {
		date := time.UnixMilli(ev.Ts).UTC().Format("2006-01-02")
		key := filepath.Join(ev.Category(), date)
		partitions[key] = append(partitions[key], ev)
	}

	var failed []event.Event
	var firstErr error
	for key, evs := range partitions {
		dir := filepath.Join(s.root, key)
		err := os.MkdirAll(dir, 0755)
		if err == nil {
			err = s.commitPartition(dir, evs)
		}
		if err != nil {
			failed = append(failed, evs...)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return failed, firstErr
}

func (s *Store) commitPartition(dir string, evs []event.Event) error {
	bf := batchFile{
		SchemaVersion: SchemaVersion,
		Count:         len(evs),
		Type:          make([]string, 0, len(evs)),
		Ts:            make([]int64, 0, len(evs)),
		GameID:        make([]string, 0, len(evs)),
		Seq:           make([]uint64, 0, len(evs)),
		Epoch:         make([]uint64, 0, len(evs)),
		Data:          make([]map[string]any, 0, len(evs)),
	}
	for _, ev := range evs {
		bf.Type = append(bf.Type, ev.Type)
		bf.Ts = append(bf.Ts, ev.Ts)
		bf.GameID = append(bf.GameID, ev.GameID)
		bf.Seq = append(bf.Seq, ev.Seq)
		bf.Epoch = append(bf.Epoch, ev.Epoch)
		bf.Data = append(bf.Data, ev.Data)
	}

	b, err := json.Marshal(&bf)
	if err != nil {
		return err
	}

	name := fmt.Sprintf("batch-%d-%d.json", time.Now().UnixNano(), s.nameSeq.Add(1))
	final := filepath.Join(dir, name)
	tmp := filepath.Join(dir, "."+name+".tmp")

	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return err
	}

	s.batches.Add(1)
	s.metrics.RecordBatchCommitted()
	return nil
}

// writeManifest creates or refreshes the versioned manifest. Schema changes
// are additive: an existing manifest is only ever rewritten with a newer
// version, never truncated to an older one.
func (s *Store) writeManifest() error {
	path := filepath.Join(s.root, "manifest.json")
	now := time.Now().UTC().Format(time.RFC3339)

	m := Manifest{
		SchemaVersion: SchemaVersion,
		Fields:        schemaFields,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if b, err := os.ReadFile(path); err == nil {
		var existing Manifest
		if json.Unmarshal(b, &existing) == nil {
			if existing.SchemaVersion >= SchemaVersion {
				return nil
			}
			m.CreatedAt = existing.CreatedAt
		}
	}

	b, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return os.Rename(tmp, path)
}

func (s *Store) recordDrop() {
	s.dropped.Add(1)
	s.metrics.RecordStoreDropped()
	s.setDegraded(true)
}

func (s *Store) setDegraded(degraded bool) {
	if degraded {
		if s.status.Swap(int32(StatusDegraded)) != int32(StatusDegraded) {
			slog.Warn("Event store DEGRADED")
			s.metrics.SetStoreDegraded(true)
		}
		return
	}
	if s.status.Swap(int32(StatusOK)) != int32(StatusOK) {
		slog.Info("Event store recovered")
		s.metrics.SetStoreDegraded(false)
	}
}
