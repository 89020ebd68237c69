package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rugs_go/internal/domain"
	"rugs_go/internal/event"
	"rugs_go/internal/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(seq uint64, typ string) event.Event {
	return event.Event{
		Type:   typ,
		Ts:     time.Now().UnixMilli(),
		GameID: "g-1",
		Seq:    seq,
		Epoch:  1,
		Data:   map[string]any{"tickCount": float64(seq)},
	}
}

func newTestStore(t *testing.T, queueSize, batchSize int, flushEvery time.Duration) (*Store, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "events")
	s, err := New(root, queueSize, batchSize, flushEvery, &infra.Metrics{})
	require.NoError(t, err)
	return s, root
}

func TestStore_WritesManifest(t *testing.T) {
	_, root := newTestStore(t, 16, 4, time.Hour)

	b, err := os.ReadFile(filepath.Join(root, "manifest.json"))
	require.NoError(t, err)

	var m Manifest
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, SchemaVersion, m.SchemaVersion)
	assert.Equal(t, schemaFields, m.Fields)
}

func TestStore_ManifestNeverDowngraded(t *testing.T) {
	root := filepath.Join(t.TempDir(), "events")
	require.NoError(t, os.MkdirAll(root, 0755))

	future := Manifest{SchemaVersion: SchemaVersion + 5, Fields: []string{"future"}}
	b, _ := json.Marshal(&future)
	require.NoError(t, os.WriteFile(filepath.Join(root, "manifest.json"), b, 0644))

	_, err := New(root, 16, 4, time.Hour, &infra.Metrics{})
	require.NoError(t, err)

	b, err = os.ReadFile(filepath.Join(root, "manifest.json"))
	require.NoError(t, err)
	var m Manifest
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, SchemaVersion+5, m.SchemaVersion, "existing newer manifest must be preserved")
}

func TestStore_CommitsPartitionedBatches(t *testing.T) {
	s, root := newTestStore(t, 64, 4, 50*time.Millisecond)
	s.Start(context.Background())
	defer s.Close()

	for i := uint64(1); i <= 4; i++ {
		s.Append(testEvent(i, event.TypeGameTick))
	}
	s.Append(testEvent(5, event.TypeSidebetResult))

	require.Eventually(t, func() bool {
		return s.BatchesCommitted() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	date := time.Now().UTC().Format("2006-01-02")
	gameDir := filepath.Join(root, "game", date)
	entries, err := os.ReadDir(gameDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	b, err := os.ReadFile(filepath.Join(gameDir, entries[0].Name()))
	require.NoError(t, err)

	var bf batchFile
	require.NoError(t, json.Unmarshal(b, &bf))
	assert.Equal(t, SchemaVersion, bf.SchemaVersion)
	assert.Equal(t, bf.Count, len(bf.Type))
	assert.Equal(t, bf.Count, len(bf.Seq))
	assert.Equal(t, event.TypeGameTick, bf.Type[0])

	sidebetDir := filepath.Join(root, "sidebet", date)
	_, err = os.Stat(sidebetDir)
	assert.NoError(t, err, "sidebet events partition separately")
}

// A reader polling during writes must only ever observe fully committed
// batch files: every visible file parses and is row-aligned.
func TestStore_ReaderNeverSeesPartialBatch(t *testing.T) {
	s, root := newTestStore(t, 1024, 5, 10*time.Millisecond)
	s.Start(context.Background())
	defer s.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := uint64(1); i <= 500; i++ {
			s.Append(testEvent(i, event.TypeGameTick))
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil || d == nil || d.IsDir() {
				return nil
			}
			name := d.Name()
			if name == "manifest.json" || !strings.HasPrefix(name, "batch-") {
				return nil
			}
			b, err := os.ReadFile(path)
			if err != nil {
				return nil // deleted between listing and read; not partial
			}
			var bf batchFile
			require.NoError(t, json.Unmarshal(b, &bf), "visible batch %s must be complete", name)
			require.Equal(t, bf.Count, len(bf.Type))
			require.Equal(t, bf.Count, len(bf.Data))
			return nil
		})
		select {
		case <-done:
			return
		default:
		}
	}
	<-done
}

// Scenario: the disk starts rejecting writes. The store surfaces DEGRADED,
// keeps buffering up to its bound, drops-oldest beyond it with a counter,
// and never crashes or reports silent success.
func TestStore_DegradedOnWriteFailure(t *testing.T) {
	root := filepath.Join(t.TempDir(), "events")
	s, err := New(root, 8, 4, 20*time.Millisecond, &infra.Metrics{})
	require.NoError(t, err)
	s.Start(context.Background())
	defer s.Close()

	// Replace the data root with a regular file so partition creation fails.
	require.NoError(t, os.RemoveAll(root))
	require.NoError(t, os.WriteFile(root, []byte("in the way"), 0644))

	for i := uint64(1); i <= 4; i++ {
		s.Append(testEvent(i, event.TypeGameTick))
	}

	require.Eventually(t, func() bool {
		return s.Status() == StatusDegraded
	}, 2*time.Second, 10*time.Millisecond, "store must surface DEGRADED")
	assert.ErrorIs(t, s.Check(), domain.ErrStoreDegraded)

	// Keep pushing well past the bound: oldest entries are evicted and counted.
	for i := uint64(5); i <= 100; i++ {
		s.Append(testEvent(i, event.TypeGameTick))
	}
	require.Eventually(t, func() bool {
		return s.Dropped() > 0
	}, 2*time.Second, 10*time.Millisecond, "overflow must increment the drop counter")

	// Disk recovers: the store flushes survivors and reports OK again.
	require.NoError(t, os.Remove(root))
	require.NoError(t, os.MkdirAll(root, 0755))

	require.Eventually(t, func() bool {
		return s.Status() == StatusOK && s.BatchesCommitted() > 0
	}, 2*time.Second, 10*time.Millisecond, "store must recover once writes succeed")
	assert.NoError(t, s.Check())
}

// A commit that fails for one partition must not re-commit the partitions
// that already landed: retrying may never duplicate batch files.
func TestStore_PartialCommitRetriesOnlyFailedPartitions(t *testing.T) {
	root := filepath.Join(t.TempDir(), "events")
	s, err := New(root, 64, 100, time.Hour, &infra.Metrics{})
	require.NoError(t, err)

	countBatches := func(category string) int {
		matches, globErr := filepath.Glob(filepath.Join(root, category, "*", "batch-*.json"))
		require.NoError(t, globErr)
		return len(matches)
	}

	// Block the player partition with a regular file in the way.
	require.NoError(t, os.WriteFile(filepath.Join(root, "player"), []byte("in the way"), 0644))

	s.flush([]event.Event{
		testEvent(1, event.TypeGameTick),
		testEvent(2, event.TypePlayerState),
	})

	require.Equal(t, StatusDegraded, s.Status())
	require.Len(t, s.pending, 1, "only the failed partition's events are buffered")
	assert.Equal(t, event.TypePlayerState, s.pending[0].Type)
	assert.Equal(t, 1, countBatches("game"))

	// Unblock and retry: the buffered events land without duplicating the
	// game partition's file.
	require.NoError(t, os.Remove(filepath.Join(root, "player")))
	s.flush(nil)

	assert.Equal(t, StatusOK, s.Status())
	assert.Equal(t, 1, countBatches("game"))
	assert.Equal(t, 1, countBatches("player"))
}

func TestStore_AppendNeverBlocks(t *testing.T) {
	s, _ := newTestStore(t, 4, 100, time.Hour)
	// Writer not started: the queue cannot drain.

	start := time.Now()
	for i := uint64(1); i <= 1000; i++ {
		s.Append(testEvent(i, event.TypeGameTick))
	}
	assert.Less(t, time.Since(start), time.Second, "Append must never block the producer")
	assert.Greater(t, s.Dropped(), uint64(0))
}

func TestStore_FinalFlushOnClose(t *testing.T) {
	s, root := newTestStore(t, 64, 1000, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	for i := uint64(1); i <= 10; i++ {
		s.Append(testEvent(i, event.TypeGameTick))
	}
	s.Close()

	date := time.Now().UTC().Format("2006-01-02")
	entries, err := os.ReadDir(filepath.Join(root, "game", date))
	require.NoError(t, err)
	assert.NotEmpty(t, entries, "Close must flush the outstanding batch")
}
