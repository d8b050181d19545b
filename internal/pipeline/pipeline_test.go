package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refiner/internal/report"
	"refiner/internal/stats"
)

// fakeChain serves permission and refinement state from maps.
type fakeChain struct {
	mu          sync.Mutex
	perms       map[uint64][]byte
	refined     map[uint64]bool
	index       map[uint64]uint64
	permQueries int
}

func (f *fakeChain) FilePermissions(_ context.Context, fileID uint64) []byte {
	f.mu.Lock()
	f.permQueries++
	f.mu.Unlock()
	return f.perms[fileID]
}

func (f *fakeChain) FileRefined(_ context.Context, fileID, _ uint64) bool {
	return f.refined[fileID]
}

func (f *fakeChain) FileIDAt(_ context.Context, index uint64) (uint64, bool) {
	id, ok := f.index[index]
	return id, ok
}

var errBadEnvelope = errors.New("eek: authentication code mismatch")

// fakeDecrypter understands two envelopes: "good" and anything else.
type fakeDecrypter struct{}

func (fakeDecrypter) Decrypt(raw []byte) ([]byte, error) {
	if string(raw) == "good" {
		return []byte("plaintext key"), nil
	}
	return nil, errBadEnvelope
}

// fakeRefiner succeeds, fails, or panics per file ID.
type fakeRefiner struct {
	fail  map[uint64]bool
	panic map[uint64]bool
}

func (f *fakeRefiner) Refine(_ context.Context, fileID uint64, _ []byte) (string, error) {
	if f.panic[fileID] {
		panic("refiner blew up")
	}
	if f.fail[fileID] {
		return "", errors.New("refinement service returned 500")
	}
	return fmt.Sprintf("cid-%d", fileID), nil
}

func newTestScheduler(t *testing.T, chain *fakeChain, refiner *fakeRefiner, source func(ChainReader) IDSource) (*Scheduler, *report.Reporter) {
	t.Helper()
	reporter, err := report.New(t.TempDir(), report.DefaultMaxBytes)
	require.NoError(t, err)
	proc := NewProcessor(chain, fakeDecrypter{}, refiner, 1, reporter)
	src := DirectIDs()
	if source != nil {
		src = source(chain)
	}
	return NewScheduler(proc, src, reporter), reporter
}

// The window 100→96 scenario: one skip, one already refined, one decrypt
// failure, one success, one submission failure.
func TestRunScenario(t *testing.T) {
	chain := &fakeChain{
		perms: map[uint64][]byte{
			// 100: no key
			99: []byte("good"),
			98: []byte("corrupt"),
			97: []byte("good"),
			96: []byte("good"),
		},
		refined: map[uint64]bool{99: true},
	}
	refiner := &fakeRefiner{fail: map[uint64]bool{96: true}}
	sched, _ := newTestScheduler(t, chain, refiner, nil)

	snap, err := sched.Run(context.Background(), Window{Start: 100, End: 96, BatchSize: 5})
	require.NoError(t, err)

	assert.Equal(t, stats.Snapshot{
		Total:          5,
		AlreadyRefined: 1,
		Processed:      3,
		Success:        1,
		Failed:         2,
	}, snap)
}

// Final statistics must not depend on the sub-batch size.
func TestRunBatchSizeInvariance(t *testing.T) {
	buildChain := func() *fakeChain {
		chain := &fakeChain{perms: map[uint64][]byte{}, refined: map[uint64]bool{}}
		for id := uint64(1); id <= 20; id++ {
			switch id % 4 {
			case 0:
				// no key
			case 1:
				chain.perms[id] = []byte("good")
				chain.refined[id] = true
			case 2:
				chain.perms[id] = []byte("good")
			case 3:
				chain.perms[id] = []byte("corrupt")
			}
		}
		return chain
	}

	var want *stats.Snapshot
	for _, batchSize := range []int{1, 3, 7, 20, 50} {
		sched, _ := newTestScheduler(t, buildChain(), &fakeRefiner{}, nil)
		snap, err := sched.Run(context.Background(), Window{Start: 20, End: 1, BatchSize: batchSize})
		require.NoError(t, err)

		if want == nil {
			want = &snap
			assert.Equal(t, 20, snap.Total)
			assert.Equal(t, snap.Processed, snap.Success+snap.Failed)
			assert.LessOrEqual(t, snap.AlreadyRefined+snap.Processed, snap.Total)
		} else {
			assert.Equal(t, *want, snap, "batch size %d", batchSize)
		}
	}
}

// Files with no granted key contribute to no counter beyond total.
func TestRunNoKeyNoIncrements(t *testing.T) {
	sched, _ := newTestScheduler(t, &fakeChain{perms: map[uint64][]byte{}}, &fakeRefiner{}, nil)

	snap, err := sched.Run(context.Background(), Window{Start: 10, End: 1, BatchSize: 4})
	require.NoError(t, err)
	assert.Equal(t, stats.Snapshot{Total: 10}, snap)
}

// Re-running a fully refined window is a pure no-op apart from the
// already-refined count.
func TestRunIdempotentWhenAllRefined(t *testing.T) {
	chain := &fakeChain{perms: map[uint64][]byte{}, refined: map[uint64]bool{}}
	for id := uint64(1); id <= 8; id++ {
		chain.perms[id] = []byte("good")
		chain.refined[id] = true
	}
	sched, _ := newTestScheduler(t, chain, &fakeRefiner{}, nil)

	snap, err := sched.Run(context.Background(), Window{Start: 8, End: 1, BatchSize: 3})
	require.NoError(t, err)
	assert.Equal(t, stats.Snapshot{Total: 8, AlreadyRefined: 8}, snap)
}

// A panicking file is contained: counted failed, siblings unaffected.
func TestRunContainsPanics(t *testing.T) {
	chain := &fakeChain{perms: map[uint64][]byte{
		5: []byte("good"),
		4: []byte("good"),
		3: []byte("good"),
	}}
	refiner := &fakeRefiner{panic: map[uint64]bool{4: true}}
	sched, _ := newTestScheduler(t, chain, refiner, nil)

	snap, err := sched.Run(context.Background(), Window{Start: 5, End: 3, BatchSize: 3})
	require.NoError(t, err)
	assert.Equal(t, stats.Snapshot{Total: 3, Processed: 3, Success: 2, Failed: 1}, snap)
}

// Index mode: unresolved indexes count as failed without reaching the
// state machine.
func TestRunIndexMode(t *testing.T) {
	chain := &fakeChain{
		perms: map[uint64][]byte{200: []byte("good"), 201: []byte("good")},
		index: map[uint64]uint64{3: 201, 2: 200}, // index 1 unassigned
	}
	sched, _ := newTestScheduler(t, chain, &fakeRefiner{}, IndexIDs)

	snap, err := sched.Run(context.Background(), Window{Start: 3, End: 1, BatchSize: 2})
	require.NoError(t, err)

	assert.Equal(t, stats.Snapshot{Total: 3, Processed: 2, Success: 2, Failed: 1}, snap)
	assert.Equal(t, 2, chain.permQueries, "unresolved index must not invoke the state machine")
}

func TestWindowValidate(t *testing.T) {
	assert.Error(t, Window{Start: 1, End: 2, BatchSize: 5}.Validate())
	assert.Error(t, Window{Start: 2, End: 1, BatchSize: 0}.Validate())
	assert.NoError(t, Window{Start: 2, End: 1, BatchSize: 1}.Validate())
	assert.NoError(t, Window{Start: 7, End: 7, BatchSize: 3}.Validate())
}
