package stats

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConcurrentIncrements(t *testing.T) {
	s := &Stats{}
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.IncTotal()
			switch i % 4 {
			case 0:
				s.IncAlreadyRefined()
			case 1:
				s.IncProcessed()
				s.IncSuccess()
			default:
				s.IncProcessed()
				s.IncFailed()
			}
		}(i)
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, 200, snap.Total)
	assert.Equal(t, 50, snap.AlreadyRefined)
	assert.Equal(t, 150, snap.Processed)
	assert.Equal(t, 50, snap.Success)
	assert.Equal(t, 100, snap.Failed)
	assert.Equal(t, snap.Processed, snap.Success+snap.Failed)
}

func TestMerge(t *testing.T) {
	run := &Stats{}
	run.Merge(Snapshot{Total: 5, AlreadyRefined: 1, Processed: 3, Success: 2, Failed: 1})
	run.Merge(Snapshot{Total: 5, Processed: 4, Success: 4})

	snap := run.Snapshot()
	assert.Equal(t, Snapshot{Total: 10, AlreadyRefined: 1, Processed: 7, Success: 6, Failed: 1}, snap)
}
