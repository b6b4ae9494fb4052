package repo

import (
	"sync"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewArtifactID_ConcurrentlyUnique(t *testing.T) {
	const workers = 8
	const perWorker = 500

	results := make([][]string, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			ids := make([]string, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				ids = append(ids, newArtifactID())
			}
			results[w] = ids
		}(w)
	}
	wg.Wait()

	seen := make(map[string]struct{}, workers*perWorker)
	for _, ids := range results {
		for _, id := range ids {
			_, err := ulid.Parse(id)
			require.NoError(t, err)
			seen[id] = struct{}{}
		}
	}
	assert.Len(t, seen, workers*perWorker)
}
