package configcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transitflow/transitflow/pkg/routeconfig"
)

// fakeSource scripts LoadBlocks outcomes per call and records how often the
// cache reached for it.
type fakeSource struct {
	mutex sync.Mutex

	loads      int32
	reconnects int32

	failures int
	delay    time.Duration

	reconnectErr error
}

func (s *fakeSource) LoadBlocks(ctx context.Context, configRev int) ([]*routeconfig.Block, error) {
	atomic.AddInt32(&s.loads, 1)

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.failures > 0 {
		s.failures--
		return nil, errors.New("connection reset")
	}

	pattern := &routeconfig.TripPattern{ID: "pattern-1", RouteID: "route-9"}

	return []*routeconfig.Block{
		{ID: "block-1", ConfigRev: configRev, Trips: []*routeconfig.Trip{{ID: "trip-1", Pattern: pattern}}},
		{ID: "block-2", ConfigRev: configRev, Trips: []*routeconfig.Trip{{ID: "trip-2", Pattern: pattern}}},
	}, nil
}

func (s *fakeSource) Reconnect(ctx context.Context) error {
	atomic.AddInt32(&s.reconnects, 1)

	return s.reconnectErr
}

func TestCacheLoadsOnce(t *testing.T) {
	source := &fakeSource{delay: 20 * time.Millisecond}
	cache := New(source)

	var waitGroup sync.WaitGroup
	results := make([]map[string]*routeconfig.Block, 10)

	for i := 0; i < 10; i++ {
		i := i
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			blocks, err := cache.Blocks(context.Background(), 1)
			require.NoError(t, err)
			results[i] = blocks
		}()
	}

	waitGroup.Wait()

	// One backend load no matter how many callers raced, and every caller
	// sees the identical snapshot.
	assert.Equal(t, int32(1), atomic.LoadInt32(&source.loads))
	for i := 1; i < 10; i++ {
		assert.Equal(t, results[0], results[i])
	}
}

func TestCacheSeparateRevisions(t *testing.T) {
	source := &fakeSource{}
	cache := New(source)

	blockRev1, err := cache.Block(context.Background(), 1, "block-1")
	require.NoError(t, err)
	blockRev2, err := cache.Block(context.Background(), 2, "block-1")
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&source.loads))
	assert.Equal(t, 1, blockRev1.ConfigRev)
	assert.Equal(t, 2, blockRev2.ConfigRev)
}

func TestCacheBlockNotFound(t *testing.T) {
	cache := New(&fakeSource{})

	_, err := cache.Block(context.Background(), 1, "no-such-block")
	assert.ErrorIs(t, err, ErrBlockNotFound)
}

func TestCacheRetriesOnceAfterReconnect(t *testing.T) {
	source := &fakeSource{failures: 1}
	cache := New(source)

	blocks, err := cache.Blocks(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, blocks, 2)

	// The first attempt failed, one reconnect preceded the single retry.
	assert.Equal(t, int32(2), atomic.LoadInt32(&source.loads))
	assert.Equal(t, int32(1), atomic.LoadInt32(&source.reconnects))
}

func TestCacheFailureThenReload(t *testing.T) {
	source := &fakeSource{failures: 2}
	cache := New(source)

	// Both the load and its retry fail: the revision is unavailable.
	_, err := cache.Blocks(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&source.loads))

	// A failed load is not cached forever. The next call starts over, and
	// the backend has recovered.
	blocks, err := cache.Blocks(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, blocks, 2)
}

func TestCacheReconnectFailureIsPermanent(t *testing.T) {
	source := &fakeSource{failures: 2, reconnectErr: errors.New("still down")}
	cache := New(source)

	_, err := cache.Blocks(context.Background(), 1)
	require.Error(t, err)

	// The retry never ran its load because the reconnect itself failed.
	assert.Equal(t, int32(1), atomic.LoadInt32(&source.loads))
	assert.Equal(t, int32(1), atomic.LoadInt32(&source.reconnects))
}

func TestCachePatternsDeduplicated(t *testing.T) {
	cache := New(&fakeSource{})

	patterns, err := cache.Patterns(context.Background(), 1)
	require.NoError(t, err)

	// Both blocks share pattern-1; it appears once.
	require.Len(t, patterns, 1)
	assert.Equal(t, "pattern-1", patterns[0].ID)
}
