package configcache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/transitflow/transitflow/pkg/routeconfig"
)

// BlockSource is the backend the cache pulls route configuration from. The
// real one talks to MongoDB; tests supply fakes. Reconnect must establish a
// fresh session after the backing connection has gone away.
type BlockSource interface {
	LoadBlocks(ctx context.Context, configRev int) ([]*routeconfig.Block, error)
	Reconnect(ctx context.Context) error
}

// ErrBlockNotFound is returned when a revision loaded fine but simply has no
// such block.
var ErrBlockNotFound = errors.New("block not found in config revision")

type loadState int

const (
	stateNotLoaded loadState = iota
	stateLoading
	stateLoaded
	stateFailed
)

type revisionEntry struct {
	state loadState

	blocks   map[string]*routeconfig.Block
	patterns []*routeconfig.TripPattern

	err  error
	done chan struct{}
}

// Cache is the lazily populated, concurrency safe supplier of immutable
// route configuration to the matcher workers. A revision's blocks are
// loaded once, on first access, with the load serialized per revision:
// the backing loader may need to re-establish its own connection and must
// not do that from several goroutines at once. Once a revision is Loaded
// its data is frozen and read without locking.
type Cache struct {
	source BlockSource

	mutex     sync.Mutex
	revisions map[int]*revisionEntry
}

func New(source BlockSource) *Cache {
	return &Cache{
		source:    source,
		revisions: map[int]*revisionEntry{},
	}
}

// Blocks returns every block of the revision, loading on first access.
// Concurrent callers during a load all observe the same outcome, including
// the outcome of the single transparent retry. A failed load leaves the
// revision temporarily unavailable, not permanently missing: the next call
// starts a fresh load.
func (c *Cache) Blocks(ctx context.Context, configRev int) (map[string]*routeconfig.Block, error) {
	c.mutex.Lock()

	entry := c.revisions[configRev]
	if entry == nil || entry.state == stateFailed {
		entry = &revisionEntry{state: stateLoading, done: make(chan struct{})}
		c.revisions[configRev] = entry
		c.mutex.Unlock()

		c.populate(ctx, configRev, entry)
	} else {
		c.mutex.Unlock()

		select {
		case <-entry.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if entry.state == stateFailed {
		return nil, entry.err
	}

	return entry.blocks, nil
}

// Block looks a single block up within a revision.
func (c *Cache) Block(ctx context.Context, configRev int, blockID string) (*routeconfig.Block, error) {
	blocks, err := c.Blocks(ctx, configRev)
	if err != nil {
		return nil, err
	}

	block := blocks[blockID]
	if block == nil {
		return nil, fmt.Errorf("%w: %s@rev%d", ErrBlockNotFound, blockID, configRev)
	}

	return block, nil
}

// Patterns returns the distinct trip patterns of a revision, for building
// the spatial pre-filter index.
func (c *Cache) Patterns(ctx context.Context, configRev int) ([]*routeconfig.TripPattern, error) {
	if _, err := c.Blocks(ctx, configRev); err != nil {
		return nil, err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.revisions[configRev].patterns, nil
}

// populate performs the actual load with one transparent retry on a fresh
// backend session, then publishes the outcome to every waiting caller.
func (c *Cache) populate(ctx context.Context, configRev int, entry *revisionEntry) {
	attempt := 0

	operation := func() ([]*routeconfig.Block, error) {
		attempt++
		if attempt > 1 {
			log.Warn().Int("configRev", configRev).Msg("Config load failed, reconnecting for one retry")

			if err := c.source.Reconnect(ctx); err != nil {
				return nil, backoff.Permanent(fmt.Errorf("reconnect config source: %w", err))
			}
		}

		return c.source.LoadBlocks(ctx, configRev)
	}

	blocks, err := backoff.RetryWithData(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1), ctx),
	)

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err != nil {
		entry.state = stateFailed
		entry.err = fmt.Errorf("load blocks for rev %d: %w", configRev, err)
		close(entry.done)
		return
	}

	entry.blocks = map[string]*routeconfig.Block{}
	seenPatterns := map[string]bool{}

	for _, block := range blocks {
		entry.blocks[block.ID] = block

		for _, trip := range block.Trips {
			if trip.Pattern != nil && !seenPatterns[trip.Pattern.ID] {
				seenPatterns[trip.Pattern.ID] = true
				entry.patterns = append(entry.patterns, trip.Pattern)
			}
		}
	}

	entry.state = stateLoaded
	close(entry.done)

	log.Info().Int("configRev", configRev).Int("blocks", len(entry.blocks)).Int("patterns", len(entry.patterns)).Msg("Loaded config revision")
}
