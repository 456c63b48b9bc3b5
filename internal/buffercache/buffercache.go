// Package buffercache implements the buffer cache (C3): a bounded,
// concurrent, write-back set of 64 cached sectors over a blockdev.Device,
// with four-pass clock eviction, a best-effort read-ahead worker, and a
// periodic opportunistic flush.
//
// Grounded on Pintos's filesys/cache.c (the four-pass eviction order and
// the lock-per-slot-on-hit / lock-cache-wide-on-miss discipline) and, for
// the worker lifecycle, the errgroup-plus-context shutdown pattern used
// throughout the hanwen-go-fuse and jacobsa-fuse server loops.
package buffercache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wicos64/persistentfs/internal/blockdev"
	"github.com/wicos64/persistentfs/internal/metrics"
)

// Capacity is the fixed number of cache slots (spec §3).
const Capacity = 64

// FlushInterval is how often the periodic flusher calls FlushAll. The
// reference fires every 100 timer ticks; absent an external timer
// facility we use a wall-clock interval of the same order.
const FlushInterval = 1 * time.Second

// ReadAheadQueueDepth bounds the number of pending read-ahead hints so a
// burst of sequential reads cannot grow the queue unboundedly.
const ReadAheadQueueDepth = 256

type slot struct {
	mu       sync.Mutex
	sector   uint32
	valid    bool
	dirty    bool
	accessed bool
	data     [blockdev.SectorSize]byte
}

// Cache is the buffer cache singleton for one mounted device.
type Cache struct {
	dev *blockdev.Device
	met *metrics.Cache

	// cacheMu is the cache-wide lock: held for the whole miss path (find,
	// evict, load, copy) and briefly on a hit to identify + release the
	// target slot before the per-slot lock is taken.
	cacheMu sync.Mutex
	slots   [Capacity]*slot

	raMu      sync.Mutex
	raCond    *sync.Cond
	raQueue   []uint32
	raClosed  bool

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New creates a buffer cache over dev and starts its background read-ahead
// and periodic-flush workers.
func New(dev *blockdev.Device) *Cache {
	c := &Cache{dev: dev, met: metrics.NewCache()}
	for i := range c.slots {
		c.slots[i] = &slot{}
	}
	c.raCond = sync.NewCond(&c.raMu)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	c.group = g
	g.Go(func() error { return c.readAheadLoop(gctx) })
	g.Go(func() error { return c.periodicFlushLoop(gctx) })
	return c
}

// find returns the slot index holding sector, or ok=false. Caller must
// hold cacheMu.
func (c *Cache) find(sector uint32) (int, bool) {
	for i, s := range c.slots {
		if s.valid && s.sector == sector {
			return i, true
		}
	}
	return -1, false
}

// pickVictim selects a free slot or, if all slots are occupied, runs the
// four-pass clock scan described in spec §4.3. Caller must hold cacheMu.
// Returns the slot index; the victim's prior contents (if dirty) have
// already been flushed to disk.
func (c *Cache) pickVictim() (int, error) {
	for i, s := range c.slots {
		if !s.valid {
			return i, nil
		}
	}

	// Pass 1: !dirty && !accessed
	for i, s := range c.slots {
		if !s.dirty && !s.accessed {
			c.met.Eviction()
			return i, nil
		}
	}
	// Pass 2: !dirty && accessed
	for i, s := range c.slots {
		if !s.dirty && s.accessed {
			c.met.Eviction()
			return i, nil
		}
	}
	// Pass 3: dirty && !accessed
	for i, s := range c.slots {
		if s.dirty && !s.accessed {
			if err := c.dev.Write(s.sector, s.data[:]); err != nil {
				return 0, fmt.Errorf("buffercache: evict flush sector %d: %w", s.sector, err)
			}
			c.met.Eviction()
			return i, nil
		}
	}
	// Pass 4: dirty && accessed
	for i, s := range c.slots {
		if s.dirty && s.accessed {
			if err := c.dev.Write(s.sector, s.data[:]); err != nil {
				return 0, fmt.Errorf("buffercache: evict flush sector %d: %w", s.sector, err)
			}
			c.met.Eviction()
			return i, nil
		}
	}
	// Unreachable: every slot is in one of the four states above.
	return 0, fmt.Errorf("buffercache: no eviction candidate found")
}

func clearSlot(s *slot, sector uint32) {
	for i := range s.data {
		s.data[i] = 0
	}
	s.sector = sector
	s.valid = true
	s.dirty = false
	s.accessed = false
}

// ReadThrough copies size bytes starting at sector-offset off into out,
// loading the sector on miss. Enqueues sector+1 as a read-ahead hint.
func (c *Cache) ReadThrough(sector uint32, out []byte, size, off int) error {
	if off < 0 || size < 0 || off+size > blockdev.SectorSize {
		return fmt.Errorf("buffercache: read_through out of range off=%d size=%d", off, size)
	}
	if len(out) < size {
		return fmt.Errorf("buffercache: read_through out buffer too small")
	}

	c.cacheMu.Lock()
	if idx, ok := c.find(sector); ok {
		s := c.slots[idx]
		c.cacheMu.Unlock()
		c.met.Hit()

		s.mu.Lock()
		copy(out[:size], s.data[off:off+size])
		s.accessed = true
		s.mu.Unlock()
	} else {
		c.met.Miss()
		victim, err := c.pickVictim()
		if err != nil {
			c.cacheMu.Unlock()
			return err
		}
		s := c.slots[victim]
		clearSlot(s, sector)
		if err := c.dev.Read(sector, s.data[:]); err != nil {
			c.cacheMu.Unlock()
			return err
		}
		copy(out[:size], s.data[off:off+size])
		s.accessed = true
		c.cacheMu.Unlock()
	}

	c.enqueueReadAhead(sector + 1)
	return nil
}

// WriteThrough installs size bytes from in into the cached sector at
// sector-offset off, loading the sector first only if the write is
// partial. Marks the slot dirty.
func (c *Cache) WriteThrough(sector uint32, in []byte, size, off int) error {
	if off < 0 || size < 0 || off+size > blockdev.SectorSize {
		return fmt.Errorf("buffercache: write_through out of range off=%d size=%d", off, size)
	}
	if len(in) < size {
		return fmt.Errorf("buffercache: write_through in buffer too small")
	}
	partial := off > 0 || off+size < blockdev.SectorSize

	c.cacheMu.Lock()
	if idx, ok := c.find(sector); ok {
		s := c.slots[idx]
		c.cacheMu.Unlock()
		c.met.Hit()

		s.mu.Lock()
		copy(s.data[off:off+size], in[:size])
		s.dirty = true
		s.accessed = true
		s.mu.Unlock()
		return nil
	}

	c.met.Miss()
	victim, err := c.pickVictim()
	if err != nil {
		c.cacheMu.Unlock()
		return err
	}
	s := c.slots[victim]
	clearSlot(s, sector)
	if partial {
		if err := c.dev.Read(sector, s.data[:]); err != nil {
			c.cacheMu.Unlock()
			return err
		}
	}
	copy(s.data[off:off+size], in[:size])
	s.dirty = true
	s.accessed = true
	c.cacheMu.Unlock()
	return nil
}

// FlushAll writes every dirty slot to the device and clears dirty/accessed
// bits. It does not evict any slot.
func (c *Cache) FlushAll() error {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	for _, s := range c.slots {
		s.mu.Lock()
		if s.valid && s.dirty {
			if err := c.dev.Write(s.sector, s.data[:]); err != nil {
				s.mu.Unlock()
				return fmt.Errorf("buffercache: flush sector %d: %w", s.sector, err)
			}
			c.met.Flush()
			s.dirty = false
		}
		s.accessed = false
		s.mu.Unlock()
	}
	return nil
}

func (c *Cache) enqueueReadAhead(sector uint32) {
	if sector >= c.dev.Size() {
		return
	}
	c.raMu.Lock()
	if !c.raClosed && len(c.raQueue) < ReadAheadQueueDepth {
		c.raQueue = append(c.raQueue, sector)
		c.met.ReadAheadQueued()
		c.raCond.Signal()
	}
	c.raMu.Unlock()
}

func (c *Cache) readAheadLoop(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		c.raMu.Lock()
		c.raClosed = true
		c.raCond.Broadcast()
		c.raMu.Unlock()
	}()

	for {
		c.raMu.Lock()
		for len(c.raQueue) == 0 && !c.raClosed {
			c.raCond.Wait()
		}
		if c.raClosed && len(c.raQueue) == 0 {
			c.raMu.Unlock()
			return nil
		}
		sector := c.raQueue[0]
		c.raQueue = c.raQueue[1:]
		c.raMu.Unlock()

		c.serviceReadAhead(sector)
	}
}

// serviceReadAhead loads sector into a free/victim slot if (and only if)
// it is not already cached. Failures are silently skipped; duplicates are
// tolerated (the cache-wide lock makes a concurrent real read win the race
// harmlessly).
func (c *Cache) serviceReadAhead(sector uint32) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if _, ok := c.find(sector); ok {
		return
	}
	victim, err := c.pickVictim()
	if err != nil {
		return
	}
	s := c.slots[victim]
	clearSlot(s, sector)
	if err := c.dev.Read(sector, s.data[:]); err != nil {
		// Leave the slot invalid on failure.
		s.valid = false
		return
	}
	s.accessed = true
}

func (c *Cache) periodicFlushLoop(ctx context.Context) error {
	t := time.NewTicker(FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			// Best effort: periodic flush retries on the next tick.
			_ = c.FlushAll()
		}
	}
}

// Close stops the background workers and performs a final synchronous
// FlushAll, matching the "flush_all before the allocator closes" shutdown
// order in spec §4.3.
func (c *Cache) Close() error {
	c.cancel()
	_ = c.group.Wait()
	return c.FlushAll()
}
