// Package client maintains a session-local mirror of one board. The mirror
// applies predicted effects of the session's own actions immediately and is
// reconciled against authoritative change events; authoritative state always
// supersedes a pending prediction.
package client

import (
	"sort"
	"sync"

	"boardsync/domain"
	"boardsync/order"
)

// Cache is the optimistic per-session mirror of a scope. All methods are
// safe for concurrent use; the reconciliation loop and mutation calls touch
// it from different goroutines.
type Cache struct {
	mu    sync.Mutex
	scope string
	items map[string]domain.Item
	// baseline holds the last authoritative copy of items with a pending
	// prediction; a nil entry marks a predicted create with no prior state.
	baseline map[string]*domain.Item
	// tombstones records the deletion version per removed item so replayed
	// or stale events cannot resurrect it.
	tombstones map[string]int64
}

// NewCache creates an empty mirror for the given scope.
func NewCache(scope string) *Cache {
	return &Cache{
		scope:      scope,
		items:      make(map[string]domain.Item),
		baseline:   make(map[string]*domain.Item),
		tombstones: make(map[string]int64),
	}
}

// Load replaces the mirror with an authoritative snapshot, dropping all
// predictions.
func (c *Cache) Load(board domain.Board) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]domain.Item)
	c.baseline = make(map[string]*domain.Item)
	c.tombstones = make(map[string]int64)
	for _, col := range board.Columns {
		for _, it := range col {
			c.items[it.ID] = it
		}
	}
}

// Snapshot returns the current bucket-sorted view, predictions included.
func (c *Cache) Snapshot() domain.Board {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := make([]domain.Item, 0, len(c.items))
	for _, it := range c.items {
		items = append(items, it)
	}
	return domain.NewBoard(c.scope, items)
}

// Version returns the cached version of an item, or zero when unknown.
func (c *Cache) Version(itemID string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items[itemID].Version
}

// Pending reports whether the item has an unconfirmed prediction.
func (c *Cache) Pending(itemID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.baseline[itemID]
	return ok
}

func (c *Cache) rememberBaseline(itemID string) {
	if _, ok := c.baseline[itemID]; ok {
		return
	}
	if it, ok := c.items[itemID]; ok {
		cpy := it
		c.baseline[itemID] = &cpy
	} else {
		c.baseline[itemID] = nil
	}
}

// PredictCreate inserts a placeholder item at the tail of the bucket under
// a caller-chosen temporary id. ok is false when the fields are obviously
// invalid and no prediction was made.
func (c *Cache) PredictCreate(tempID string, bucket domain.Bucket, fields domain.ItemFields) bool {
	normalized, err := domain.NormalizeFields(fields)
	if err != nil || !bucket.Valid() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rememberBaseline(tempID)
	c.items[tempID] = domain.Item{
		ID:          tempID,
		Scope:       c.scope,
		Bucket:      bucket,
		Position:    order.Tail(c.bucketPositionsLocked(bucket, "")),
		Title:       normalized.Title,
		Description: normalized.Description,
		Priority:    normalized.Priority,
		Assignee:    normalized.Assignee,
		DueDate:     normalized.DueDate,
	}
	return true
}

// PredictMove splices the item to the target rank using the same rank
// semantics as the allocator. ok is false when the item is unknown or the
// rank is out of range for the local view; the caller then skips the visual
// prediction and lets the authoritative store decide.
func (c *Cache) PredictMove(itemID string, bucket domain.Bucket, rank int) bool {
	if !bucket.Valid() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[itemID]
	if !ok {
		return false
	}
	positions := c.bucketPositionsLocked(bucket, itemID)
	if !order.ValidRank(rank, len(positions)) {
		return false
	}
	pos, ok := order.ForRank(positions, rank)
	if !ok {
		// Predicted renumber: local positions only, versions untouched.
		c.renumberLocked(bucket, itemID)
		positions = c.bucketPositionsLocked(bucket, itemID)
		if pos, ok = order.ForRank(positions, rank); !ok {
			return false
		}
	}
	c.rememberBaseline(itemID)
	it.Bucket = bucket
	it.Position = pos
	c.items[itemID] = it
	return true
}

// PredictUpdate applies a field patch locally.
func (c *Cache) PredictUpdate(itemID string, patch domain.ItemPatch) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[itemID]
	if !ok {
		return false
	}
	c.rememberBaseline(itemID)
	patch.Apply(&it)
	c.items[itemID] = it
	return true
}

// PredictDelete removes the item locally.
func (c *Cache) PredictDelete(itemID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[itemID]; !ok {
		return false
	}
	c.rememberBaseline(itemID)
	delete(c.items, itemID)
	return true
}

// Confirm replaces the prediction with the authoritative snapshot returned
// by the mutation call.
func (c *Cache) Confirm(itemID string, authoritative domain.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.baseline, itemID)
	c.items[authoritative.ID] = authoritative
}

// ResolveCreate swaps a predicted placeholder for the authoritative item.
func (c *Cache) ResolveCreate(tempID string, authoritative domain.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, tempID)
	delete(c.baseline, tempID)
	c.items[authoritative.ID] = authoritative
}

// ConfirmDelete finalizes a predicted deletion.
func (c *Cache) ConfirmDelete(itemID string, version int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.baseline, itemID)
	delete(c.items, itemID)
	if version > c.tombstones[itemID] {
		c.tombstones[itemID] = version
	}
}

// Fail rolls the item back to its last authoritative state.
func (c *Cache) Fail(itemID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	base, ok := c.baseline[itemID]
	if !ok {
		return
	}
	delete(c.baseline, itemID)
	if base == nil {
		delete(c.items, itemID)
		return
	}
	c.items[itemID] = *base
}

// ApplyEvent merges an authoritative change event into the mirror. Events
// whose version is not newer than the cached state are discarded, which
// makes replayed deliveries no-ops. A confirmed event always supersedes a
// pending prediction for the same item.
func (c *Cache) ApplyEvent(ev domain.Event) {
	if ev.Scope != c.scope {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applySnapshotLocked(ev.Kind == domain.ItemDeleted, ev.Item)
	for _, sib := range ev.Reindexed {
		c.applySnapshotLocked(false, sib)
	}
}

func (c *Cache) applySnapshotLocked(deleted bool, snapshot domain.Item) {
	if snapshot.Version <= c.tombstones[snapshot.ID] {
		return
	}
	cur, exists := c.items[snapshot.ID]
	_, pending := c.baseline[snapshot.ID]
	if exists && !pending && snapshot.Version <= cur.Version {
		return
	}
	// Authoritative state wins over any prediction, even when it reverts
	// the visible order for a moment.
	delete(c.baseline, snapshot.ID)
	if deleted {
		delete(c.items, snapshot.ID)
		c.tombstones[snapshot.ID] = snapshot.Version
		return
	}
	c.items[snapshot.ID] = snapshot
}

func (c *Cache) bucketPositionsLocked(bucket domain.Bucket, skipID string) []int64 {
	positions := make([]int64, 0, len(c.items))
	for _, it := range c.items {
		if it.Bucket == bucket && it.ID != skipID {
			positions = append(positions, it.Position)
		}
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })
	return positions
}

func (c *Cache) renumberLocked(bucket domain.Bucket, skipID string) {
	ids := make([]string, 0, len(c.items))
	for id, it := range c.items {
		if it.Bucket == bucket && id != skipID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return c.items[ids[i]].Position < c.items[ids[j]].Position })
	fresh := order.Renumber(len(ids))
	for i, id := range ids {
		it := c.items[id]
		it.Position = fresh[i]
		c.items[id] = it
	}
}
