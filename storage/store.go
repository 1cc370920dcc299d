package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"boardsync/dedupe"
	"boardsync/domain"
	"boardsync/order"
)

// Publisher emits change events for applied mutations.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// Store is the authoritative mutation engine. Position allocation is
// serialized per scope; per-item writes are serialized by the backend's
// compare-and-swap. Every successful mutation advances the item version and
// emits exactly one change event.
type Store struct {
	backend Backend
	guard   dedupe.Guard
	pub     Publisher
	logger  *log.Logger

	mu     sync.Mutex
	scopes map[string]*sync.Mutex
}

// New creates a Store over the given backend, idempotency guard and event
// publisher.
func New(backend Backend, guard dedupe.Guard, pub Publisher, logger *log.Logger) *Store {
	if backend == nil {
		panic("storage.New: backend is nil")
	}
	if logger == nil {
		logger = log.New()
	}
	return &Store{
		backend: backend,
		guard:   guard,
		pub:     pub,
		logger:  logger,
		scopes:  make(map[string]*sync.Mutex),
	}
}

func (s *Store) scopeLock(scope string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.scopes[scope]
	if !ok {
		l = &sync.Mutex{}
		s.scopes[scope] = l
	}
	return l
}

// begin consults the idempotency guard. A replayed result is returned as the
// prior item; a duplicate whose first attempt is still in flight surfaces
// domain.ErrDuplicateRequest.
func (s *Store) begin(ctx context.Context, sessionID, kind, key string) (*domain.Item, error) {
	if s.guard == nil {
		return nil, nil
	}
	first, prior, err := s.guard.Begin(ctx, sessionID, kind, key)
	if err != nil {
		return nil, err
	}
	if first {
		return nil, nil
	}
	if prior == nil {
		return nil, domain.ErrDuplicateRequest
	}
	var it domain.Item
	if err := json.Unmarshal(prior, &it); err != nil {
		return nil, domain.ErrDuplicateRequest
	}
	return &it, nil
}

func (s *Store) complete(ctx context.Context, sessionID, kind, key string, it domain.Item) {
	if s.guard == nil {
		return
	}
	result, err := json.Marshal(it)
	if err == nil {
		err = s.guard.Complete(ctx, sessionID, kind, key, result)
	}
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{"kind": kind, "key": key}).
			Warn("failed to record idempotency result")
	}
}

func (s *Store) release(ctx context.Context, sessionID, kind, key string) {
	if s.guard == nil {
		return
	}
	if err := s.guard.Release(ctx, sessionID, kind, key); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{"kind": kind, "key": key}).
			Error("idempotency rollback failed")
	}
}

func (s *Store) publish(ctx context.Context, ev domain.Event) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{"kind": ev.Kind, "scope": ev.Scope, "item": ev.Item.ID}).
			Error("publish change event failed")
	}
}

// Create appends a new item at the tail of the bucket.
func (s *Store) Create(ctx context.Context, sessionID, scope string, bucket domain.Bucket, fields domain.ItemFields, key string) (domain.Item, error) {
	if scope == "" {
		return domain.Item{}, domain.ValidationError{Field: "scope", Reason: "must not be empty"}
	}
	if !bucket.Valid() {
		return domain.Item{}, domain.ValidationError{Field: "bucket", Reason: "unknown value"}
	}
	fields, err := domain.NormalizeFields(fields)
	if err != nil {
		return domain.Item{}, err
	}
	if key == "" {
		key = uuid.NewString()
	}
	if prior, err := s.begin(ctx, sessionID, "create", key); err != nil {
		return domain.Item{}, err
	} else if prior != nil {
		return *prior, nil
	}

	it, err := s.createLocked(ctx, sessionID, scope, bucket, fields)
	if err != nil {
		s.release(ctx, sessionID, "create", key)
		return domain.Item{}, err
	}
	s.complete(ctx, sessionID, "create", key, it)
	s.publish(ctx, domain.Event{Kind: domain.ItemCreated, Scope: scope, Item: it})
	return it, nil
}

func (s *Store) createLocked(ctx context.Context, sessionID, scope string, bucket domain.Bucket, fields domain.ItemFields) (domain.Item, error) {
	l := s.scopeLock(scope)
	l.Lock()
	defer l.Unlock()

	positions, err := s.bucketPositions(ctx, scope, bucket, "")
	if err != nil {
		return domain.Item{}, err
	}
	version := nextVersion()
	it := domain.Item{
		ID:          uuid.NewString(),
		Scope:       scope,
		Bucket:      bucket,
		Position:    order.Tail(positions),
		Title:       fields.Title,
		Description: fields.Description,
		Priority:    fields.Priority,
		Assignee:    fields.Assignee,
		DueDate:     fields.DueDate,
		CreatedBy:   sessionID,
		CreatedAt:   version,
		Version:     version,
	}
	if err := s.backend.InsertItem(ctx, it); err != nil {
		return domain.Item{}, err
	}
	return it, nil
}

// Update applies a partial field change. A non-zero expectedVersion pins the
// version the caller observed; a stale pin fails with ErrVersionConflict.
// Without a pin, concurrent writers resolve last-writer-wins.
func (s *Store) Update(ctx context.Context, scope, itemID string, patch domain.ItemPatch, expectedVersion int64) (domain.Item, error) {
	if err := domain.ValidatePatch(patch); err != nil {
		return domain.Item{}, err
	}
	for {
		it, err := s.backend.GetItem(ctx, scope, itemID)
		if err != nil {
			return domain.Item{}, err
		}
		if expectedVersion != 0 && it.Version != expectedVersion {
			return domain.Item{}, domain.ErrVersionConflict
		}
		prevVersion := it.Version
		patch.Apply(&it)
		it.Version = nextVersion()
		if err := s.backend.UpdateItem(ctx, it, prevVersion); err != nil {
			if errors.Is(err, ErrCASMismatch) {
				if expectedVersion != 0 {
					return domain.Item{}, domain.ErrVersionConflict
				}
				continue
			}
			return domain.Item{}, err
		}
		s.publish(ctx, domain.Event{Kind: domain.ItemUpdated, Scope: scope, Item: it})
		return it, nil
	}
}

// Move places the item at targetRank within destBucket, recomputing its
// position via the allocator. Rank is the 0-based display index among the
// destination bucket's items excluding the moving item itself.
func (s *Store) Move(ctx context.Context, sessionID, scope, itemID string, destBucket domain.Bucket, targetRank int, key string) (domain.Item, error) {
	if !destBucket.Valid() {
		return domain.Item{}, domain.ValidationError{Field: "bucket", Reason: "unknown value"}
	}
	if key == "" {
		key = uuid.NewString()
	}
	if prior, err := s.begin(ctx, sessionID, "move", key); err != nil {
		return domain.Item{}, err
	} else if prior != nil {
		return *prior, nil
	}

	it, reindexed, err := s.moveLocked(ctx, scope, itemID, destBucket, targetRank)
	if err != nil {
		s.release(ctx, sessionID, "move", key)
		return domain.Item{}, err
	}
	s.complete(ctx, sessionID, "move", key, it)
	s.publish(ctx, domain.Event{Kind: domain.ItemMoved, Scope: scope, Item: it, Reindexed: reindexed})
	return it, nil
}

func (s *Store) moveLocked(ctx context.Context, scope, itemID string, destBucket domain.Bucket, targetRank int) (domain.Item, []domain.Item, error) {
	l := s.scopeLock(scope)
	l.Lock()
	defer l.Unlock()

	it, err := s.backend.GetItem(ctx, scope, itemID)
	if err != nil {
		return domain.Item{}, nil, err
	}
	positions, err := s.bucketPositions(ctx, scope, destBucket, itemID)
	if err != nil {
		return domain.Item{}, nil, err
	}
	if !order.ValidRank(targetRank, len(positions)) {
		return domain.Item{}, nil, fmt.Errorf("rank %d of %d: %w", targetRank, len(positions), domain.ErrInvalidRank)
	}

	var reindexed []domain.Item
	pos, ok := order.ForRank(positions, targetRank)
	if !ok {
		// Gap exhausted: redistribute the destination bucket only, then
		// retry the allocation against the fresh positions.
		reindexed, positions, err = s.renumberBucket(ctx, scope, destBucket, itemID)
		if err != nil {
			return domain.Item{}, nil, err
		}
		pos, ok = order.ForRank(positions, targetRank)
		if !ok {
			return domain.Item{}, nil, fmt.Errorf("rank %d after renumber: %w", targetRank, domain.ErrInvalidRank)
		}
	}

	for {
		prevVersion := it.Version
		it.Bucket = destBucket
		it.Position = pos
		it.Version = nextVersion()
		if err := s.backend.UpdateItem(ctx, it, prevVersion); err != nil {
			if errors.Is(err, ErrCASMismatch) {
				// A concurrent field update slipped in; reload and reapply
				// the placement on top of it.
				it, err = s.backend.GetItem(ctx, scope, itemID)
				if err != nil {
					return domain.Item{}, nil, err
				}
				continue
			}
			return domain.Item{}, nil, err
		}
		return it, reindexed, nil
	}
}

// renumberBucket rewrites the positions of every item in the bucket (except
// skipID) with the standard gap. Runs under the scope lock.
func (s *Store) renumberBucket(ctx context.Context, scope string, bucket domain.Bucket, skipID string) ([]domain.Item, []int64, error) {
	items, err := s.bucketItems(ctx, scope, bucket, skipID)
	if err != nil {
		return nil, nil, err
	}
	fresh := order.Renumber(len(items))
	reindexed := make([]domain.Item, 0, len(items))
	for i := range items {
		if items[i].Position == fresh[i] {
			continue
		}
		for {
			prevVersion := items[i].Version
			items[i].Position = fresh[i]
			items[i].Version = nextVersion()
			if err := s.backend.UpdateItem(ctx, items[i], prevVersion); err != nil {
				if errors.Is(err, ErrCASMismatch) {
					reloaded, gerr := s.backend.GetItem(ctx, scope, items[i].ID)
					if gerr != nil {
						if errors.Is(gerr, domain.ErrNotFound) {
							break
						}
						return nil, nil, gerr
					}
					items[i] = reloaded
					continue
				}
				return nil, nil, err
			}
			reindexed = append(reindexed, items[i])
			break
		}
	}
	return reindexed, fresh, nil
}

// Delete permanently removes the item and emits a deletion event whose
// snapshot carries a fresh version so subscribers can order it against any
// cached state.
func (s *Store) Delete(ctx context.Context, scope, itemID string) error {
	it, err := s.backend.GetItem(ctx, scope, itemID)
	if err != nil {
		return err
	}
	if err := s.backend.DeleteItem(ctx, scope, itemID); err != nil {
		return err
	}
	it.Version = nextVersion()
	s.publish(ctx, domain.Event{Kind: domain.ItemDeleted, Scope: scope, Item: it})
	return nil
}

// Snapshot returns the authoritative bucket-sorted view of a scope.
func (s *Store) Snapshot(ctx context.Context, scope string) (domain.Board, error) {
	items, err := s.backend.ListItems(ctx, scope)
	if err != nil {
		return domain.Board{}, err
	}
	return domain.NewBoard(scope, items), nil
}

func (s *Store) bucketItems(ctx context.Context, scope string, bucket domain.Bucket, skipID string) ([]domain.Item, error) {
	all, err := s.backend.ListItems(ctx, scope)
	if err != nil {
		return nil, err
	}
	items := all[:0]
	for _, it := range all {
		if it.Bucket == bucket && it.ID != skipID {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Position < items[j].Position })
	return items, nil
}

func (s *Store) bucketPositions(ctx context.Context, scope string, bucket domain.Bucket, skipID string) ([]int64, error) {
	items, err := s.bucketItems(ctx, scope, bucket, skipID)
	if err != nil {
		return nil, err
	}
	positions := make([]int64, len(items))
	for i, it := range items {
		positions[i] = it.Position
	}
	return positions, nil
}
