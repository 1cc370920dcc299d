package client

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
	"boardsync/feed"
)

// Engine is the authoritative mutation surface a session talks to.
type Engine interface {
	Create(ctx context.Context, sessionID, scope string, bucket domain.Bucket, fields domain.ItemFields, key string) (domain.Item, error)
	Update(ctx context.Context, scope, itemID string, patch domain.ItemPatch, expectedVersion int64) (domain.Item, error)
	Move(ctx context.Context, sessionID, scope, itemID string, destBucket domain.Bucket, targetRank int, key string) (domain.Item, error)
	Delete(ctx context.Context, scope, itemID string) error
	Snapshot(ctx context.Context, scope string) (domain.Board, error)
}

const defaultMutationTimeout = 10 * time.Second

// Session binds an optimistic cache to the engine and the change feed for
// one scope. Its feed subscription is the reconciliation loop: every event,
// including echoes of the session's own mutations, is merged into the cache
// version-first. Mutation helpers predict locally, dispatch with a deadline,
// and roll back on failure or timeout without resubmitting.
type Session struct {
	id      string
	scope   string
	engine  Engine
	cache   *Cache
	timeout time.Duration
	logger  *log.Logger
	unsub   func()
}

// Open seeds the session's mirror from an authoritative snapshot and
// attaches it to the change feed.
func Open(ctx context.Context, sessionID, scope string, engine Engine, fd feed.Feed, logger *log.Logger) (*Session, error) {
	if logger == nil {
		logger = log.New()
	}
	s := &Session{
		id:      sessionID,
		scope:   scope,
		engine:  engine,
		cache:   NewCache(scope),
		timeout: defaultMutationTimeout,
		logger:  logger,
	}
	board, err := engine.Snapshot(ctx, scope)
	if err != nil {
		return nil, err
	}
	s.cache.Load(board)

	unsub, err := fd.Subscribe(ctx, scope, s.cache.ApplyEvent)
	if err != nil {
		return nil, err
	}
	s.unsub = unsub
	return s, nil
}

// SetTimeout overrides the per-mutation deadline.
func (s *Session) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// Snapshot returns the session's current reconciled, bucket-sorted view.
func (s *Session) Snapshot() domain.Board {
	return s.cache.Snapshot()
}

// Close detaches the session from the change feed. After it returns no
// further events reach the cache.
func (s *Session) Close() {
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
}

// Create predicts a new tail item and dispatches the create mutation.
func (s *Session) Create(ctx context.Context, bucket domain.Bucket, fields domain.ItemFields) (domain.Item, error) {
	tempID := "pending-" + uuid.NewString()
	predicted := s.cache.PredictCreate(tempID, bucket, fields)

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	it, err := s.engine.Create(cctx, s.id, s.scope, bucket, fields, uuid.NewString())
	if err != nil {
		if predicted {
			s.cache.Fail(tempID)
		}
		return domain.Item{}, err
	}
	if predicted {
		s.cache.ResolveCreate(tempID, it)
	} else {
		s.cache.Confirm(it.ID, it)
	}
	return it, nil
}

// Move predicts the reordering and dispatches the move mutation. An
// InvalidRank failure means the local view has drifted; the session resyncs
// the whole scope from the authoritative snapshot.
func (s *Session) Move(ctx context.Context, itemID string, bucket domain.Bucket, rank int) error {
	predicted := s.cache.PredictMove(itemID, bucket, rank)

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	it, err := s.engine.Move(cctx, s.id, s.scope, itemID, bucket, rank, uuid.NewString())
	if err != nil {
		if predicted {
			s.cache.Fail(itemID)
		}
		if errors.Is(err, domain.ErrInvalidRank) {
			s.resync(ctx)
		}
		return err
	}
	s.cache.Confirm(itemID, it)
	return nil
}

// Update predicts the field change and dispatches it pinned to the cached
// version, so a concurrent remote edit surfaces as ErrVersionConflict.
func (s *Session) Update(ctx context.Context, itemID string, patch domain.ItemPatch) error {
	expected := s.cache.Version(itemID)
	predicted := s.cache.PredictUpdate(itemID, patch)

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	it, err := s.engine.Update(cctx, s.scope, itemID, patch, expected)
	if err != nil {
		if predicted {
			s.cache.Fail(itemID)
		}
		return err
	}
	s.cache.Confirm(itemID, it)
	return nil
}

// Delete predicts the removal and dispatches the delete mutation.
func (s *Session) Delete(ctx context.Context, itemID string) error {
	predicted := s.cache.PredictDelete(itemID)

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.engine.Delete(cctx, s.scope, itemID); err != nil {
		if predicted {
			s.cache.Fail(itemID)
		}
		return err
	}
	s.cache.ConfirmDelete(itemID, 0)
	return nil
}

func (s *Session) resync(ctx context.Context) {
	board, err := s.engine.Snapshot(ctx, s.scope)
	if err != nil {
		s.logger.WithError(err).WithField("scope", s.scope).Error("resync failed")
		return
	}
	s.cache.Load(board)
}
