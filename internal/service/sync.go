package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"room_sync/internal/domain"
	"room_sync/internal/lock"
)

var (
	// ErrSyncInProgress is returned when another process holds the sync lock.
	ErrSyncInProgress = errors.New("room sync already in progress")
	// ErrFetch wraps failures to retrieve rooms from the source.
	ErrFetch = errors.New("fetch rooms")
)

var errMissingExternalID = errors.New("record has no external id")

const syncKey = "room-sync"

type SyncService struct {
	source    Source
	rooms     RoomStore
	syncState SyncStateStore
	txManager TransactionManager
	publisher Publisher
	locker    Locker
	timeout   time.Duration
	logger    *slog.Logger

	group singleflight.Group
}

// NewSyncService wires a synchronizer. publisher and locker may be nil.
// A positive timeout bounds every run; keep it below the lock TTL.
func NewSyncService(
	source Source,
	rooms RoomStore,
	syncState SyncStateStore,
	txManager TransactionManager,
	publisher Publisher,
	locker Locker,
	timeout time.Duration,
	logger *slog.Logger,
) *SyncService {
	return &SyncService{
		source:    source,
		rooms:     rooms,
		syncState: syncState,
		txManager: txManager,
		publisher: publisher,
		locker:    locker,
		timeout:   timeout,
		logger:    logger.With("source", source.ID()),
	}
}

// Sync fetches rooms from the source and reconciles them with local storage.
// Concurrent callers in the same process share a single run and its result.
// The run is detached from the caller: a caller whose ctx ends stops waiting
// with ctx.Err() while the run continues for the others.
func (s *SyncService) Sync(ctx context.Context) (*domain.SyncStats, error) {
	ch := s.group.DoChan(syncKey, func() (any, error) {
		runCtx := context.WithoutCancel(ctx)
		if s.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, s.timeout)
			defer cancel()
		}
		return s.run(runCtx)
	})

	select {
	case <-ctx.Done():
		s.logger.Warn("stopped waiting for sync", "error", ctx.Err())
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			s.logger.Debug("joined in-flight sync")
		}
		stats, _ := res.Val.(*domain.SyncStats)
		return stats, res.Err
	}
}

func (s *SyncService) run(ctx context.Context) (*domain.SyncStats, error) {
	startTime := time.Now()
	stats := &domain.SyncStats{SourceID: s.source.ID()}

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx)
		if errors.Is(err, lock.ErrLocked) {
			s.logger.Warn("sync skipped, lock held elsewhere")
			return stats, ErrSyncInProgress
		}
		if err != nil {
			return stats, fmt.Errorf("acquire sync lock: %w", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Error("failed to release sync lock", "error", err)
			}
		}()
	}

	s.logger.Info("starting sync", "source_name", s.source.Name())

	records, err := s.source.FetchRooms(ctx)
	if err != nil {
		stats.Duration = time.Since(startTime)
		return stats, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	s.logger.Info("fetched rooms from source", "count", len(records))

	stats = s.Reconcile(ctx, records)

	if err := s.updateSyncState(ctx, stats); err != nil {
		stats.Duration = time.Since(startTime)
		return stats, fmt.Errorf("update sync state: %w", err)
	}

	stats.Duration = time.Since(startTime)

	s.logger.Info("sync completed",
		"retrieved", stats.Retrieved,
		"added", stats.Added,
		"updated", stats.Updated,
		"errors", stats.Errors,
		"published", stats.Published,
		"duration", stats.Duration,
	)

	return stats, nil
}

// Reconcile creates or updates one room per record, in input order. A record
// that fails to save is counted in Errors and the rest of the batch still runs.
func (s *SyncService) Reconcile(ctx context.Context, records []domain.RoomRecord) *domain.SyncStats {
	startTime := time.Now()
	stats := &domain.SyncStats{
		SourceID:  s.source.ID(),
		Retrieved: len(records),
	}

	for i := range records {
		if err := ctx.Err(); err != nil {
			remaining := len(records) - i
			stats.Errors += remaining
			s.logger.Warn("sync interrupted, skipping remaining rooms",
				"remaining", remaining,
				"error", err,
			)
			break
		}

		record := &records[i]

		room, isNew, err := s.saveRoom(ctx, record)
		if err != nil {
			stats.Errors++
			s.logger.Warn("failed to save room",
				"external_id", record.ExternalID,
				"error", err,
			)
			continue
		}

		if isNew {
			stats.Added++
		} else {
			stats.Updated++
		}

		if s.publisher != nil {
			if err := s.publisher.Publish(ctx, room, isNew); err != nil {
				stats.Errors++
				s.logger.Warn("failed to publish room change",
					"external_id", record.ExternalID,
					"error", err,
				)
			} else {
				stats.Published++
			}
		}
	}

	stats.Duration = time.Since(startTime)
	return stats
}

// saveRoom looks the record up by external id and updates title and body of
// a match, or inserts a new room carrying the raw snapshot.
func (s *SyncService) saveRoom(ctx context.Context, record *domain.RoomRecord) (*domain.Room, bool, error) {
	if record.ExternalID == "" {
		return nil, false, errMissingExternalID
	}

	var (
		room  *domain.Room
		isNew bool
	)

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		existing, err := s.rooms.FindByExternalID(txCtx, record.ExternalID)
		if err != nil {
			return fmt.Errorf("find room: %w", err)
		}

		if existing != nil {
			if err := s.rooms.UpdateContent(txCtx, existing.ID, record.Name, record.Description); err != nil {
				return fmt.Errorf("update room: %w", err)
			}
			existing.Title = record.Name
			existing.Body = record.Description
			room = existing
			return nil
		}

		room = domain.NewRoom(*record)
		id, err := s.rooms.Insert(txCtx, room)
		if err != nil {
			return fmt.Errorf("insert room: %w", err)
		}
		room.ID = id
		isNew = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return room, isNew, nil
}

func (s *SyncService) updateSyncState(ctx context.Context, stats *domain.SyncStats) error {
	state, err := s.syncState.Get(ctx, s.source.ID())
	if err != nil {
		return err
	}

	state.SourceID = s.source.ID()
	state.LastSyncedAt = time.Now()
	state.LastRetrieved = int64(stats.Retrieved)
	state.TotalSynced += int64(stats.Added + stats.Updated)

	return s.syncState.Update(ctx, state)
}
