package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"room_sync/internal/domain"
)

// RoomStore is the entity store the synchronizer reconciles against.
// FindByExternalID returns (nil, nil) when no room carries the id.
type RoomStore interface {
	FindByExternalID(ctx context.Context, externalID string) (*domain.Room, error)
	Insert(ctx context.Context, room *domain.Room) (int64, error)
	UpdateContent(ctx context.Context, id int64, title, body string) error
}

type SyncStateStore interface {
	Get(ctx context.Context, sourceID string) (*domain.SyncState, error)
	Update(ctx context.Context, state *domain.SyncState) error
}

type Source interface {
	ID() string
	Name() string
	FetchRooms(ctx context.Context) ([]domain.RoomRecord, error)
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, room *domain.Room, isNew bool) error
	Close() error
}

// Locker guards a sync run across processes. The returned release func
// must be called once the run is over.
type Locker interface {
	Acquire(ctx context.Context) (release func(context.Context) error, err error)
}
