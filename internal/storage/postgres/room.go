package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jmoiron/sqlx"

	"room_sync/internal/domain"
)

type RoomStore struct {
	db *sqlx.DB
}

func NewRoomStore(db *sqlx.DB) *RoomStore {
	return &RoomStore{db: db}
}

const roomColumns = `id, external_id, title, body, raw_snapshot, created_at, updated_at`

// FindByExternalID returns nil without error when no room has the id.
func (s *RoomStore) FindByExternalID(ctx context.Context, externalID string) (*domain.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE external_id = $1 FOR UPDATE`

	var room domain.Room
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &room, query, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// Insert stores a new room. The raw snapshot is only ever written here.
func (s *RoomStore) Insert(ctx context.Context, room *domain.Room) (int64, error) {
	query := `
		INSERT INTO rooms (external_id, title, body, raw_snapshot)
		VALUES ($1, $2, $3, $4::jsonb)
		RETURNING id`

	raw := room.RawSnapshot
	if len(raw) == 0 || !json.Valid(raw) {
		raw = json.RawMessage("null")
	}

	var id int64
	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		room.ExternalID,
		room.Title,
		room.Body,
		string(raw),
	).Scan(&id)
	if err != nil {
		return 0, err
	}

	return id, nil
}

// UpdateContent refreshes title and body and leaves the raw snapshot alone.
func (s *RoomStore) UpdateContent(ctx context.Context, id int64, title, body string) error {
	query := `UPDATE rooms SET title = $2, body = $3, updated_at = NOW() WHERE id = $1`

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, id, title, body)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

func (s *RoomStore) GetByID(ctx context.Context, id int64) (*domain.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE id = $1`

	var room domain.Room
	err := s.db.GetContext(ctx, &room, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// List returns rooms ordered by title without their raw snapshots.
func (s *RoomStore) List(ctx context.Context, limit, offset int) ([]domain.Room, error) {
	query := `
		SELECT id, external_id, title, body, created_at, updated_at
		FROM rooms
		ORDER BY title, id
		LIMIT $1 OFFSET $2`

	rooms := []domain.Room{}
	err := s.db.SelectContext(ctx, &rooms, query, limit, offset)
	return rooms, err
}
