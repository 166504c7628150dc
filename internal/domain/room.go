package domain

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrRoomNotFound = errors.New("room not found")

// RoomRecord is a room as reported by the external scheduling system.
type RoomRecord struct {
	ExternalID  string
	Name        string
	Description string
	Raw         json.RawMessage // full upstream payload, forwarded as-is
}

type Room struct {
	ID          int64           `db:"id" json:"id"`
	ExternalID  string          `db:"external_id" json:"external_id"`
	Title       string          `db:"title" json:"title"`
	Body        string          `db:"body" json:"body"`
	RawSnapshot json.RawMessage `db:"raw_snapshot" json:"raw_snapshot,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// NewRoom builds the entity stored the first time a record is seen.
func NewRoom(rec RoomRecord) *Room {
	return &Room{
		ExternalID:  rec.ExternalID,
		Title:       rec.Name,
		Body:        rec.Description,
		RawSnapshot: rec.Raw,
	}
}

type SyncState struct {
	ID            int64     `db:"id"`
	SourceID      string    `db:"source_id"`
	LastSyncedAt  time.Time `db:"last_synced_at"`
	LastRetrieved int64     `db:"last_retrieved"`
	TotalSynced   int64     `db:"total_synced"`
}
