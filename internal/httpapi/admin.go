package httpapi

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"room_sync/internal/domain"
	"room_sync/internal/service"
)

type Syncer interface {
	Sync(ctx context.Context) (*domain.SyncStats, error)
}

type RoomReader interface {
	GetByID(ctx context.Context, id int64) (*domain.Room, error)
	List(ctx context.Context, limit, offset int) ([]domain.Room, error)
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

var resultsTemplate = template.Must(template.New("results").Parse(
	`<h3>Results</h3>` +
		`{{if .Failed}}<p>Error</p>` +
		`{{else}}<ul>` +
		`<li><strong>Retrieved:</strong> {{.Retrieved}} rooms</li>` +
		`<li><strong>Imported:</strong> {{.Added}}</li>` +
		`<li><strong>Updated:</strong> {{.Updated}}</li>` +
		`</ul>{{end}}`,
))

type importResult struct {
	Failed    bool
	Retrieved int
	Added     int
	Updated   int
}

type AdminHandler struct {
	syncer Syncer
	rooms  RoomReader
	logger *slog.Logger
}

func NewAdminHandler(syncer Syncer, rooms RoomReader, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		syncer: syncer,
		rooms:  rooms,
		logger: logger,
	}
}

// ImportRooms runs a sync and renders the counts as an HTML fragment.
func (h *AdminHandler) ImportRooms(w http.ResponseWriter, r *http.Request) {
	stats, err := h.syncer.Sync(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, service.ErrSyncInProgress):
			status = http.StatusConflict
		case errors.Is(err, service.ErrFetch):
			status = http.StatusBadGateway
		}
		h.logger.Error("room import failed", "error", err, "status", status)
		h.renderResults(w, status, importResult{Failed: true})
		return
	}

	if claims, ok := ClaimsFromContext(r.Context()); ok {
		h.logger.Info("room import requested", "subject", claims.Subject)
	}

	h.renderResults(w, http.StatusOK, importResult{
		Retrieved: stats.Retrieved,
		Added:     stats.Added,
		Updated:   stats.Updated,
	})
}

func (h *AdminHandler) renderResults(w http.ResponseWriter, status int, res importResult) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := resultsTemplate.Execute(w, res); err != nil {
		h.logger.Error("render import results", "error", err)
	}
}

type roomSummary struct {
	ID         int64     `json:"id"`
	ExternalID string    `json:"external_id"`
	Title      string    `json:"title"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (h *AdminHandler) ListRooms(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultPageSize, maxPageSize)
	if limit == 0 {
		limit = defaultPageSize
	}
	offset := queryInt(r, "offset", 0, 0)

	rooms, err := h.rooms.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list rooms", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	out := make([]roomSummary, 0, len(rooms))
	for i := range rooms {
		out = append(out, summarize(&rooms[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *AdminHandler) GetRoom(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid room id"})
		return
	}

	room, err := h.rooms.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrRoomNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "room not found"})
		return
	}
	if err != nil {
		h.logger.Error("get room", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, room)
}

func summarize(room *domain.Room) roomSummary {
	return roomSummary{
		ID:         room.ID,
		ExternalID: room.ExternalID,
		Title:      room.Title,
		UpdatedAt:  room.UpdatedAt,
	}
}
