package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"room_sync/internal/domain"
	"room_sync/internal/service"
)

type fakeSyncer struct {
	stats *domain.SyncStats
	err   error
	calls int
}

func (f *fakeSyncer) Sync(context.Context) (*domain.SyncStats, error) {
	f.calls++
	return f.stats, f.err
}

type fakeRooms struct {
	rooms   []domain.Room
	listErr error

	gotLimit  int
	gotOffset int
}

func (f *fakeRooms) GetByID(_ context.Context, id int64) (*domain.Room, error) {
	for i := range f.rooms {
		if f.rooms[i].ID == id {
			return &f.rooms[i], nil
		}
	}
	return nil, domain.ErrRoomNotFound
}

func (f *fakeRooms) List(_ context.Context, limit, offset int) ([]domain.Room, error) {
	f.gotLimit, f.gotOffset = limit, offset
	return f.rooms, f.listErr
}

type fakePinger struct{ err error }

func (f fakePinger) PingContext(context.Context) error { return f.err }

type AdminAPITestSuite struct {
	suite.Suite
	syncer *fakeSyncer
	rooms  *fakeRooms
	db     *fakePinger
	router *Router
	token  string
}

func TestAdminAPITestSuite(t *testing.T) {
	suite.Run(t, new(AdminAPITestSuite))
}

func (s *AdminAPITestSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))

	s.syncer = &fakeSyncer{}
	s.rooms = &fakeRooms{
		rooms: []domain.Room{
			{
				ID:          1,
				ExternalID:  "100",
				Title:       "Room 100",
				Body:        "Seats 6",
				RawSnapshot: json.RawMessage(`{"id":100,"capacity":6}`),
				UpdatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			},
		},
	}
	s.db = &fakePinger{}

	auth, err := NewAuthenticator("test-secret", "room_sync")
	s.Require().NoError(err)
	s.token, err = auth.Issue("alice", []string{CapabilityImportRooms}, time.Hour)
	s.Require().NoError(err)

	s.router = NewRouter(logger)
	s.router.RegisterAdminRoutes(NewAdminHandler(s.syncer, s.rooms, logger), auth)
	s.router.RegisterHealth(s.db)
}

func (s *AdminAPITestSuite) do(method, target string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if authed {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *AdminAPITestSuite) TestImport_RendersCounts() {
	s.syncer.stats = &domain.SyncStats{Retrieved: 5, Added: 2, Updated: 3}

	rec := s.do(http.MethodPost, "/admin/rooms/import", true)

	s.Equal(http.StatusOK, rec.Code)
	s.Equal("text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	s.Equal(
		`<h3>Results</h3><ul>`+
			`<li><strong>Retrieved:</strong> 5 rooms</li>`+
			`<li><strong>Imported:</strong> 2</li>`+
			`<li><strong>Updated:</strong> 3</li></ul>`,
		rec.Body.String(),
	)
	s.Equal(1, s.syncer.calls)
}

func (s *AdminAPITestSuite) TestImport_ZeroRooms() {
	s.syncer.stats = &domain.SyncStats{}

	rec := s.do(http.MethodPost, "/admin/rooms/import", true)

	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "<strong>Retrieved:</strong> 0 rooms")
}

func (s *AdminAPITestSuite) TestImport_ErrorStatuses() {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "in progress", err: service.ErrSyncInProgress, status: http.StatusConflict},
		{name: "fetch", err: fmt.Errorf("%w: boom", service.ErrFetch), status: http.StatusBadGateway},
		{name: "other", err: errors.New("update sync state: db down"), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.syncer.stats = &domain.SyncStats{}
			s.syncer.err = tt.err

			rec := s.do(http.MethodPost, "/admin/rooms/import", true)

			s.Equal(tt.status, rec.Code)
			s.Equal(`<h3>Results</h3><p>Error</p>`, rec.Body.String())
		})
	}
}

func (s *AdminAPITestSuite) TestImport_RequiresToken() {
	rec := s.do(http.MethodPost, "/admin/rooms/import", false)

	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal(0, s.syncer.calls)
}

func (s *AdminAPITestSuite) TestImport_WrongMethod() {
	rec := s.do(http.MethodDelete, "/admin/rooms/import", true)

	s.Equal(http.StatusMethodNotAllowed, rec.Code)
}

func (s *AdminAPITestSuite) TestListRooms() {
	rec := s.do(http.MethodGet, "/admin/rooms?limit=10&offset=20", true)

	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`[{"id":1,"external_id":"100","title":"Room 100","updated_at":"2026-01-02T03:04:05Z"}]`, rec.Body.String())
	s.Equal(10, s.rooms.gotLimit)
	s.Equal(20, s.rooms.gotOffset)
}

func (s *AdminAPITestSuite) TestListRooms_ClampsPaging() {
	rec := s.do(http.MethodGet, "/admin/rooms?limit=100000&offset=-3", true)

	s.Equal(http.StatusOK, rec.Code)
	s.Equal(maxPageSize, s.rooms.gotLimit)
	s.Equal(0, s.rooms.gotOffset)
}

func (s *AdminAPITestSuite) TestListRooms_StoreError() {
	s.rooms.listErr = errors.New("db down")

	rec := s.do(http.MethodGet, "/admin/rooms", true)

	s.Equal(http.StatusInternalServerError, rec.Code)
}

func (s *AdminAPITestSuite) TestGetRoom_IncludesSnapshot() {
	rec := s.do(http.MethodGet, "/admin/rooms/1", true)

	s.Equal(http.StatusOK, rec.Code)

	var got domain.Room
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &got))
	s.Equal("Room 100", got.Title)
	s.Equal("Seats 6", got.Body)
	s.JSONEq(`{"id":100,"capacity":6}`, string(got.RawSnapshot))
}

func (s *AdminAPITestSuite) TestGetRoom_NotFound() {
	rec := s.do(http.MethodGet, "/admin/rooms/99", true)

	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *AdminAPITestSuite) TestGetRoom_InvalidID() {
	rec := s.do(http.MethodGet, "/admin/rooms/abc", true)

	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *AdminAPITestSuite) TestHealthz() {
	rec := s.do(http.MethodGet, "/healthz", false)
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"status":"ok"}`, rec.Body.String())

	s.db.err = errors.New("connection refused")
	rec = s.do(http.MethodGet, "/healthz", false)
	s.Equal(http.StatusServiceUnavailable, rec.Code)
}
