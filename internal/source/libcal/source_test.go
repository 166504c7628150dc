package libcal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLibCal struct {
	t            *testing.T
	tokenCalls   atomic.Int32
	itemFailures atomic.Int32
	revocations  atomic.Int32
	expiresIn    int
	routes       map[string]string
}

func (f *fakeLibCal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/1.1/oauth/token" {
		f.tokenCalls.Add(1)
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("client_secret") != "secret" || r.PostForm.Get("grant_type") != "client_credentials" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"access_token":"tok-1","expires_in":%d,"token_type":"Bearer"}`, f.expiresIn)
		return
	}

	if r.Header.Get("Authorization") != "Bearer tok-1" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if f.revocations.Load() > 0 {
		f.revocations.Add(-1)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if strings.HasPrefix(r.URL.Path, "/1.1/space/category/") && f.itemFailures.Load() > 0 {
		f.itemFailures.Add(-1)
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	body, ok := f.routes[r.URL.Path]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if strings.HasPrefix(r.URL.Path, "/1.1/space/category/") {
		assert.Equal(f.t, "1", r.URL.Query().Get("details"))
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

func newFake(t *testing.T) *fakeLibCal {
	return &fakeLibCal{
		t:         t,
		expiresIn: 3600,
		routes: map[string]string{
			"/1.1/space/locations":    `[{"lid":1,"name":"Main Library","public":1},{"lid":2,"name":"Science Library","public":1}]`,
			"/1.1/space/categories/1": `[{"lid":1,"name":"Main Library","categories":[{"cid":10,"name":"Group Study","public":1},{"cid":11,"name":"Accessible","public":1}]}]`,
			"/1.1/space/categories/2": `[{"lid":2,"name":"Science Library","categories":[{"cid":20,"name":"Labs","public":1}]}]`,
			"/1.1/space/category/10":  `[{"cid":10,"name":"Group Study","items":[{"id":100,"name":"Room 100","description":"Seats 6","capacity":6},{"id":101,"name":"Room 101","description":"Seats 4","capacity":4}]}]`,
			"/1.1/space/category/11":  `[{"cid":11,"name":"Accessible","items":[{"id":101,"name":"Room 101","description":"Seats 4","capacity":4},{"id":102,"name":"Room 102","description":"Ground floor"}]}]`,
			"/1.1/space/category/20":  `[{"cid":20,"name":"Labs","items":[{"id":200,"name":"Media Lab","description":"Recording booth","zone":"B"}]}]`,
		},
	}
}

func newTestSource(baseURL string, locationIDs []int64) *Source {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{
		BaseURL:        baseURL,
		ClientID:       "client",
		ClientSecret:   "secret",
		LocationIDs:    locationIDs,
		Concurrency:    2,
		Timeout:        5 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, logger)
}

func TestFetchRooms_AllLocations(t *testing.T) {
	fake := newFake(t)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	src := newTestSource(srv.URL, nil)

	records, err := src.FetchRooms(context.Background())
	require.NoError(t, err)

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ExternalID
	}
	assert.Equal(t, []string{"100", "101", "102", "200"}, ids)

	assert.Equal(t, "Room 100", records[0].Name)
	assert.Equal(t, "Seats 6", records[0].Description)
	assert.JSONEq(t, `{"id":100,"name":"Room 100","description":"Seats 6","capacity":6}`, string(records[0].Raw))
	assert.JSONEq(t, `{"id":200,"name":"Media Lab","description":"Recording booth","zone":"B"}`, string(records[3].Raw))

	assert.Equal(t, int32(1), fake.tokenCalls.Load())
}

func TestFetchRooms_ConfiguredLocations(t *testing.T) {
	fake := newFake(t)
	delete(fake.routes, "/1.1/space/locations")
	srv := httptest.NewServer(fake)
	defer srv.Close()

	src := newTestSource(srv.URL, []int64{2})

	records, err := src.FetchRooms(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "200", records[0].ExternalID)
	assert.Equal(t, "Media Lab", records[0].Name)
}

func TestFetchRooms_TokenReusedAcrossFetches(t *testing.T) {
	fake := newFake(t)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	src := newTestSource(srv.URL, []int64{1})

	_, err := src.FetchRooms(context.Background())
	require.NoError(t, err)
	_, err = src.FetchRooms(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), fake.tokenCalls.Load())
}

func TestFetchRooms_TokenRefreshedWhenExpired(t *testing.T) {
	fake := newFake(t)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	src := newTestSource(srv.URL, []int64{2})
	now := time.Now()
	src.now = func() time.Time { return now }

	_, err := src.FetchRooms(context.Background())
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = src.FetchRooms(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(2), fake.tokenCalls.Load())
}

func TestFetchRooms_RevokedTokenIsReplaced(t *testing.T) {
	fake := newFake(t)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	src := newTestSource(srv.URL, []int64{2})

	_, err := src.FetchRooms(context.Background())
	require.NoError(t, err)

	fake.revocations.Store(1)
	records, err := src.FetchRooms(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)

	assert.Equal(t, int32(2), fake.tokenCalls.Load())
}

func TestFetchRooms_PersistentUnauthorizedFails(t *testing.T) {
	fake := newFake(t)
	fake.revocations.Store(100)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	src := newTestSource(srv.URL, []int64{2})

	_, err := src.FetchRooms(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errUnauthorized)
	assert.Equal(t, int32(2), fake.tokenCalls.Load())
}

func TestFetchRooms_ShortLivedTokenIsCached(t *testing.T) {
	fake := newFake(t)
	fake.expiresIn = 30
	srv := httptest.NewServer(fake)
	defer srv.Close()

	src := newTestSource(srv.URL, []int64{2})
	now := time.Now()
	src.now = func() time.Time { return now }

	_, err := src.FetchRooms(context.Background())
	require.NoError(t, err)
	_, err = src.FetchRooms(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), fake.tokenCalls.Load())

	now = now.Add(20 * time.Second)
	_, err = src.FetchRooms(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), fake.tokenCalls.Load())
}

func TestFetchRooms_RetriesServerErrors(t *testing.T) {
	fake := newFake(t)
	fake.itemFailures.Store(2)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	src := newTestSource(srv.URL, []int64{2})

	records, err := src.FetchRooms(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestFetchRooms_FailsAfterRetries(t *testing.T) {
	fake := newFake(t)
	fake.itemFailures.Store(100)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	src := newTestSource(srv.URL, []int64{2})

	records, err := src.FetchRooms(context.Background())
	require.Error(t, err)
	assert.Nil(t, records)
	assert.Contains(t, err.Error(), "fetch items for category 20")
	assert.Contains(t, err.Error(), "unexpected status: 502")
}

func TestFetchRooms_BadCredentials(t *testing.T) {
	fake := newFake(t)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	src := newTestSource(srv.URL, nil)
	src.clientSecret = "wrong"

	_, err := src.FetchRooms(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request token")
}

func TestFetchRooms_SkipsUndecodableItems(t *testing.T) {
	fake := newFake(t)
	fake.routes["/1.1/space/category/20"] = `[{"cid":20,"items":[{"id":"not-a-number"},{"name":"no id"},{"id":201,"name":"Kept"}]}]`
	srv := httptest.NewServer(fake)
	defer srv.Close()

	src := newTestSource(srv.URL, []int64{2})

	records, err := src.FetchRooms(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "201", records[0].ExternalID)
}

func TestFetchRooms_ContextCanceled(t *testing.T) {
	fake := newFake(t)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	src := newTestSource(srv.URL, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.FetchRooms(ctx)
	assert.Error(t, err)
}

func TestSource_Identity(t *testing.T) {
	src := newTestSource("http://localhost", nil)
	assert.Equal(t, "libcal", src.ID())
	assert.Equal(t, "SpringShare LibCal", src.Name())
}
