package libcal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"

	"room_sync/internal/domain"
)

const (
	SourceID   = "libcal"
	SourceName = "SpringShare LibCal"

	tokenLeeway = 60 * time.Second
)

var errUnauthorized = errors.New("unauthorized")

// Config holds LibCal source configuration.
type Config struct {
	BaseURL        string
	ClientID       string
	ClientSecret   string
	LocationIDs    []int64
	Concurrency    int
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Source implements service.Source for the LibCal spaces API.
type Source struct {
	client       *resty.Client
	clientID     string
	clientSecret string
	locationIDs  []int64
	concurrency  int
	logger       *slog.Logger
	now          func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// New creates a new LibCal source.
func New(cfg Config, logger *slog.Logger) *Source {
	retries := cfg.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(cfg.InitialBackoff).
		SetRetryMaxWaitTime(cfg.MaxBackoff).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "RoomSync/1.0")

	return &Source{
		client:       client,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		locationIDs:  cfg.LocationIDs,
		concurrency:  concurrency,
		logger:       logger.With("source", SourceID),
		now:          time.Now,
	}
}

// ID returns the source identifier.
func (s *Source) ID() string {
	return SourceID
}

// Name returns human-readable name.
func (s *Source) Name() string {
	return SourceName
}

// FetchRooms walks locations, their space categories and the items of each
// category. Output keeps that order; an item listed under several categories
// is returned once.
func (s *Source) FetchRooms(ctx context.Context) ([]domain.RoomRecord, error) {
	locationIDs := s.locationIDs
	if len(locationIDs) == 0 {
		locations, err := s.fetchLocations(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch locations: %w", err)
		}
		for _, loc := range locations {
			locationIDs = append(locationIDs, loc.LID)
		}
	}

	var categories []Category
	for _, lid := range locationIDs {
		cats, err := s.fetchCategories(ctx, lid)
		if err != nil {
			return nil, fmt.Errorf("fetch categories for location %d: %w", lid, err)
		}
		categories = append(categories, cats...)
	}

	s.logger.Debug("fetched categories",
		"locations", len(locationIDs),
		"categories", len(categories),
	)

	itemsByCategory := make([][]json.RawMessage, len(categories))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, cat := range categories {
		g.Go(func() error {
			items, err := s.fetchCategoryItems(gctx, cat.CID)
			if err != nil {
				return fmt.Errorf("fetch items for category %d: %w", cat.CID, err)
			}
			itemsByCategory[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return s.transform(itemsByCategory), nil
}

func (s *Source) fetchLocations(ctx context.Context) ([]Location, error) {
	var locations []Location
	if err := s.get(ctx, "/1.1/space/locations", &locations); err != nil {
		return nil, err
	}
	return locations, nil
}

func (s *Source) fetchCategories(ctx context.Context, lid int64) ([]Category, error) {
	var resp []LocationCategories
	if err := s.get(ctx, "/1.1/space/categories/"+strconv.FormatInt(lid, 10), &resp); err != nil {
		return nil, err
	}

	var categories []Category
	for _, lc := range resp {
		categories = append(categories, lc.Categories...)
	}
	return categories, nil
}

func (s *Source) fetchCategoryItems(ctx context.Context, cid int64) ([]json.RawMessage, error) {
	var resp []CategoryItems
	if err := s.get(ctx, "/1.1/space/category/"+strconv.FormatInt(cid, 10)+"?details=1", &resp); err != nil {
		return nil, err
	}

	var items []json.RawMessage
	for _, ci := range resp {
		items = append(items, ci.Items...)
	}
	return items, nil
}

// get retries once with a fresh token when LibCal rejects the cached one,
// which happens when a token is revoked before it expires.
func (s *Source) get(ctx context.Context, path string, out any) error {
	err := s.getWithToken(ctx, path, out)
	if errors.Is(err, errUnauthorized) {
		s.logger.Debug("access token rejected, requesting a new one", "path", path)
		err = s.getWithToken(ctx, path, out)
	}
	return err
}

func (s *Source) getWithToken(ctx context.Context, path string, out any) error {
	token, err := s.accessToken(ctx)
	if err != nil {
		return err
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(out).
		Get(path)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}

	if resp.StatusCode() == http.StatusUnauthorized {
		s.invalidateToken(token)
		return fmt.Errorf("%s: %w", path, errUnauthorized)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode())
	}

	return nil
}

// accessToken returns the cached bearer token, requesting a new one through
// the client-credentials grant when it is missing or about to expire.
func (s *Source) accessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Before(s.tokenExpiry) {
		return s.token, nil
	}

	var tok tokenResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"client_id":     s.clientID,
			"client_secret": s.clientSecret,
			"grant_type":    "client_credentials",
		}).
		SetResult(&tok).
		Post("/1.1/oauth/token")
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("request token: unexpected status: %d", resp.StatusCode())
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("request token: empty access token")
	}

	s.token = tok.AccessToken
	lifetime := time.Duration(tok.ExpiresIn) * time.Second
	s.tokenExpiry = s.now().Add(lifetime - min(tokenLeeway, lifetime/2))

	s.logger.Debug("obtained access token", "expires_in", tok.ExpiresIn)

	return s.token, nil
}

func (s *Source) invalidateToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == token {
		s.token = ""
	}
}

func (s *Source) transform(itemsByCategory [][]json.RawMessage) []domain.RoomRecord {
	seen := make(map[int64]struct{})
	var records []domain.RoomRecord

	for _, items := range itemsByCategory {
		for _, raw := range items {
			var item Item
			if err := json.Unmarshal(raw, &item); err != nil {
				s.logger.Warn("failed to decode space item", "error", err)
				continue
			}
			if item.ID == 0 {
				s.logger.Warn("space item without id", "name", item.Name)
				continue
			}
			if _, dup := seen[item.ID]; dup {
				continue
			}
			seen[item.ID] = struct{}{}

			records = append(records, domain.RoomRecord{
				ExternalID:  strconv.FormatInt(item.ID, 10),
				Name:        item.Name,
				Description: item.Description,
				Raw:         raw,
			})
		}
	}

	return records
}
