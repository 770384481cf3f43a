package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"playerhub/internal/domain"
)

type fakeWatchHistoryStore struct {
	positions map[string]domain.WatchPosition
	listErr   error
	getErr    error
	lastLimit int
}

func newFakeWatchHistoryStore() *fakeWatchHistoryStore {
	return &fakeWatchHistoryStore{positions: make(map[string]domain.WatchPosition)}
}

func (f *fakeWatchHistoryStore) Get(_ context.Context, source string) (domain.WatchPosition, error) {
	if f.getErr != nil {
		return domain.WatchPosition{}, f.getErr
	}
	pos, ok := f.positions[source]
	if !ok {
		return domain.WatchPosition{}, domain.ErrNotFound
	}
	return pos, nil
}

func (f *fakeWatchHistoryStore) ListRecent(_ context.Context, limit int) ([]domain.WatchPosition, error) {
	f.lastLimit = limit
	if f.listErr != nil {
		return nil, f.listErr
	}
	result := make([]domain.WatchPosition, 0, len(f.positions))
	for _, p := range f.positions {
		result = append(result, p)
	}
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func TestWatchHistory_List(t *testing.T) {
	store := newFakeWatchHistoryStore()
	store.positions["https://a.example.com/1.mp4"] = domain.WatchPosition{Source: "https://a.example.com/1.mp4", Position: 10, UpdatedAt: time.Unix(1700000000, 0).UTC()}
	s := NewServer(WithWatchHistory(store))
	defer s.Close()

	rec := doRequest(s, http.MethodGet, "/watch-history", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []domain.WatchPosition
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Position != 10 {
		t.Fatalf("positions = %+v", got)
	}
	if store.lastLimit != defaultHistoryLimit {
		t.Fatalf("limit = %d, want default", store.lastLimit)
	}
}

func TestWatchHistory_Limit(t *testing.T) {
	tests := []struct {
		query  string
		status int
		limit  int
	}{
		{"?limit=5", http.StatusOK, 5},
		{"?limit=0", http.StatusBadRequest, 0},
		{"?limit=abc", http.StatusBadRequest, 0},
		{"?limit=-2", http.StatusBadRequest, 0},
	}
	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			store := newFakeWatchHistoryStore()
			s := NewServer(WithWatchHistory(store))
			defer s.Close()

			rec := doRequest(s, http.MethodGet, "/watch-history"+tc.query, "")
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			if tc.status == http.StatusOK && store.lastLimit != tc.limit {
				t.Fatalf("limit = %d, want %d", store.lastLimit, tc.limit)
			}
		})
	}
}

func TestWatchHistory_GetBySource(t *testing.T) {
	store := newFakeWatchHistoryStore()
	store.positions["https://a.example.com/1.mp4"] = domain.WatchPosition{Source: "https://a.example.com/1.mp4", Position: 42}
	s := NewServer(WithWatchHistory(store))
	defer s.Close()

	rec := doRequest(s, http.MethodGet, "/watch-history?src=https://a.example.com/1.mp4", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got domain.WatchPosition
	_ = json.NewDecoder(rec.Body).Decode(&got)
	if got.Position != 42 {
		t.Fatalf("position = %+v", got)
	}

	if rec := doRequest(s, http.MethodGet, "/watch-history?src=https://a.example.com/missing.mp4", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d", rec.Code)
	}

	store.getErr = errors.New("db down")
	if rec := doRequest(s, http.MethodGet, "/watch-history?src=https://a.example.com/1.mp4", ""); rec.Code != http.StatusInternalServerError {
		t.Fatalf("error status = %d", rec.Code)
	}
}

func TestWatchHistory_Errors(t *testing.T) {
	s := NewServer()
	defer s.Close()
	if rec := doRequest(s, http.MethodGet, "/watch-history", ""); rec.Code != http.StatusNotImplemented {
		t.Fatalf("unconfigured status = %d", rec.Code)
	}

	store := newFakeWatchHistoryStore()
	store.listErr = errors.New("db down")
	s2 := NewServer(WithWatchHistory(store))
	defer s2.Close()
	if rec := doRequest(s2, http.MethodGet, "/watch-history", ""); rec.Code != http.StatusInternalServerError {
		t.Fatalf("list error status = %d", rec.Code)
	}
	if rec := doRequest(s2, http.MethodPost, "/watch-history", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST status = %d", rec.Code)
	}
}
