package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/growsignal/alphafeed/internal/config"
	"github.com/growsignal/alphafeed/internal/feed"
	"github.com/growsignal/alphafeed/internal/store/memory"
)

type fakeInjecter struct {
	item feed.Item
	err  error
	urls []string
}

func (f *fakeInjecter) Inject(_ context.Context, url, _ string) (feed.Item, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return feed.Item{}, f.err
	}
	return f.item, nil
}

func newTestServer(injecter Injecter, items feed.ItemStore, cfg config.ServerConfig) *httptest.Server {
	s := NewServer(injecter, items, cfg, zap.NewNop())
	return httptest.NewServer(s.Handler())
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeInjecter{}, memory.NewItemStore(), config.ServerConfig{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestRequestIDLoggedOnCompletion(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	s := NewServer(&fakeInjecter{}, memory.NewItemStore(), config.ServerConfig{}, zap.New(core))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	reqID := resp.Header.Get("X-Request-ID")
	require.NotEmpty(t, reqID)

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	require.Equal(t, reqID, entries[0].ContextMap()["request_id"])
}

func TestInjectAccepted(t *testing.T) {
	t.Parallel()

	injecter := &fakeInjecter{item: feed.Item{ID: "abc", Text: "injected text", Stage: feed.StageAlphaFiltered}}
	srv := newTestServer(injecter, memory.NewItemStore(), config.ServerConfig{})
	defer srv.Close()

	body := strings.NewReader(`{"url":"https://example.com/story","category_hint":"Macro"}`)
	resp, err := http.Post(srv.URL+"/v1/inject", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var got struct {
		Item feed.Item `json:"item"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, "abc", got.Item.ID)
	require.Equal(t, []string{"https://example.com/story"}, injecter.urls)
}

func TestInjectValidation(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeInjecter{}, memory.NewItemStore(), config.ServerConfig{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/inject", "application/json", strings.NewReader(`not json`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/v1/inject", "application/json", strings.NewReader(`{"url":""}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInjectResolverFailure(t *testing.T) {
	t.Parallel()

	injecter := &fakeInjecter{err: fmt.Errorf("resolve failed")}
	srv := newTestServer(injecter, memory.NewItemStore(), config.ServerConfig{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/inject", "application/json", strings.NewReader(`{"url":"https://example.com"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestNewsItemsGroupedByCategory(t *testing.T) {
	t.Parallel()

	items := memory.NewItemStore()
	now := time.Unix(1700000000, 0).UTC()
	require.NoError(t, items.UpsertBatch(context.Background(), feed.StageNewsFiltered, []feed.Item{
		{ID: "a", Text: "macro news item", Timestamp: now, Category: "Macro", Stage: feed.StageNewsFiltered},
		{ID: "b", Text: "more macro news", Timestamp: now, Category: "Macro", Stage: feed.StageNewsFiltered},
		{ID: "c", Text: "crypto news item", Timestamp: now, Category: "Crypto", Stage: feed.StageNewsFiltered},
	}))

	srv := newTestServer(&fakeInjecter{}, items, config.ServerConfig{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/items/news")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Count  int                    `json:"count"`
		Groups map[string][]feed.Item `json:"groups"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, 3, got.Count)
	require.Len(t, got.Groups["Macro"], 2)
	require.Len(t, got.Groups["Crypto"], 1)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.ServerConfig{AuthEnabled: true, APIKey: "sekrit"}
	srv := newTestServer(&fakeInjecter{}, memory.NewItemStore(), cfg)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/items/news")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/items/news", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "sekrit")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Health endpoints stay open.
	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
