package tmdb

import (
	"context"
	"encoding/json"
	stderr "errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/showgrid/showgrid/pkg/errors"
	"github.com/showgrid/showgrid/pkg/types"
)

var _ types.Fetcher = (*Client)(nil)

func newTestClient(t *testing.T, config *ClientConfig, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	if config == nil {
		config = &ClientConfig{}
	}
	config.BaseURL = server.URL
	if config.APIKey == "" {
		config.APIKey = "test-key"
	}
	if config.RetryMax == 0 {
		config.RetryMax = 1
	}
	config.RetryWaitMin = time.Millisecond
	config.RetryWaitMax = 5 * time.Millisecond

	client, err := NewClient(config)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient(nil)
	if err == nil {
		t.Fatal("expected an error without an API key")
	}
	if errors.Code(err) != errors.ErrCodeInvalidConfig {
		t.Errorf("expected INVALID_CONFIG, got %v", errors.Code(err))
	}
}

func TestNewClient_Defaults(t *testing.T) {
	client, err := NewClient(&ClientConfig{APIKey: "k"})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	if client.config.BaseURL != DefaultBaseURL {
		t.Errorf("expected default base URL, got %q", client.config.BaseURL)
	}
	if client.config.Language != "en-US" {
		t.Errorf("expected default language en-US, got %q", client.config.Language)
	}
	if client.config.Timeout != 10*time.Second {
		t.Errorf("expected default timeout 10s, got %v", client.config.Timeout)
	}
	if client.config.RetryMax != 3 {
		t.Errorf("expected default retry max 3, got %d", client.config.RetryMax)
	}
}

func TestClient_MovieDetails_Full(t *testing.T) {
	client := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/movie/603" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		query := r.URL.Query()
		if query.Get("api_key") != "test-key" {
			t.Errorf("expected api_key, got %q", query.Get("api_key"))
		}
		if query.Get("language") != "en-US" {
			t.Errorf("expected language, got %q", query.Get("language"))
		}
		if query.Get("append_to_response") != detailAppends {
			t.Errorf("expected appended sub-resources, got %q", query.Get("append_to_response"))
		}
		w.Write([]byte(`{
			"id": 603, "title": "The Matrix", "runtime": 136,
			"credits": {"cast": [{"id": 6384, "name": "Keanu Reeves", "character": "Neo"}]},
			"videos": {"results": [{"key": "vKQi3bBA1y8", "site": "YouTube", "type": "Trailer"}]}
		}`))
	})

	movie, err := client.MovieDetails(context.Background(), "603", false)
	if err != nil {
		t.Fatalf("MovieDetails failed: %v", err)
	}

	if movie.ID != 603 || movie.Title != "The Matrix" || movie.Runtime != 136 {
		t.Errorf("unexpected movie %+v", movie)
	}
	if movie.Credits == nil || len(movie.Credits.Cast) != 1 || movie.Credits.Cast[0].Name != "Keanu Reeves" {
		t.Errorf("expected appended credits, got %+v", movie.Credits)
	}
	if movie.Videos == nil || len(movie.Videos.Results) != 1 {
		t.Errorf("expected appended videos, got %+v", movie.Videos)
	}
}

func TestClient_MovieDetails_Essential(t *testing.T) {
	client := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("append_to_response") {
			t.Error("expected no appended sub-resources on an essential fetch")
		}
		w.Write([]byte(`{"id": 603, "title": "The Matrix"}`))
	})

	movie, err := client.MovieDetails(context.Background(), "603", true)
	if err != nil {
		t.Fatalf("MovieDetails failed: %v", err)
	}
	if movie.Credits != nil {
		t.Error("expected no credits on an essential fetch")
	}
}

func TestClient_TVDetails(t *testing.T) {
	client := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tv/1399" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"id": 1399, "name": "Game of Thrones", "number_of_seasons": 8}`))
	})

	show, err := client.TVDetails(context.Background(), "1399", false)
	if err != nil {
		t.Fatalf("TVDetails failed: %v", err)
	}
	if show.Name != "Game of Thrones" || show.NumberOfSeasons != 8 {
		t.Errorf("unexpected show %+v", show)
	}
}

func TestClient_MovieCredits(t *testing.T) {
	client := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/movie/603/credits" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"cast": [{"id": 6384, "name": "Keanu Reeves"}], "crew": [{"id": 9339, "name": "Lana Wachowski", "job": "Director"}]}`))
	})

	credits, err := client.MovieCredits(context.Background(), "603")
	if err != nil {
		t.Fatalf("MovieCredits failed: %v", err)
	}
	if len(credits.Cast) != 1 || len(credits.Crew) != 1 {
		t.Errorf("unexpected credits %+v", credits)
	}
	if credits.Crew[0].Job != "Director" {
		t.Errorf("unexpected crew %+v", credits.Crew[0])
	}
}

func TestClient_WatchProvidersRegionFilter(t *testing.T) {
	payload := `{"results": {
		"US": {"link": "https://example/us", "flatrate": [{"provider_id": 8, "provider_name": "Netflix"}]},
		"DE": {"link": "https://example/de", "flatrate": [{"provider_id": 9, "provider_name": "Prime"}]}
	}}`

	client := newTestClient(t, &ClientConfig{Region: "US"}, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/movie/603/watch/providers" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(payload))
	})

	table, err := client.WatchProviders(context.Background(), types.KindMovie, "603")
	if err != nil {
		t.Fatalf("WatchProviders failed: %v", err)
	}
	if len(table.Results) != 1 {
		t.Fatalf("expected the table narrowed to one region, got %d", len(table.Results))
	}
	us, ok := table.Results["US"]
	if !ok {
		t.Fatal("expected the configured region to survive")
	}
	if len(us.Flatrate) != 1 || us.Flatrate[0].ProviderName != "Netflix" {
		t.Errorf("unexpected providers %+v", us.Flatrate)
	}
}

func TestClient_SimilarPaging(t *testing.T) {
	client := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tv/1399/similar" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.URL.Query().Get("page") != "2" {
			t.Errorf("expected page 2, got %q", r.URL.Query().Get("page"))
		}
		w.Write([]byte(`{"page": 2, "results": [{"id": 1402, "name": "The Walking Dead"}], "total_pages": 5}`))
	})

	page, err := client.Similar(context.Background(), types.KindTVShow, "1399", 2)
	if err != nil {
		t.Fatalf("Similar failed: %v", err)
	}
	if page.Page != 2 || len(page.Results) != 1 || page.Results[0].Name != "The Walking Dead" {
		t.Errorf("unexpected page %+v", page)
	}
}

func TestClient_List(t *testing.T) {
	client := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trending/movie/week" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.URL.Query().Has("page") {
			t.Error("expected no page param for the first page")
		}
		w.Write([]byte(`{"page": 1, "results": [{"id": 603, "title": "The Matrix", "media_type": "movie"}]}`))
	})

	page, err := client.List(context.Background(), "trending/movie/week", 1)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(page.Results) != 1 || page.Results[0].MediaType != "movie" {
		t.Errorf("unexpected page %+v", page)
	}
}

func TestClient_SearchMulti(t *testing.T) {
	client := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search/multi" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.URL.Query().Get("query") != "matrix" {
			t.Errorf("expected search query, got %q", r.URL.Query().Get("query"))
		}
		w.Write([]byte(`{"page": 1, "results": [{"id": 603, "title": "The Matrix"}, {"id": 604, "title": "The Matrix Reloaded"}]}`))
	})

	page, err := client.SearchMulti(context.Background(), "matrix", 1)
	if err != nil {
		t.Fatalf("SearchMulti failed: %v", err)
	}
	if len(page.Results) != 2 {
		t.Errorf("expected 2 results, got %d", len(page.Results))
	}
}

func TestClient_APIError(t *testing.T) {
	client := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"status_code": 34, "status_message": "The resource you requested could not be found."}`))
	})

	_, err := client.MovieDetails(context.Background(), "0", true)
	if err == nil {
		t.Fatal("expected an error for a missing resource")
	}
	if errors.Code(err) != errors.ErrCodeFetchFailed {
		t.Errorf("expected FETCH_FAILED, got %v", errors.Code(err))
	}

	var gridErr *errors.GridError
	if !stderr.As(err, &gridErr) {
		t.Fatal("expected a structured error")
	}
	if gridErr.Message != "The resource you requested could not be found." {
		t.Errorf("expected the API's own message, got %q", gridErr.Message)
	}
	if gridErr.Details["http_status"] != http.StatusNotFound {
		t.Errorf("expected http_status detail, got %v", gridErr.Details["http_status"])
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var attempts int32
	client := newTestClient(t, &ClientConfig{RetryMax: 3}, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"id": 603, "title": "The Matrix"}`))
	})

	movie, err := client.MovieDetails(context.Background(), "603", true)
	if err != nil {
		t.Fatalf("expected retries to recover, got %v", err)
	}
	if movie.Title != "The Matrix" {
		t.Errorf("unexpected movie %+v", movie)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestClient_FetcherFor(t *testing.T) {
	client := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/movie/603":
			w.Write([]byte(`{"id": 603, "title": "The Matrix"}`))
		case "/search/multi":
			w.Write([]byte(`{"page": 1, "results": [{"id": 603, "title": "The Matrix"}]}`))
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	fn := client.FetcherFor(types.KindMovie, "603", true)
	if fn == nil {
		t.Fatal("expected a fetch function for movies")
	}
	data, err := fn(context.Background())
	if err != nil {
		t.Fatalf("movie fetch failed: %v", err)
	}
	var movie Movie
	if err := json.Unmarshal(data, &movie); err != nil {
		t.Fatalf("failed to decode fetched movie: %v", err)
	}
	if movie.Title != "The Matrix" {
		t.Errorf("unexpected movie %+v", movie)
	}

	fn = client.FetcherFor(types.KindSearch, "matrix", false)
	if fn == nil {
		t.Fatal("expected a fetch function for searches")
	}
	if _, err := fn(context.Background()); err != nil {
		t.Fatalf("search fetch failed: %v", err)
	}

	if fn := client.FetcherFor(types.ContentKind(99), "x", false); fn != nil {
		t.Error("expected no fetch function for an unknown kind")
	}
}

func TestClient_FetcherForNormalizesPayload(t *testing.T) {
	client := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": 603, "title": "The Matrix", "budget": 63000000, "production_companies": [{"id": 79}]}`))
	})

	fn := client.FetcherFor(types.KindMovie, "603", true)
	data, err := fn(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if decoded["title"] != "The Matrix" {
		t.Errorf("expected known fields to survive, got %v", decoded)
	}
	if _, ok := decoded["budget"]; ok {
		t.Error("expected unknown upstream fields to be stripped before caching")
	}
}

func TestClient_ContextCancellation(t *testing.T) {
	started := make(chan struct{})
	client := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := client.MovieDetails(ctx, "603", true)
		done <- err
	}()

	<-started
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error after cancellation")
		}
		if !stderr.Is(err, context.Canceled) {
			t.Errorf("expected the cause chain to reach context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled request never returned")
	}
}
