// Package tmdb is the metadata upstream client. It owns the HTTP retry
// policy for the whole system; layers above treat fetch functions as
// single-shot and never re-issue them.
package tmdb

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	logging "github.com/ipfs/go-log/v2"

	"github.com/showgrid/showgrid/pkg/errors"
	"github.com/showgrid/showgrid/pkg/types"
)

var log = logging.Logger("tmdb")

// DefaultBaseURL is the production metadata API endpoint
const DefaultBaseURL = "https://api.themoviedb.org/3"

// detailAppends are the sub-resources folded into a full detail fetch.
// Essential-only fetches skip them, cutting the payload roughly tenfold.
const detailAppends = "credits,videos,watch/providers,similar,recommendations"

// ClientConfig represents metadata client configuration
type ClientConfig struct {
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Language string `yaml:"language"`
	// Region narrows watch-provider results; empty returns all countries.
	Region       string        `yaml:"region"`
	Timeout      time.Duration `yaml:"timeout"`
	RetryMax     int           `yaml:"retry_max"`
	RetryWaitMin time.Duration `yaml:"retry_wait_min"`
	RetryWaitMax time.Duration `yaml:"retry_wait_max"`
}

func (c *ClientConfig) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Language == "" {
		c.Language = "en-US"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 3
	}
	if c.RetryWaitMin <= 0 {
		c.RetryWaitMin = 500 * time.Millisecond
	}
	if c.RetryWaitMax <= 0 {
		c.RetryWaitMax = 8 * time.Second
	}
}

// Client fetches movie and TV metadata. All endpoint methods funnel
// through one request helper; retries with backoff happen below it.
type Client struct {
	config *ClientConfig
	base   *url.URL
	http   *http.Client
}

// NewClient creates a new metadata client
func NewClient(config *ClientConfig) (*Client, error) {
	if config == nil {
		config = &ClientConfig{}
	}
	config.applyDefaults()

	if config.APIKey == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "metadata API key is required").
			WithComponent("tmdb")
	}

	base, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "invalid metadata base URL").
			WithComponent("tmdb").
			WithDetail("base_url", config.BaseURL).
			WithCause(err)
	}

	rclient := &retryablehttp.Client{
		HTTPClient:   &http.Client{Timeout: config.Timeout},
		RetryWaitMin: config.RetryWaitMin,
		RetryWaitMax: config.RetryWaitMax,
		RetryMax:     config.RetryMax,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		Backoff:      retryablehttp.DefaultBackoff,
	}

	return &Client{
		config: config,
		base:   base,
		http:   rclient.StandardClient(),
	}, nil
}

// MovieDetails fetches one movie. A full fetch appends credits, videos,
// watch providers, similar, and recommendations; an essential fetch
// returns the bare record.
func (c *Client) MovieDetails(ctx context.Context, id string, essential bool) (*Movie, error) {
	query := url.Values{}
	if !essential {
		query.Set("append_to_response", detailAppends)
	}

	var movie Movie
	if err := c.get(ctx, query, &movie, "movie", id); err != nil {
		return nil, err
	}
	return &movie, nil
}

// MovieCredits fetches the cast and crew of a movie
func (c *Client) MovieCredits(ctx context.Context, id string) (*Credits, error) {
	var credits Credits
	if err := c.get(ctx, nil, &credits, "movie", id, "credits"); err != nil {
		return nil, err
	}
	return &credits, nil
}

// MovieVideos fetches trailers and clips for a movie
func (c *Client) MovieVideos(ctx context.Context, id string) (*VideoList, error) {
	var videos VideoList
	if err := c.get(ctx, nil, &videos, "movie", id, "videos"); err != nil {
		return nil, err
	}
	return &videos, nil
}

// TVDetails fetches one TV show, shaped like MovieDetails
func (c *Client) TVDetails(ctx context.Context, id string, essential bool) (*TVShow, error) {
	query := url.Values{}
	if !essential {
		query.Set("append_to_response", detailAppends)
	}

	var show TVShow
	if err := c.get(ctx, query, &show, "tv", id); err != nil {
		return nil, err
	}
	return &show, nil
}

// TVCredits fetches the cast and crew of a TV show
func (c *Client) TVCredits(ctx context.Context, id string) (*Credits, error) {
	var credits Credits
	if err := c.get(ctx, nil, &credits, "tv", id, "credits"); err != nil {
		return nil, err
	}
	return &credits, nil
}

// TVVideos fetches trailers and clips for a TV show
func (c *Client) TVVideos(ctx context.Context, id string) (*VideoList, error) {
	var videos VideoList
	if err := c.get(ctx, nil, &videos, "tv", id, "videos"); err != nil {
		return nil, err
	}
	return &videos, nil
}

// WatchProviders fetches streaming availability for a movie or show
func (c *Client) WatchProviders(ctx context.Context, kind types.ContentKind, id string) (*ProviderTable, error) {
	var table ProviderTable
	if err := c.get(ctx, nil, &table, kind.String(), id, "watch", "providers"); err != nil {
		return nil, err
	}
	if c.config.Region != "" && table.Results != nil {
		if country, ok := table.Results[c.config.Region]; ok {
			table.Results = map[string]CountryProviders{c.config.Region: country}
		}
	}
	return &table, nil
}

// Similar fetches one page of titles similar to a movie or show
func (c *Client) Similar(ctx context.Context, kind types.ContentKind, id string, page int) (*ListPage, error) {
	return c.page(ctx, pageQuery(page), kind.String(), id, "similar")
}

// Recommendations fetches one page of recommended titles
func (c *Client) Recommendations(ctx context.Context, kind types.ContentKind, id string, page int) (*ListPage, error) {
	return c.page(ctx, pageQuery(page), kind.String(), id, "recommendations")
}

// List fetches one page of a named list. The path addresses the API
// directly, e.g. "movie/popular" or "trending/movie/week".
func (c *Client) List(ctx context.Context, listPath string, page int) (*ListPage, error) {
	return c.page(ctx, pageQuery(page), splitPath(listPath)...)
}

// SearchMulti fetches one page of mixed movie and TV search results
func (c *Client) SearchMulti(ctx context.Context, query string, page int) (*ListPage, error) {
	values := pageQuery(page)
	values.Set("query", query)
	return c.page(ctx, values, "search", "multi")
}

// FetcherFor implements types.Fetcher. The returned fetch function runs
// the kind-appropriate endpoint and re-encodes the typed record for
// caching. Unknown kinds return nil, which upper layers treat as an
// unfetchable item.
func (c *Client) FetcherFor(kind types.ContentKind, id string, essential bool) types.FetchFunc {
	switch kind {
	case types.KindMovie:
		return func(ctx context.Context) (json.RawMessage, error) {
			movie, err := c.MovieDetails(ctx, id, essential)
			if err != nil {
				return nil, err
			}
			return json.Marshal(movie)
		}
	case types.KindTVShow:
		return func(ctx context.Context) (json.RawMessage, error) {
			show, err := c.TVDetails(ctx, id, essential)
			if err != nil {
				return nil, err
			}
			return json.Marshal(show)
		}
	case types.KindList:
		return func(ctx context.Context) (json.RawMessage, error) {
			page, err := c.List(ctx, id, 1)
			if err != nil {
				return nil, err
			}
			return json.Marshal(page)
		}
	case types.KindSearch:
		return func(ctx context.Context) (json.RawMessage, error) {
			page, err := c.SearchMulti(ctx, id, 1)
			if err != nil {
				return nil, err
			}
			return json.Marshal(page)
		}
	default:
		return nil
	}
}

// Helper methods

// get performs one GET against the API and decodes the response body
func (c *Client) get(ctx context.Context, query url.Values, out interface{}, pathParts ...string) error {
	u := c.base.JoinPath(pathParts...)

	values := u.Query()
	values.Set("api_key", c.config.APIKey)
	values.Set("language", c.config.Language)
	for key, vals := range query {
		for _, val := range vals {
			values.Add(key, val)
		}
	}
	u.RawQuery = values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return errors.NewError(errors.ErrCodeInternalError, "building metadata request").
			WithComponent("tmdb").
			WithCause(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.NewError(errors.ErrCodeNetworkError, "metadata request failed").
			WithComponent("tmdb").
			WithOperation(u.Path).
			WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewError(errors.ErrCodeNetworkError, "reading metadata response").
			WithComponent("tmdb").
			WithOperation(u.Path).
			WithCause(err)
	}

	if resp.StatusCode != http.StatusOK {
		return apiError(u.Path, resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.NewError(errors.ErrCodeFetchFailed, "decoding metadata response").
			WithComponent("tmdb").
			WithOperation(u.Path).
			WithCause(err)
	}

	return nil
}

// page runs get for endpoints that return a summaries page
func (c *Client) page(ctx context.Context, query url.Values, pathParts ...string) (*ListPage, error) {
	var page ListPage
	if err := c.get(ctx, query, &page, pathParts...); err != nil {
		return nil, err
	}
	return &page, nil
}

// apiError shapes a non-200 response into a structured error, folding in
// the API's own status message when the body carries one
func apiError(path string, statusCode int, body []byte) error {
	message := "metadata API error"
	var status apiStatus
	if err := json.Unmarshal(body, &status); err == nil && status.StatusMessage != "" {
		message = status.StatusMessage
	}

	log.Debugw("metadata API error", "path", path, "status", statusCode, "message", message)

	return errors.NewError(errors.ErrCodeFetchFailed, message).
		WithComponent("tmdb").
		WithOperation(path).
		WithDetail("http_status", statusCode)
}

func pageQuery(page int) url.Values {
	values := url.Values{}
	if page > 1 {
		values.Set("page", strconv.Itoa(page))
	}
	return values
}

func splitPath(path string) []string {
	var parts []string
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}
