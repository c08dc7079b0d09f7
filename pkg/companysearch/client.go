// Package companysearch provides a client for the OpenWebNinja realtime
// Glassdoor company search API.
package companysearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/jobs-etl/internal/model"
	"github.com/sells-group/jobs-etl/internal/resilience"
)

const (
	// DefaultBaseURL is the public OpenWebNinja endpoint.
	DefaultBaseURL = "https://api.openwebninja.com"
	// DefaultLimit is the number of candidates requested per search.
	DefaultLimit = 10

	searchPath = "/realtime-glassdoor-data/company-search"
	maxLimit   = 100
)

// Client searches an external company directory by name.
type Client interface {
	Search(ctx context.Context, query string, limit int) ([]model.CompanyProfile, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests per second. Zero or less disables
// throttling.
func WithRateLimit(perSec float64) Option {
	return func(c *httpClient) {
		if perSec <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
	}
}

// WithRetry overrides the retry settings.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates a company search client. An empty apiKey is a
// configuration error.
func NewClient(apiKey string, opts ...Option) (Client, error) {
	if apiKey == "" {
		return nil, &model.ConfigurationError{Setting: "company_search.api_key", Reason: "must be set"}
	}
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(2, 1),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger("companysearch", "search")
	}
	return c, nil
}

// externalID accepts the company id as either a JSON number or string.
type externalID string

func (id *externalID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = externalID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return eris.Wrap(err, "companysearch: company_id")
	}
	*id = externalID(n.String())
	return nil
}

// apiCompany is the wire shape of one search result.
type apiCompany struct {
	CompanyID            externalID `json:"company_id"`
	Name                 string     `json:"name"`
	Rating               *float64   `json:"rating"`
	ReviewCount          *int       `json:"review_count"`
	CompanySize          string     `json:"company_size"`
	YearFounded          *int       `json:"year_founded"`
	Industry             string     `json:"industry"`
	Website              string     `json:"website"`
	HeadquartersLocation string     `json:"headquarters_location"`
	CompanyDescription   string     `json:"company_description"`
}

func (a apiCompany) profile() model.CompanyProfile {
	return model.CompanyProfile{
		ExternalID:   string(a.CompanyID),
		Name:         a.Name,
		Rating:       a.Rating,
		ReviewCount:  a.ReviewCount,
		SizeBucket:   a.CompanySize,
		YearFounded:  a.YearFounded,
		Industry:     a.Industry,
		Website:      a.Website,
		Headquarters: a.HeadquartersLocation,
		Description:  a.CompanyDescription,
	}
}

// searchResponse accepts both the flat {"data": [...]} shape and the
// documented {"value": {"data": [...]}} wrapper.
type searchResponse struct {
	Status string       `json:"status"`
	Data   []apiCompany `json:"data"`
	Value  *struct {
		Data []apiCompany `json:"data"`
	} `json:"value"`
}

func (r searchResponse) companies() []apiCompany {
	if r.Data != nil {
		return r.Data
	}
	if r.Value != nil {
		return r.Value.Data
	}
	return nil
}

// Search returns up to limit candidate profiles for query. limit is clamped
// to 1..100. A malformed body yields no candidates rather than an error.
func (c *httpClient) Search(ctx context.Context, query string, limit int) ([]model.CompanyProfile, error) {
	limit = clampLimit(limit)
	params := url.Values{}
	params.Set("query", query)
	params.Set("limit", strconv.Itoa(limit))
	endpoint := c.baseURL + searchPath + "?" + params.Encode()

	body, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, endpoint)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "companysearch: search %q", query)
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		zap.L().Warn("companysearch: unparseable response",
			zap.String("query", query),
			zap.Error(err),
		)
		return nil, nil
	}

	raw := resp.companies()
	out := make([]model.CompanyProfile, 0, len(raw))
	for _, a := range raw {
		out = append(out, a.profile())
	}
	zap.L().Debug("companysearch: search complete",
		zap.String("query", query),
		zap.Int("limit", limit),
		zap.Int("returned", len(out)),
	)
	return out, nil
}

func (c *httpClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "companysearch: rate limiter wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "companysearch: create request")
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "companysearch: http request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "companysearch: read body")
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, eris.New("companysearch: invalid api key")
	case resp.StatusCode >= 400:
		return nil, resilience.StatusError("companysearch", resp.StatusCode, body)
	}
	return body, nil
}

func clampLimit(n int) int {
	if n < 1 {
		return 1
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}
