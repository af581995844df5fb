// Package enrichment fetches employee profiles for a company from an
// enrichment provider.
package enrichment

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/speedrun-cli/internal/model"
	"github.com/sells-group/speedrun-cli/internal/resilience"
)

const (
	defaultPageSize = 100
	maxPages        = 50
)

// Provider returns the raw employee profiles known for a company.
type Provider interface {
	FetchEmployeeProfiles(ctx context.Context, companyID string) ([]model.RawProfile, error)
}

// page is one response from GET /companies/{id}/employees.
type page struct {
	Data       []model.RawProfile `json:"data"`
	NextCursor string             `json:"next_cursor"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the provider base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit paces requests to rps with the given burst. A non-positive
// rps disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithPageSize sets the page_size query parameter.
func WithPageSize(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

type httpClient struct {
	apiKey   string
	baseURL  string
	pageSize int
	limiter  *rate.Limiter
	http     *http.Client
}

// NewClient creates an HTTP enrichment provider client.
func NewClient(baseURL, apiKey string, opts ...Option) Provider {
	c := &httpClient{
		apiKey:   apiKey,
		baseURL:  baseURL,
		pageSize: defaultPageSize,
		limiter:  rate.NewLimiter(5, 5),
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FetchEmployeeProfiles walks every page for the company. Profiles missing a
// company link inherit companyID.
func (c *httpClient) FetchEmployeeProfiles(ctx context.Context, companyID string) ([]model.RawProfile, error) {
	if companyID == "" {
		return nil, eris.New("enrichment: company id is required")
	}

	var out []model.RawProfile
	cursor := ""
	for range maxPages {
		p, err := c.fetchPage(ctx, companyID, cursor)
		if err != nil {
			return nil, err
		}
		for _, rp := range p.Data {
			if rp.CompanyID == "" {
				rp.CompanyID = companyID
			}
			out = append(out, rp)
		}
		if p.NextCursor == "" {
			return out, nil
		}
		cursor = p.NextCursor
	}
	return nil, eris.Errorf("enrichment: company %s exceeded %d pages", companyID, maxPages)
}

func (c *httpClient) fetchPage(ctx context.Context, companyID, cursor string) (*page, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "enrichment: rate limit")
		}
	}

	q := url.Values{}
	q.Set("page_size", strconv.Itoa(c.pageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.baseURL + "/companies/" + url.PathEscape(companyID) + "/employees?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "enrichment: create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "enrichment: send request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "enrichment: read response"), 0)
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("enrichment: unexpected status %d: %s", resp.StatusCode, truncate(string(body), 256))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var p page
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, eris.Wrap(err, "enrichment: unmarshal response")
	}
	return &p, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
