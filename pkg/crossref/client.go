// Package crossref looks up bibliographic metadata from the Crossref REST API.
package crossref

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/screening-cli/internal/resilience"
)

const defaultBaseURL = "https://api.crossref.org"

// ErrNotFound is returned when no work matches the query.
var ErrNotFound = eris.New("crossref: not found")

// Work is the subset of Crossref work metadata the pipeline consumes.
type Work struct {
	DOI     string
	Title   string
	Authors []string
	Year    string
	Journal string
}

// Client calls the Crossref works API. Crossref asks polite clients to
// identify themselves with a mailto, which routes requests to a faster pool.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
	baseURL    string
	mailto     string
}

// NewClient builds a Crossref client. mailto may be empty.
func NewClient(mailto string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(1), 1),
		retry:      resilience.DefaultRetryConfig(),
		baseURL:    defaultBaseURL,
		mailto:     mailto,
	}
}

// LookupDOI fetches the work registered under the given DOI.
func (c *Client) LookupDOI(ctx context.Context, doi string) (*Work, error) {
	doi = strings.TrimSpace(doi)
	if doi == "" {
		return nil, eris.New("crossref: empty doi")
	}
	endpoint := fmt.Sprintf("%s/works/%s", c.baseURL, url.PathEscape(doi))

	var resp workResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}
	return fromMessage(resp.Message), nil
}

// SearchTitle returns the best-scoring work for a title query, or ErrNotFound
// when Crossref has no plausible match.
func (c *Client) SearchTitle(ctx context.Context, title string) (*Work, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, eris.New("crossref: empty title")
	}

	q := url.Values{}
	q.Set("query.bibliographic", title)
	q.Set("rows", "1")
	endpoint := fmt.Sprintf("%s/works?%s", c.baseURL, q.Encode())

	var resp searchResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}
	if len(resp.Message.Items) == 0 {
		return nil, ErrNotFound
	}
	return fromMessage(resp.Message.Items[0]), nil
}

// getJSON performs a rate-limited GET with retry on transient statuses.
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	return resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "crossref: limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return eris.Wrap(err, "crossref: create request")
		}
		req.Header.Set("User-Agent", c.userAgent())

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return resilience.NewTransientError(err, 0)
		}
		defer resp.Body.Close() //nolint:errcheck

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return ErrNotFound
		case resilience.IsTransientHTTPStatus(resp.StatusCode):
			return resilience.NewTransientError(
				eris.Errorf("crossref: status %d from %s", resp.StatusCode, endpoint),
				resp.StatusCode,
			)
		case resp.StatusCode != http.StatusOK:
			return eris.Errorf("crossref: status %d from %s", resp.StatusCode, endpoint)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return resilience.NewTransientError(err, 0)
		}
		return eris.Wrap(json.Unmarshal(body, out), "crossref: decode response")
	})
}

func (c *Client) userAgent() string {
	ua := "screening-cli/1.0"
	if c.mailto != "" {
		ua += " (mailto:" + c.mailto + ")"
	}
	return ua
}

// --- wire types ---

type workResponse struct {
	Message workMessage `json:"message"`
}

type searchResponse struct {
	Message struct {
		Items []workMessage `json:"items"`
	} `json:"message"`
}

type workMessage struct {
	DOI            string    `json:"DOI"`
	Title          []string  `json:"title"`
	ContainerTitle []string  `json:"container-title"`
	Author         []author  `json:"author"`
	Issued         dateParts `json:"issued"`
}

type author struct {
	Given  string `json:"given"`
	Family string `json:"family"`
}

type dateParts struct {
	DateParts [][]int `json:"date-parts"`
}

func fromMessage(m workMessage) *Work {
	w := &Work{DOI: m.DOI}
	if len(m.Title) > 0 {
		w.Title = m.Title[0]
	}
	if len(m.ContainerTitle) > 0 {
		w.Journal = m.ContainerTitle[0]
	}
	for _, a := range m.Author {
		name := strings.TrimSpace(a.Given + " " + a.Family)
		if name != "" {
			w.Authors = append(w.Authors, name)
		}
	}
	if len(m.Issued.DateParts) > 0 && len(m.Issued.DateParts[0]) > 0 {
		w.Year = fmt.Sprintf("%d", m.Issued.DateParts[0][0])
	}
	return w
}
