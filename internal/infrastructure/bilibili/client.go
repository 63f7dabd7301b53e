package bilibili

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"TieredCrawler/internal/domain"
	"TieredCrawler/internal/source"
)

const (
	defaultBaseURL   = "https://api.bilibili.com"
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	defaultReferer   = "https://www.bilibili.com"
	viewPath         = "/x/web-interface/view"
	maxErrorBody     = 64 << 10
)

// Remote codes meaning the video is gone or hidden for good.
var goneCodes = map[int]bool{
	-404:  true,
	62002: true,
	62004: true,
	62012: true,
}

// Options configures the stats client.
type Options struct {
	BaseURL   string
	UserAgent string
	Referer   string
	Timeout   time.Duration
}

// Client implements source.StatsSource against the Bilibili web API.
type Client struct {
	baseURL   string
	userAgent string
	referer   string
	http      *http.Client
	limiter   *rate.Limiter
	logger    *slog.Logger
}

var _ source.StatsSource = (*Client)(nil)

// NewClient builds a client. The limiter is shared by every fetcher of the process
// so concurrent tiers do not exceed one request budget; nil disables limiting.
func NewClient(opts Options, limiter *rate.Limiter, logger *slog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Referer == "" {
		opts.Referer = defaultReferer
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimSuffix(opts.BaseURL, "/"),
		userAgent: opts.UserAgent,
		referer:   opts.Referer,
		http:      &http.Client{Timeout: opts.Timeout},
		limiter:   limiter,
		logger:    logger,
	}
}

// NewLimiter returns a limiter allowing rps requests per second with burst 1.
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

// Name identifies the platform inside the source registry.
func (c *Client) Name() string {
	return domain.DefaultPlatform
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// FetchStats requests the view endpoint for a BV id and extracts its counters.
func (c *Client) FetchStats(ctx context.Context, externalID string) (domain.Metrics, error) {
	if externalID == "" {
		return nil, fmt.Errorf("empty external id: %w", source.ErrNotFound)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			// Wait also fails early when the next token lies past the deadline.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("rate limit wait: %w", ctxErr)
			}
			return nil, fmt.Errorf("rate limit wait: %v: %w", err, context.DeadlineExceeded)
		}
	}

	endpoint := c.baseURL + viewPath + "?" + url.Values{"bvid": []string{externalID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Referer", c.referer)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %v: %w", externalID, err, source.ErrTransient)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	if isHTML(resp.Header.Get("Content-Type")) {
		return nil, fmt.Errorf("unexpected html page %q: %w", pageTitle(resp.Body), source.ErrTransient)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode response: %v: %w", err, source.ErrTransient)
	}

	if env.Code != 0 {
		if goneCodes[env.Code] {
			return nil, fmt.Errorf("api code %d %s: %w", env.Code, env.Message, source.ErrNotFound)
		}
		return nil, fmt.Errorf("api code %d %s: %w", env.Code, env.Message, source.ErrTransient)
	}

	metrics, err := ExtractMetrics(env.Data)
	if err != nil {
		return nil, fmt.Errorf("bvid %s: %w", externalID, err)
	}

	if c.logger != nil {
		c.logger.Debug("stats fetched", "bvid", externalID, "metrics", metrics.Summary())
	}
	return metrics, nil
}

func statusError(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("remote returned %s: %w", resp.Status, source.ErrNotFound)
	case isHTML(resp.Header.Get("Content-Type")):
		return fmt.Errorf("remote returned %s (%s): %w", resp.Status, pageTitle(resp.Body), source.ErrTransient)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("remote returned %s: %s: %w", resp.Status, strings.TrimSpace(string(body)), source.ErrTransient)
	}
}

func isHTML(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/html")
}

// pageTitle pulls a readable message out of HTML error pages (gateway errors,
// throttling notices) so the item log says more than a status code.
func pageTitle(body io.Reader) string {
	doc, err := goquery.NewDocumentFromReader(io.LimitReader(body, maxErrorBody))
	if err != nil {
		return "unreadable html"
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if title == "" {
		return "untitled html"
	}
	return title
}
