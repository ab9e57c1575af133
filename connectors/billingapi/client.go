package billingapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	resty "github.com/go-resty/resty/v2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	dconfig "ke-billing/domain/config"
)

// ResourcesPath is the per-resource cost usage endpoint.
const ResourcesPath = "/open/billing/public/v2/cost/resources"

// ErrPageLimit is returned when the API keeps reporting more pages after MaxPages.
var ErrPageLimit = errors.New("billing api page limit reached")

// Observer receives the status of every page request ("200", "429", "error").
type Observer interface {
	APIRequest(status string)
}

// Client handles billing API cost usage requests
type Client struct {
	http     *resty.Client
	limiter  *rate.Limiter
	pageSize int
	maxPages int
	observer Observer
}

// NewClient creates a billing API client from cfg. With oauth2.tokenUrl set the
// requests carry client-credentials bearer tokens instead of credential headers.
func NewClient(cfg dconfig.BillingAPI) *Client {
	hc := &http.Client{}
	if cfg.OAuth2.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.OAuth2.ClientID,
			ClientSecret: cfg.OAuth2.ClientSecret,
			TokenURL:     cfg.OAuth2.TokenURL,
			Scopes:       cfg.OAuth2.Scopes,
		}
		hc = cc.Client(context.Background())
	}

	rc := resty.NewWithClient(hc).
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryMaxWait).
		AddRetryCondition(retryable).
		SetRetryAfter(retryAfter)
	if cfg.OAuth2.TokenURL == "" {
		rc.SetHeader("Credential-ID", cfg.CredentialID).
			SetHeader("Credential-Secret", cfg.CredentialSecret)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		http:     rc,
		limiter:  rate.NewLimiter(limit, 1),
		pageSize: cfg.PageSize,
		maxPages: cfg.MaxPages,
	}
}

// WithObserver reports page request outcomes to o.
func (c *Client) WithObserver(o Observer) *Client {
	c.observer = o
	return c
}

// retryable retries transport errors, throttling and server errors.
func retryable(resp *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// retryAfter honours a numeric Retry-After header on 429. Zero falls back to
// the client's exponential backoff.
func retryAfter(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
	if resp == nil || resp.StatusCode() != http.StatusTooManyRequests {
		return 0, nil
	}
	secs, err := strconv.Atoi(resp.Header().Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0, nil
	}
	return time.Duration(secs) * time.Second, nil
}

type pageEnvelope struct {
	Result struct {
		Content       []any `json:"content"`
		TotalPages    *int  `json:"totalPages"`
		TotalElements *int  `json:"totalElements"`
		Last          *bool `json:"last"`
	} `json:"result"`
}

// Fetch retrieves every page of cost usage between from and to (YYYYMMDD,
// inclusive) and returns one envelope {"result":{"content":[...],"totalElements":n}}.
func (c *Client) Fetch(ctx context.Context, from, to string) (map[string]any, error) {
	var content []any
	for page := 0; ; page++ {
		if page >= c.maxPages {
			return nil, fmt.Errorf("%w: %d pages for %s-%s", ErrPageLimit, c.maxPages, from, to)
		}
		env, err := c.fetchPage(ctx, from, to, page)
		if err != nil {
			return nil, err
		}
		items := env.Result.Content
		content = append(content, items...)
		if lastPage(env, page, len(items), c.pageSize) {
			break
		}
	}
	if content == nil {
		content = []any{}
	}
	return map[string]any{
		"result": map[string]any{
			"content":       content,
			"totalElements": len(content),
		},
	}, nil
}

func lastPage(env pageEnvelope, page, n, pageSize int) bool {
	r := env.Result
	switch {
	case n == 0:
		return true
	case r.Last != nil:
		return *r.Last
	case r.TotalPages != nil:
		return page+1 >= *r.TotalPages
	default:
		return n < pageSize
	}
}

func (c *Client) fetchPage(ctx context.Context, from, to string, page int) (pageEnvelope, error) {
	var env pageEnvelope
	if err := c.limiter.Wait(ctx); err != nil {
		return env, err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"from": from,
			"to":   to,
			"size": strconv.Itoa(c.pageSize),
			"page": strconv.Itoa(page),
		}).
		Get(ResourcesPath)
	if err != nil {
		c.observe("error")
		return env, fmt.Errorf("failed to fetch cost usage page %d: %w", page, err)
	}
	c.observe(strconv.Itoa(resp.StatusCode()))

	if !resp.IsSuccess() {
		return env, fmt.Errorf("billing API request failed: %d %s", resp.StatusCode(), truncate(resp.String(), 512))
	}

	dec := json.NewDecoder(bytes.NewReader(resp.Body()))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return env, fmt.Errorf("failed to decode page %d: %w", page, err)
	}
	return env, nil
}

func (c *Client) observe(status string) {
	if c.observer != nil {
		c.observer.APIRequest(status)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
