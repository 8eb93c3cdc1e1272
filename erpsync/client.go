package erpsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/catalog_backend/config"
	"bitbucket.org/mmdatafocus/catalog_backend/utils"
)

// CatalogClientConfig carries everything the client needs to talk to one
// ERP account. CoolDown and BackoffBase exist as fields so tests can use
// millisecond values instead of the production 5 second steps.
type CatalogClientConfig struct {
	BaseURL     string
	Token       string
	Timeout     time.Duration
	CoolDown    time.Duration
	BackoffBase time.Duration
	MaxRetries  int
}

func CatalogClientConfigFromEnv() CatalogClientConfig {
	return CatalogClientConfig{
		BaseURL:     utils.EnvString("ERP_API_BASE_URL", ""),
		Token:       utils.EnvString("ERP_API_TOKEN", ""),
		Timeout:     time.Duration(utils.EnvInt("ERP_REQUEST_TIMEOUT_SECONDS", 30)) * time.Second,
		CoolDown:    time.Duration(utils.EnvInt("ERP_RATE_LIMIT_SECONDS", 5)) * time.Second,
		BackoffBase: time.Duration(utils.EnvInt("ERP_RATE_LIMIT_SECONDS", 5)) * time.Second,
		MaxRetries:  utils.EnvInt("ERP_MAX_RETRIES", 3),
	}
}

// CatalogClient fetches the remote catalog. Every request goes through the
// shared rate limiter before it hits the wire and stamps completion only
// after the response validated, so malformed pages do not eat the window.
type CatalogClient struct {
	cfg     CatalogClientConfig
	http    *http.Client
	limiter *RateLimiter
	logger  *logrus.Logger
}

func NewCatalogClient(cfg CatalogClientConfig, limiter *RateLimiter) *CatalogClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = DefaultRateLimitInterval
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultRateLimitInterval
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if limiter == nil {
		limiter = NewRateLimiter(cfg.CoolDown)
	}
	return &CatalogClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger:  config.GetLogger(),
	}
}

func (c *CatalogClient) Limiter() *RateLimiter { return c.limiter }

// itemsEnvelope keeps Total as a pointer so a body that decodes as JSON but
// lacks the envelope is still caught as a parse failure.
type itemsEnvelope struct {
	Total  *int          `json:"total"`
	Offset int           `json:"offset"`
	Limit  int           `json:"limit"`
	Items  []CatalogItem `json:"items"`
}

type categoriesEnvelope struct {
	Categories []CatalogCategory `json:"categories"`
}

// FetchItems retrieves one catalog page. An optional timeout override is
// used by the orchestrator for the first page, which the vendor serves
// slowly on cold caches.
func (c *CatalogClient) FetchItems(ctx context.Context, offset, limit int, timeoutOverride ...time.Duration) (*ItemsPage, error) {
	q := url.Values{}
	q.Set("offset", fmt.Sprintf("%d", offset))
	q.Set("limit", fmt.Sprintf("%d", limit))

	timeout := c.cfg.Timeout
	if len(timeoutOverride) > 0 && timeoutOverride[0] > 0 {
		timeout = timeoutOverride[0]
	}

	body, err := c.doGet(ctx, "/api/v1/items", q, timeout)
	if err != nil {
		return nil, err
	}

	var env itemsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, newParseError(body, err)
	}
	if env.Total == nil {
		return nil, newParseError(body, errors.New("missing items envelope"))
	}

	c.limiter.MarkCompleted()
	return &ItemsPage{
		Total:  *env.Total,
		Offset: env.Offset,
		Limit:  env.Limit,
		Items:  env.Items,
	}, nil
}

func (c *CatalogClient) FetchCategories(ctx context.Context) ([]CatalogCategory, error) {
	body, err := c.doGet(ctx, "/api/v1/categories", nil, c.cfg.Timeout)
	if err != nil {
		return nil, err
	}

	var env categoriesEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, newParseError(body, err)
	}

	c.limiter.MarkCompleted()
	return env.Categories, nil
}

func (c *CatalogClient) doGet(ctx context.Context, path string, q url.Values, timeout time.Duration) ([]byte, error) {
	waited := c.limiter.WaitForNextSlot()
	if waited > 0 {
		c.logger.WithFields(logrus.Fields{
			"path":   path,
			"waited": waited,
		}).Debug("rate limiter delayed request")
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := c.cfg.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Status: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		// Honor the cool-down here so the caller's retry fires into an
		// open window instead of a second 429.
		time.Sleep(c.cfg.CoolDown)
		return nil, &RateLimitError{CoolDown: c.cfg.CoolDown}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &HttpError{Status: resp.StatusCode, Body: utils.Truncate(string(body), 200)}
	}

	return body, nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Err: err}
	}
	return &ConnectionError{Err: err}
}

// FetchItemsWithRetry retries rate-limited page fetches with exponential
// backoff (base, 2x, 4x, ...). Only RateLimitError is retried; every other
// failure propagates immediately. Total attempts = MaxRetries + 1.
func (c *CatalogClient) FetchItemsWithRetry(ctx context.Context, offset, limit int, timeoutOverride ...time.Duration) (*ItemsPage, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.cfg.BackoffBase << (attempt - 1)
			c.logger.WithFields(logrus.Fields{
				"offset":  offset,
				"attempt": attempt,
				"backoff": backoff.String(),
			}).Warn("retrying rate limited catalog page")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		page, err := c.FetchItems(ctx, offset, limit, timeoutOverride...)
		if err == nil {
			return page, nil
		}

		var rl *RateLimitError
		if !errors.As(err, &rl) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
