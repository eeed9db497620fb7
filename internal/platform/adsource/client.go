// Package adsource lists ads and resolves their creatives through the
// Graph-style ad library HTTP API.
package adsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/phrazzld/adlens/internal/config"
	"github.com/phrazzld/adlens/internal/domain"
	"github.com/phrazzld/adlens/internal/pipeline"
	"github.com/phrazzld/adlens/internal/platform/logger"
	"github.com/phrazzld/adlens/internal/redact"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

// Metadata keys set on listed items.
const (
	MetaVideoID  = "video_id"
	MetaImageURL = "image_url"
)

// maxPages bounds pagination so a misbehaving API cannot loop forever.
const maxPages = 50

const createdTimeLayout = "2006-01-02T15:04:05-0700"

var (
	// ErrNoCreative is returned when an ad carries neither a video nor an image.
	ErrNoCreative = errors.New("ad has no downloadable creative")

	// ErrUnexpectedResponse is returned for bodies that cannot be decoded.
	ErrUnexpectedResponse = errors.New("unexpected ad source response")
)

// APIError is a non-2xx answer from the ad source.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ad source returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("ad source returned HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client implements pipeline.SourceLister and pipeline.MediaResolver.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	pageSize   int
	maxRetries uint64
	retryDelay time.Duration
	logger     *slog.Logger
}

var (
	_ pipeline.SourceLister  = (*Client)(nil)
	_ pipeline.MediaResolver = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) { client.httpClient = c }
}

// WithRetry sets how often failed requests are retried and the base backoff.
func WithRetry(maxRetries uint64, delay time.Duration) Option {
	return func(client *Client) {
		client.maxRetries = maxRetries
		client.retryDelay = delay
	}
}

// NewClient creates a Client from cfg.
func NewClient(cfg config.AdSourceConfig, logger *slog.Logger, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid ad source base URL %q", cfg.BaseURL)
	}
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := max(cfg.Burst, 1)
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	c := &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
		pageSize:   pageSize,
		maxRetries: 2,
		retryDelay: 500 * time.Millisecond,
		logger:     logger.With("component", "adsource"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type adCreative struct {
	Body         string `json:"body"`
	VideoID      string `json:"video_id"`
	ImageURL     string `json:"image_url"`
	ThumbnailURL string `json:"thumbnail_url"`
}

type adNode struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	CreatedTime string     `json:"created_time"`
	Creative    adCreative `json:"creative"`
}

type adPage struct {
	Data   []adNode `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

type videoNode struct {
	ID     string `json:"id"`
	Source string `json:"source"`
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// List implements pipeline.SourceLister, following pagination to the end.
func (c *Client) List(ctx context.Context, creds pipeline.Credentials) ([]domain.Item, error) {
	if creds.AccountRef == "" {
		return nil, domain.MissingParameter(domain.ParamAccountRef)
	}
	if creds.AccessToken == "" {
		return nil, domain.MissingParameter(domain.ParamAccessToken)
	}

	account := creds.AccountRef
	if !strings.HasPrefix(account, "act_") {
		account = "act_" + account
	}

	query := url.Values{}
	query.Set("fields", "id,name,created_time,creative{body,video_id,image_url,thumbnail_url}")
	query.Set("limit", strconv.Itoa(c.pageSize))
	next := c.endpoint(account+"/ads", query)

	var items []domain.Item
	for page := 0; next != ""; page++ {
		if page >= maxPages {
			c.log(ctx).Warn("stopped paginating ads", "pages", page, "items", len(items))
			break
		}

		var body adPage
		if err := c.get(ctx, next, creds.AccessToken, &body); err != nil {
			return nil, fmt.Errorf("list ads: %w", err)
		}
		for _, node := range body.Data {
			items = append(items, toItem(creds.AccountRef, node))
		}

		next = ""
		if body.Paging.Next != "" {
			nextURL, err := c.sameOrigin(body.Paging.Next)
			if err != nil {
				return nil, err
			}
			next = nextURL
		}
	}

	c.log(ctx).Info("listed ads", "account_ref", creds.AccountRef, "count", len(items))
	return items, nil
}

// Resolve implements pipeline.MediaResolver. Videos are looked up for their
// source URL; images are used as listed.
func (c *Client) Resolve(
	ctx context.Context,
	creds pipeline.Credentials,
	item domain.Item,
) (domain.MediaLocator, error) {
	if videoID := item.Metadata[MetaVideoID]; videoID != "" {
		query := url.Values{}
		query.Set("fields", "id,source")

		var video videoNode
		if err := c.get(ctx, c.endpoint(url.PathEscape(videoID), query), creds.AccessToken, &video); err != nil {
			return domain.MediaLocator{}, fmt.Errorf("resolve video %s: %w", videoID, err)
		}
		if video.Source == "" {
			return domain.MediaLocator{}, fmt.Errorf("%w: video %s has no source", ErrNoCreative, videoID)
		}
		return domain.MediaLocator{ItemID: item.ID, URL: video.Source, MediaType: domain.MediaTypeVideo}, nil
	}

	if imageURL := item.Metadata[MetaImageURL]; imageURL != "" {
		return domain.MediaLocator{ItemID: item.ID, URL: imageURL, MediaType: domain.MediaTypeImage}, nil
	}

	return domain.MediaLocator{}, fmt.Errorf("%w: %s", ErrNoCreative, item.ID)
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	u.RawQuery = query.Encode()
	return u.String()
}

// sameOrigin rejects pagination links that would send the token elsewhere.
func (c *Client) sameOrigin(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: bad paging link", ErrUnexpectedResponse)
	}
	if u.Scheme != c.baseURL.Scheme || u.Host != c.baseURL.Host {
		return "", fmt.Errorf("%w: paging link points to another host", ErrUnexpectedResponse)
	}
	q := u.Query()
	q.Del("access_token")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// get performs a rate-limited GET with retries on 429, 5xx and network failures.
func (c *Client) get(ctx context.Context, target, token string, out any) error {
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(max(c.retryDelay, time.Millisecond)))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		err := c.doGet(ctx, target, token, out)
		if err == nil {
			return nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.retryable() {
			return err
		}
		if ctx.Err() != nil || errors.Is(err, ErrUnexpectedResponse) {
			return err
		}

		c.log(ctx).Warn("ad source request failed, retrying", "error", redact.Error(err))
		return retry.RetryableError(err)
	})
}

func (c *Client) doGet(ctx context.Context, target, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The error text embeds the URL; strip it down to the cause.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return fmt.Errorf("request failed: %w", urlErr.Err)
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(body, &eb) == nil {
			apiErr.Code = eb.Error.Code
			apiErr.Message = redact.Secrets(eb.Error.Message)
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return fmt.Errorf("%w: access token rejected: %w", domain.ErrFatalConfiguration, apiErr)
		}
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return nil
}

func (c *Client) log(ctx context.Context) *slog.Logger {
	return logger.FromContextOrDefault(ctx, c.logger)
}

func toItem(accountRef string, node adNode) domain.Item {
	item := domain.Item{
		ID:         node.ID,
		AccountRef: accountRef,
		Name:       node.Name,
		Body:       node.Creative.Body,
		Metadata:   map[string]string{},
	}
	if node.Creative.VideoID != "" {
		item.Metadata[MetaVideoID] = node.Creative.VideoID
	}
	imageURL := node.Creative.ImageURL
	if imageURL == "" {
		imageURL = node.Creative.ThumbnailURL
	}
	if imageURL != "" {
		item.Metadata[MetaImageURL] = imageURL
		item.SnapshotURL = imageURL
	}
	if t, err := time.Parse(createdTimeLayout, node.CreatedTime); err == nil {
		utc := t.UTC()
		item.StartedAt = &utc
	}
	return item
}
