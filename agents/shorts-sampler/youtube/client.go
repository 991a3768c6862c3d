// Package youtube is the YouTube Data API v3 client used by the sampler:
// Shorts search and batched video details.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"shorts-sampler/internal/models"
	"shorts-sampler/shared/config"
	"shorts-sampler/shared/logger"
	"shorts-sampler/shared/quota"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// MaxDetailIDs is the most IDs videos.list accepts per call.
const MaxDetailIDs = 50

var durationPattern = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// Client wraps the YouTube service with request pacing and retries for
// transient failures. It issues one request at a time.
type Client struct {
	service        *youtube.Service
	config         *config.YouTubeConfig
	limiter        *rate.Limiter
	tokens         *tokenSaver
	initialBackoff time.Duration
}

// NewClient authenticates with the API key when one is configured, otherwise
// with OAuth using the cached token file.
func NewClient(ctx context.Context, cfg *config.YouTubeConfig) (*Client, error) {
	if cfg.APIKey != "" {
		service, err := youtube.NewService(ctx, option.WithAPIKey(cfg.APIKey))
		if err != nil {
			return nil, fmt.Errorf("failed to create YouTube service: %w", err)
		}
		logger.Log.Info("YouTube client using API key")
		return newClient(service, cfg, nil), nil
	}

	oauthConfig := newOAuthConfig(cfg.ClientID, cfg.ClientSecret)
	token, err := getToken(ctx, oauthConfig, cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth token: %w", err)
	}

	tokens := &tokenSaver{config: oauthConfig, token: token, tokenFile: cfg.TokenFile}
	httpClient := oauth2.NewClient(ctx, tokens)

	service, err := youtube.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube service: %w", err)
	}
	logger.Log.Info("YouTube client using OAuth", zap.String("token_file", cfg.TokenFile))
	return newClient(service, cfg, tokens), nil
}

func newClient(service *youtube.Service, cfg *config.YouTubeConfig, tokens *tokenSaver) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	return &Client{
		service:        service,
		config:         cfg,
		limiter:        rate.NewLimiter(rate.Limit(rps), 1),
		tokens:         tokens,
		initialBackoff: time.Second,
	}
}

// RefreshToken refreshes the OAuth token ahead of a scheduled run. It is a
// no-op with API-key auth.
func (c *Client) RefreshToken() error {
	if c.tokens == nil {
		return nil
	}
	tok, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("failed to refresh token: %w", err)
	}
	logger.Log.Debug("OAuth token valid", zap.Time("expiry", tok.Expiry))
	return nil
}

// Search runs one search.list page restricted to short videos.
func (c *Client) Search(ctx context.Context, q models.SearchQuery) ([]models.SearchResult, error) {
	call := c.service.Search.List([]string{"id", "snippet"}).
		Q(q.Keyword).
		Type("video").
		VideoDuration("short").
		PublishedAfter(q.PublishedAfter.UTC().Format(time.RFC3339))
	if !q.PublishedBefore.IsZero() {
		call = call.PublishedBefore(q.PublishedBefore.UTC().Format(time.RFC3339))
	}
	if q.MaxResults > 0 {
		call = call.MaxResults(q.MaxResults)
	}
	if q.Order != "" {
		call = call.Order(q.Order)
	}
	if q.RelevanceLanguage != "" {
		call = call.RelevanceLanguage(q.RelevanceLanguage)
	}

	resp, err := withRetry(ctx, c, "search", func() (*youtube.SearchListResponse, error) {
		return call.Context(ctx).Do()
	})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", q.Keyword, classifyError(err))
	}

	results := make([]models.SearchResult, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Id == nil || item.Id.VideoId == "" {
			continue
		}
		results = append(results, toSearchResult(item))
	}

	logger.Log.Debug("search returned",
		zap.String("keyword", q.Keyword),
		zap.Int("results", len(results)),
		zap.Int64("total_results", totalResults(resp)))
	return results, nil
}

// GetDetails fetches snippet, statistics and content details for ids, in
// batches of MaxDetailIDs. Videos the API no longer returns are omitted.
func (c *Client) GetDetails(ctx context.Context, ids []string) ([]*models.VideoDetail, error) {
	var details []*models.VideoDetail
	for i := 0; i < len(ids); i += MaxDetailIDs {
		end := min(i+MaxDetailIDs, len(ids))
		batch := ids[i:end]

		call := c.service.Videos.List([]string{"snippet", "statistics", "contentDetails"}).Id(batch...)
		resp, err := withRetry(ctx, c, "videos", func() (*youtube.VideoListResponse, error) {
			return call.Context(ctx).Do()
		})
		if err != nil {
			return nil, fmt.Errorf("video details: %w", classifyError(err))
		}
		for _, item := range resp.Items {
			details = append(details, toVideoDetail(item))
		}
	}
	return details, nil
}

// withRetry paces fn through the rate limiter and retries it with
// exponential backoff while the error is transient.
func withRetry[T any](ctx context.Context, c *Client, op string, fn func() (T, error)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			var zero T
			return zero, backoff.Permanent(err)
		}
		res, err := fn()
		if err == nil {
			return res, nil
		}
		if !isRetryable(err) {
			return res, backoff.Permanent(err)
		}
		logger.Log.Warn("transient YouTube API error",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return res, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialBackoff
	bo.MaxInterval = 30 * c.initialBackoff

	tries := c.config.MaxRetries + 1
	if tries < 1 {
		tries = 1
	}
	return backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(tries)))
}

// isRetryable reports whether err is worth another attempt: server errors,
// rate limiting and network timeouts. Quota and auth errors are final.
func isRetryable(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests, apiErr.Code >= 500:
			return true
		case apiErr.Code == http.StatusForbidden:
			for _, item := range apiErr.Errors {
				if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
					return true
				}
			}
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// classifyError marks API quota rejections with quota.ErrQuotaExceeded so the
// engine ends the run as quota-exhausted rather than failed.
func classifyError(err error) error {
	if isQuotaError(err) {
		return fmt.Errorf("%w: %w", quota.ErrQuotaExceeded, err)
	}
	return err
}

// isQuotaError reports whether the API rejected a call because the project's
// daily quota is spent.
func isQuotaError(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusForbidden {
		return false
	}
	for _, item := range apiErr.Errors {
		if item.Reason == "quotaExceeded" || item.Reason == "dailyLimitExceeded" {
			return true
		}
	}
	return false
}

func toSearchResult(item *youtube.SearchResult) models.SearchResult {
	r := models.SearchResult{VideoID: item.Id.VideoId}
	if item.Snippet != nil {
		r.Title = item.Snippet.Title
		r.ChannelTitle = item.Snippet.ChannelTitle
		r.PublishedAt = parseTime(item.Snippet.PublishedAt)
	}
	return r
}

func toVideoDetail(item *youtube.Video) *models.VideoDetail {
	d := &models.VideoDetail{ID: item.Id}
	if item.Snippet != nil {
		d.Title = item.Snippet.Title
		d.Description = item.Snippet.Description
		d.ChannelTitle = item.Snippet.ChannelTitle
		d.PublishedAt = parseTime(item.Snippet.PublishedAt)
		d.Tags = item.Snippet.Tags
	}
	if item.ContentDetails != nil {
		d.Duration = item.ContentDetails.Duration
		d.DurationSeconds = parseDurationSeconds(item.ContentDetails.Duration)
	}
	if item.Statistics != nil {
		d.ViewCount = int64(item.Statistics.ViewCount)
		d.LikeCount = int64(item.Statistics.LikeCount)
		d.CommentCount = int64(item.Statistics.CommentCount)
	}
	return d
}

func totalResults(resp *youtube.SearchListResponse) int64 {
	if resp.PageInfo == nil {
		return 0
	}
	return resp.PageInfo.TotalResults
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// parseDurationSeconds converts an ISO 8601 duration such as PT1M30S to
// seconds. Unparseable input yields 0.
func parseDurationSeconds(duration string) int {
	matches := durationPattern.FindStringSubmatch(duration)
	if matches == nil {
		return 0
	}

	total := 0
	for i, unit := range []int{3600, 60, 1} {
		if matches[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(matches[i+1])
		if err != nil {
			return 0
		}
		total += n * unit
	}
	return total
}
