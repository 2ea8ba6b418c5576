package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"metaetl/internal/domain"
	"metaetl/pkg/config"
	"metaetl/pkg/logger"
	"metaetl/pkg/metrics"

	"golang.org/x/time/rate"
)

const (
	apiInsights  = "meta_insights"
	apiFollowers = "instagram_insights"
)

// GraphAPIError is an error answer of the Graph API.
type GraphAPIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Code       int    `json:"code"`
	Subcode    int    `json:"error_subcode"`
	TraceID    string `json:"fbtrace_id"`
}

func (e *GraphAPIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("graph API returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("graph API returned status %d: %s (type=%s code=%d)", e.StatusCode, e.Message, e.Type, e.Code)
}

// Retryable reports throttling and server side failures.
func (e *GraphAPIError) Retryable() bool {
	switch e.Code {
	case 4, 17, 32, 613: // application, user, page and custom rate limits
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// GraphClient reads ad insights and Instagram profile insights from the
// Graph API. It implements domain.InsightFetcher and domain.FollowerFetcher.
type GraphClient struct {
	client      *http.Client
	baseURL     string
	token       string
	pageLimit   int
	maxRetries  int
	backoff     time.Duration
	logger      *logger.Logger
	metrics     *metrics.Metrics
	rateLimiter *rate.Limiter
}

func NewGraphClient(cfg config.MetaConfig, logger *logger.Logger, metrics *metrics.Metrics) *GraphClient {
	perSecond := max(cfg.RateLimitPerSecond, 1)
	return &GraphClient{
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL:     strings.TrimRight(cfg.GraphURL, "/") + "/" + cfg.APIVersion,
		token:       cfg.AccessToken,
		pageLimit:   cfg.PageLimit,
		maxRetries:  cfg.MaxRetries,
		backoff:     cfg.RetryBackoff,
		logger:      logger,
		metrics:     metrics,
		rateLimiter: rate.NewLimiter(rate.Limit(perSecond), perSecond),
	}
}

type insightsPage struct {
	Data   []domain.RawInsight `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// FetchInsights returns every ad level insight of the account for the date
// preset, one record per ad, day, platform and placement.
func (c *GraphClient) FetchInsights(ctx context.Context, accountID, datePreset string) ([]domain.RawInsight, error) {
	if !strings.HasPrefix(accountID, "act_") {
		accountID = "act_" + accountID
	}

	params := url.Values{}
	params.Set("fields", strings.Join(domain.InsightFields, ","))
	params.Set("level", "ad")
	params.Set("date_preset", datePreset)
	params.Set("time_increment", "1")
	params.Set("limit", strconv.Itoa(c.pageLimit))
	params.Set("breakdowns", strings.Join(domain.InsightBreakdowns, ","))
	params.Set("action_breakdowns", "action_type")
	params.Set("access_token", c.token)

	start := time.Now()
	next := c.baseURL + "/" + url.PathEscape(accountID) + "/insights?" + params.Encode()

	var (
		records []domain.RawInsight
		pages   int
	)
	for next != "" {
		var page insightsPage
		if err := c.getJSON(ctx, apiInsights, next, &page); err != nil {
			return nil, fmt.Errorf("failed to fetch insights page %d of %s: %w", pages+1, accountID, err)
		}
		records = append(records, page.Data...)
		pages++
		next = page.Paging.Next
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"account_id":  accountID,
		"date_preset": datePreset,
		"pages":       pages,
		"records":     len(records),
		"duration":    time.Since(start),
	}).Info("Successfully fetched ad insights")

	return records, nil
}

type followsResponse struct {
	Data []struct {
		TotalValue struct {
			Value      int64 `json:"value"`
			Breakdowns []struct {
				Results []struct {
					DimensionValues []string `json:"dimension_values"`
					Value           int64    `json:"value"`
				} `json:"results"`
			} `json:"breakdowns"`
		} `json:"total_value"`
	} `json:"data"`
}

// FetchFollowerGrowth returns the followers gained by the Instagram profile
// on the given calendar day. Unfollows are not subtracted.
func (c *GraphClient) FetchFollowerGrowth(ctx context.Context, igAccountID string, day time.Time) (*domain.FollowerGrowth, error) {
	since := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	until := since.Add(24*time.Hour - time.Second)

	params := url.Values{}
	params.Set("metric", "follows_and_unfollows")
	params.Set("period", "day")
	params.Set("metric_type", "total_value")
	params.Set("breakdown", "follow_type")
	params.Set("since", strconv.FormatInt(since.Unix(), 10))
	params.Set("until", strconv.FormatInt(until.Unix(), 10))
	params.Set("access_token", c.token)

	endpoint := c.baseURL + "/" + url.PathEscape(igAccountID) + "/insights?" + params.Encode()

	var resp followsResponse
	if err := c.getJSON(ctx, apiFollowers, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch follower growth of %s: %w", igAccountID, err)
	}

	growth := &domain.FollowerGrowth{
		IGAccountID: igAccountID,
		Date:        time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC),
	}
	if len(resp.Data) > 0 {
		total := resp.Data[0].TotalValue
		if len(total.Breakdowns) > 0 {
			for _, result := range total.Breakdowns[0].Results {
				for _, dim := range result.DimensionValues {
					if dim == "FOLLOWER" {
						growth.Gained += result.Value
						break
					}
				}
			}
		} else {
			growth.Gained = total.Value
		}
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"ig_account_id": igAccountID,
		"day":           growth.Date.Format(domain.DateLayout),
		"gained":        growth.Gained,
	}).Info("Successfully fetched follower growth")

	return growth, nil
}

// getJSON performs a rate limited GET with retries on throttling, server
// errors and network errors.
func (c *GraphClient) getJSON(ctx context.Context, api, endpoint string, out any) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = c.get(ctx, api, endpoint, out)
		if err == nil || !retryable(err) || attempt >= c.maxRetries {
			return err
		}

		wait := c.backoff * time.Duration(attempt+1)
		c.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"api":     api,
			"attempt": attempt + 1,
			"wait":    wait,
		}).Warn("Retrying Graph API request")

		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(wait):
		}
	}
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func retryable(err error) bool {
	var apiErr *GraphAPIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var transient *transientError
	return errors.As(err, &transient)
}

func (c *GraphClient) get(ctx context.Context, api, endpoint string, out any) error {
	start := time.Now()

	// Apply rate limiting
	if err := c.rateLimiter.Wait(ctx); err != nil {
		c.metrics.RecordExternalAPIFailure(api, "rate_limit")
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		c.metrics.RecordExternalAPIFailure(api, "request_creation")
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.RecordExternalAPIFailure(api, "network_error")
		if ctx.Err() != nil {
			return err
		}
		return &transientError{err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	duration := time.Since(start)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.RecordExternalAPIFailure(api, "read_body")
		return &transientError{err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		c.metrics.RecordExternalAPICall(api, fmt.Sprintf("error_%d", resp.StatusCode), duration)
		apiErr := &GraphAPIError{}
		var envelope struct {
			Error *GraphAPIError `json:"error"`
		}
		if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
			apiErr = envelope.Error
		}
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		c.metrics.RecordExternalAPIFailure(api, "json_parse")
		return fmt.Errorf("failed to parse response: %w", err)
	}

	c.metrics.RecordExternalAPICall(api, "success", duration)
	return nil
}
