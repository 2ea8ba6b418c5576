package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"metaetl/internal/domain"
	"metaetl/internal/usecase"
	"metaetl/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	serviceName    = "meta-insights-etl"
	serviceVersion = "1.0.0"
	maxPageLimit   = 1000
)

// CycleController starts cycles and reports the last one.
type CycleController interface {
	Start(ctx context.Context) error
	LastSummary() *domain.CycleSummary
}

// InsightsQuerier answers reporting queries.
type InsightsQuerier interface {
	GetInsights(ctx context.Context, filter domain.InsightFilter) (*domain.InsightsPage, error)
	GetSummary(ctx context.Context, filter domain.InsightFilter) (*usecase.InsightsSummary, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// handles HTTP requests
type HTTPHandlers struct {
	cycles   CycleController
	insights InsightsQuerier
	storage  Pinger
	logger   *logger.Logger
}

func NewHTTPHandlers(cycles CycleController, insights InsightsQuerier, storage Pinger, logger *logger.Logger) *HTTPHandlers {
	return &HTTPHandlers{
		cycles:   cycles,
		insights: insights,
		storage:  storage,
		logger:   logger,
	}
}

func requestID(c *gin.Context) string {
	return c.GetString("request_id")
}

func (h *HTTPHandlers) fail(c *gin.Context, status int, message string, err error) {
	body := gin.H{
		"error":      message,
		"request_id": requestID(c),
	}
	if err != nil {
		body["message"] = err.Error()
	}
	c.JSON(status, body)
}

// IngestRun starts a cycle in the background.
func (h *HTTPHandlers) IngestRun(c *gin.Context) {
	ctx := c.Request.Context()
	log := h.logger.WithContext(ctx)

	err := h.cycles.Start(ctx)
	if errors.Is(err, domain.ErrCycleInProgress) {
		log.Warn("Manual ingestion rejected, cycle in progress")
		h.fail(c, http.StatusConflict, "Cycle already running", err)
		return
	}
	if err != nil {
		log.WithError(err).Error("Failed to start ingestion")
		h.fail(c, http.StatusInternalServerError, "Failed to start ingestion", err)
		return
	}

	log.Info("Manual ingestion started")
	c.JSON(http.StatusAccepted, gin.H{
		"message":    "ETL cycle started",
		"request_id": requestID(c),
	})
}

// GetLastCycle returns the summary of the most recent cycle.
func (h *HTTPHandlers) GetLastCycle(c *gin.Context) {
	summary := h.cycles.LastSummary()
	if summary == nil {
		h.fail(c, http.StatusNotFound, "No cycle has run yet", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cycle":      summary,
		"request_id": requestID(c),
	})
}

func (h *HTTPHandlers) GetInsights(c *gin.Context) {
	ctx := c.Request.Context()

	filter, err := parseInsightFilter(c)
	if err != nil {
		h.fail(c, http.StatusBadRequest, "Invalid parameters", err)
		return
	}

	page, err := h.insights.GetInsights(ctx, filter)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to get insights")
		h.fail(c, http.StatusInternalServerError, "Failed to retrieve insights", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":       page.Data,
		"total":      page.Total,
		"limit":      page.Limit,
		"offset":     page.Offset,
		"has_more":   page.HasMore,
		"request_id": requestID(c),
	})
}

func (h *HTTPHandlers) GetInsightsSummary(c *gin.Context) {
	ctx := c.Request.Context()

	filter, err := parseInsightFilter(c)
	if err != nil {
		h.fail(c, http.StatusBadRequest, "Invalid parameters", err)
		return
	}

	summary, err := h.insights.GetSummary(ctx, filter)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to get insights summary")
		h.fail(c, http.StatusInternalServerError, "Failed to retrieve summary", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"summary":    summary,
		"request_id": requestID(c),
	})
}

// GetAPIInfo returns API v1 information and available endpoints
func (h *HTTPHandlers) GetAPIInfo(c *gin.Context) {
	filters := gin.H{
		"account_id": "Optional: ad account id as stored (e.g. 123456789)",
		"platform":   "Optional: publisher platform (facebook, instagram, ...)",
		"from":       "Optional: Start date (YYYY-MM-DD)",
		"to":         "Optional: End date (YYYY-MM-DD)",
	}

	c.JSON(http.StatusOK, gin.H{
		"api_version": "v1",
		"service":     serviceName,
		"version":     serviceVersion,
		"description": "Pulls Meta ad insights, normalizes action metrics and upserts them into the reporting store",
		"endpoints": gin.H{
			"ingest": gin.H{
				"path":        "/api/v1/ingest/run",
				"methods":     []string{"POST"},
				"description": "Start an ETL cycle in the background; 409 while one is running",
			},
			"last_cycle": gin.H{
				"path":        "/api/v1/cycles/last",
				"methods":     []string{"GET"},
				"description": "Summary of the most recent cycle",
			},
			"insights": gin.H{
				"path":        "/api/v1/insights",
				"methods":     []string{"GET"},
				"description": "Query persisted insights",
				"parameters": gin.H{
					"account_id": filters["account_id"],
					"platform":   filters["platform"],
					"from":       filters["from"],
					"to":         filters["to"],
					"limit":      fmt.Sprintf("Optional: Number of results (default: 100, max: %d)", maxPageLimit),
					"offset":     "Optional: Pagination offset (default: 0)",
				},
				"example": "/api/v1/insights?platform=instagram&from=2026-01-01&to=2026-01-31",
			},
			"summary": gin.H{
				"path":        "/api/v1/insights/summary",
				"methods":     []string{"GET"},
				"description": "Totals and cost averages, last 30 days by default",
				"parameters":  filters,
				"example":     "/api/v1/insights/summary?account_id=123456789",
			},
		},
		"averages": gin.H{
			"cpc": "Cost per link click (valor_gasto / clique_link)",
			"cpl": "Cost per lead (valor_gasto / lead)",
			"cpm": "Cost per thousand impressions",
			"ctr": "Link click rate in percent (clique_link / impressoes)",
		},
		"request_id": requestID(c),
	})
}

// HealthCheck reports the service and its storage.
func (h *HTTPHandlers) HealthCheck(c *gin.Context) {
	status, code := "healthy", http.StatusOK
	checks := gin.H{"storage": "ok"}

	if err := h.storage.Ping(c.Request.Context()); err != nil {
		status, code = "degraded", http.StatusServiceUnavailable
		checks["storage"] = err.Error()
	}

	c.JSON(code, gin.H{
		"status":     status,
		"checks":     checks,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"service":    serviceName,
		"version":    serviceVersion,
		"request_id": requestID(c),
	})
}

// parseInsightFilter parses the common query parameters of insight endpoints
func parseInsightFilter(c *gin.Context) (domain.InsightFilter, error) {
	filter := domain.InsightFilter{
		AccountID: c.Query("account_id"),
		Platform:  c.Query("platform"),
	}

	for name, target := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		value := c.Query(name)
		if value == "" {
			continue
		}
		t, err := time.Parse(domain.DateLayout, value)
		if err != nil {
			return filter, fmt.Errorf("%s must be in YYYY-MM-DD format", name)
		}
		*target = &t
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return filter, errors.New("from must not be after to")
	}

	var err error
	if filter.Limit, err = intQuery(c, "limit"); err != nil {
		return filter, err
	}
	if filter.Limit > maxPageLimit {
		return filter, fmt.Errorf("limit must not exceed %d", maxPageLimit)
	}
	if filter.Offset, err = intQuery(c, "offset"); err != nil {
		return filter, err
	}
	return filter, nil
}

func intQuery(c *gin.Context, name string) (int, error) {
	value := c.Query(name)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}
