package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"metaetl/internal/domain"
	"metaetl/pkg/logger"
)

const defaultSummaryDays = 30

// InsightsService answers reporting queries over persisted insights.
type InsightsService struct {
	repo   domain.InsightRepository
	logger *logger.Logger
	now    func() time.Time
}

func NewInsightsService(repo domain.InsightRepository, logger *logger.Logger) *InsightsService {
	return &InsightsService{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

type SummaryPeriod struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// CostAverages are derived from totals; a zero denominator yields zero.
type CostAverages struct {
	CPC decimal.Decimal `json:"cpc"`
	CPL decimal.Decimal `json:"cpl"`
	CPM decimal.Decimal `json:"cpm"`
	CTR decimal.Decimal `json:"ctr"`
}

type InsightsSummary struct {
	Period    SummaryPeriod        `json:"period"`
	AccountID string               `json:"account_id,omitempty"`
	Platform  string               `json:"platform,omitempty"`
	Totals    domain.InsightTotals `json:"totals"`
	Averages  CostAverages         `json:"averages"`
}

func (s *InsightsService) GetInsights(ctx context.Context, filter domain.InsightFilter) (*domain.InsightsPage, error) {
	log := s.logger.WithContext(ctx)
	log.WithFields(map[string]any{
		"from":       filter.From,
		"to":         filter.To,
		"account_id": filter.AccountID,
		"platform":   filter.Platform,
		"limit":      filter.Limit,
		"offset":     filter.Offset,
	}).Info("Getting insights by filter")

	page, err := s.repo.GetByFilter(ctx, filter)
	if err != nil {
		log.WithError(err).Error("Failed to get insights")
		return nil, fmt.Errorf("failed to get insights: %w", err)
	}

	log.WithField("count", len(page.Data)).Info("Retrieved insights")
	return page, nil
}

// GetSummary totals insights over the filter's date range, the last 30 days
// when none is given.
func (s *InsightsService) GetSummary(ctx context.Context, filter domain.InsightFilter) (*InsightsSummary, error) {
	log := s.logger.WithContext(ctx)

	if filter.To == nil {
		to := s.now().UTC()
		filter.To = &to
	}
	if filter.From == nil {
		from := filter.To.AddDate(0, 0, -defaultSummaryDays)
		filter.From = &from
	}
	filter.Limit, filter.Offset = 0, 0

	totals, err := s.repo.Summarize(ctx, filter)
	if err != nil {
		log.WithError(err).Error("Failed to summarize insights")
		return nil, fmt.Errorf("failed to summarize insights: %w", err)
	}

	summary := &InsightsSummary{
		Period: SummaryPeriod{
			From: filter.From.Format(domain.DateLayout),
			To:   filter.To.Format(domain.DateLayout),
		},
		AccountID: filter.AccountID,
		Platform:  filter.Platform,
		Totals:    *totals,
		Averages:  averages(*totals),
	}

	log.WithField("rows", totals.Rows).Info("Insights summary generated")
	return summary, nil
}

func averages(t domain.InsightTotals) CostAverages {
	ratio := func(num decimal.Decimal, den int64, places int32) decimal.Decimal {
		if den == 0 {
			return decimal.Zero
		}
		return num.Div(decimal.NewFromInt(den)).Round(places)
	}
	return CostAverages{
		CPC: ratio(t.Spend, t.LinkClicks, 2),
		CPL: ratio(t.Spend, t.LeadTotal, 2),
		CPM: ratio(t.Spend.Mul(decimal.NewFromInt(1000)), t.Impressions, 2),
		CTR: ratio(decimal.NewFromInt(t.LinkClicks*100), t.Impressions, 4),
	}
}
