package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metaetl/internal/domain"
	"metaetl/internal/infrastructure"
	"metaetl/pkg/logger"
)

func seededRepo(t *testing.T) *infrastructure.MemoryRepository {
	t.Helper()
	base, _ := test.NewNullLogger()
	repo := infrastructure.NewMemoryRepository(logger.Wrap(base))

	columns := []string{
		domain.ColHashID, domain.ColReportDate, domain.ColAccountID, domain.ColSpend,
		domain.ColImpressions, domain.ColLinkClicks, domain.ColLeadTotal,
	}
	require.NoError(t, repo.UpsertInsights(context.Background(), domain.Table{
		Columns: columns,
		Rows: [][]any{
			{"h1", "2026-02-01", "act_1", decimal.RequireFromString("30.00"), int64(2000), int64(20), int64(3)},
			{"h2", "2026-02-02", "act_1", decimal.RequireFromString("10.00"), int64(2000), int64(20), int64(1)},
			{"h3", "2025-12-01", "act_1", decimal.RequireFromString("99.00"), int64(1), int64(1), int64(1)},
		},
	}))
	return repo
}

func TestInsightsService_GetSummary(t *testing.T) {
	base, _ := test.NewNullLogger()
	svc := NewInsightsService(seededRepo(t), logger.Wrap(base))
	svc.now = func() time.Time { return time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC) }

	summary, err := svc.GetSummary(context.Background(), domain.InsightFilter{})
	require.NoError(t, err)

	assert.Equal(t, SummaryPeriod{From: "2026-01-15", To: "2026-02-14"}, summary.Period)
	assert.Equal(t, 2, summary.Totals.Rows)
	assert.Equal(t, "40", summary.Totals.Spend.String())
	assert.EqualValues(t, 4000, summary.Totals.Impressions)
	assert.Equal(t, "1", summary.Averages.CPC.String())
	assert.Equal(t, "10", summary.Averages.CPL.String())
	assert.Equal(t, "10", summary.Averages.CPM.String())
	assert.Equal(t, "1", summary.Averages.CTR.String())
}

func TestAverages_ZeroDenominators(t *testing.T) {
	avg := averages(domain.InsightTotals{Spend: decimal.NewFromInt(5)})
	assert.True(t, avg.CPC.IsZero())
	assert.True(t, avg.CPL.IsZero())
	assert.True(t, avg.CPM.IsZero())
	assert.True(t, avg.CTR.IsZero())
}

func TestInsightsService_GetInsights(t *testing.T) {
	base, _ := test.NewNullLogger()
	svc := NewInsightsService(seededRepo(t), logger.Wrap(base))

	page, err := svc.GetInsights(context.Background(), domain.InsightFilter{AccountID: "act_1", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Data, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "2025-12-01", page.Data[0].ReportDate)
}
