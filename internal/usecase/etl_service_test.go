package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metaetl/internal/domain"
	"metaetl/internal/infrastructure"
	"metaetl/internal/transform"
	"metaetl/pkg/logger"
	"metaetl/pkg/metrics"
)

type fakeFetcher struct {
	records map[string][]map[string]any
	errs    map[string]error
	block   chan struct{}
	started chan struct{}
}

func (f *fakeFetcher) FetchInsights(ctx context.Context, accountID, datePreset string) ([]domain.RawInsight, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if err := f.errs[accountID]; err != nil {
		return nil, err
	}
	var out []domain.RawInsight
	for _, values := range f.records[accountID] {
		r, err := domain.NewRawInsight(values)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

type fakeFollowers struct {
	gained int64
	days   []time.Time
}

func (f *fakeFollowers) FetchFollowerGrowth(ctx context.Context, igAccountID string, day time.Time) (*domain.FollowerGrowth, error) {
	f.days = append(f.days, day)
	return &domain.FollowerGrowth{IGAccountID: igAccountID, Date: day.Truncate(24 * time.Hour), Gained: f.gained}, nil
}

type notification struct {
	severity domain.Severity
	message  string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *fakeNotifier) Notify(ctx context.Context, severity domain.Severity, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{severity: severity, message: message})
}

type unreachableRepo struct {
	*infrastructure.MemoryRepository
}

func (unreachableRepo) Ping(ctx context.Context) error {
	return errors.New("dial tcp: connection refused")
}

type rejectingRepo struct {
	*infrastructure.MemoryRepository
}

func (rejectingRepo) UpsertInsights(ctx context.Context, payload domain.Table) error {
	return errors.New("violates not-null constraint")
}

type harness struct {
	service   *ETLService
	fetcher   *fakeFetcher
	followers *fakeFollowers
	repo      *infrastructure.MemoryRepository
	notifier  *fakeNotifier
	metrics   *metrics.Metrics
	sleeps    []time.Duration
}

func newHarness(t *testing.T, opts ETLOptions, taxonomy *transform.ActionTaxonomy, wrap func(*infrastructure.MemoryRepository) domain.InsightRepository) *harness {
	t.Helper()
	base, _ := test.NewNullLogger()
	log := logger.Wrap(base)
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	h := &harness{
		fetcher:   &fakeFetcher{records: map[string][]map[string]any{}, errs: map[string]error{}},
		followers: &fakeFollowers{gained: 17},
		repo:      infrastructure.NewMemoryRepository(log),
		notifier:  &fakeNotifier{},
		metrics:   m,
	}
	var repo domain.InsightRepository = h.repo
	if wrap != nil {
		repo = wrap(h.repo)
	}

	if opts.DatePreset == "" {
		opts.DatePreset = "last_90d"
	}
	if opts.InsightsTable == "" {
		opts.InsightsTable = "insights_meta_ads"
	}
	transformer := transform.NewTransformer(transform.NewNormalizer(taxonomy), 2, log, m)
	h.service = NewETLService(h.fetcher, h.followers, repo, h.repo, nil, h.notifier, transformer, log, m, opts)
	h.service.now = func() time.Time { return time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC) }
	h.service.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return ctx.Err()
	}
	return h
}

func insight(adID, date, spend string) map[string]any {
	return map[string]any{
		"ad_id":              adID,
		"date_start":         date,
		"account_id":         "111",
		"spend":              spend,
		"impressions":        "100",
		"publisher_platform": "instagram",
		"platform_position":  "feed",
		"actions": []map[string]any{
			{"action_type": "lead", "value": "2"},
			{"action_type": "onsite_web_lead", "value": "1"},
		},
	}
}

func TestRunCycle_LoadsAllAccounts(t *testing.T) {
	h := newHarness(t, ETLOptions{
		AccountIDs:      []string{"act_1", "act_2"},
		AccountCooldown: 5 * time.Second,
		IGAccountID:     "ig-1",
	}, nil, nil)
	h.fetcher.records["act_1"] = []map[string]any{insight("1", "2026-02-10", "10.00"), insight("2", "2026-02-10", "5.00")}
	h.fetcher.records["act_2"] = []map[string]any{insight("3", "2026-02-11", "1.00")}

	summary, err := h.service.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.CycleSucceeded, summary.Status)
	assert.NotEmpty(t, summary.CycleID)
	assert.Equal(t, 3, summary.RowsProcessed)
	assert.Equal(t, 1, summary.FollowerRows)
	assert.Empty(t, summary.Errors)
	require.Len(t, summary.Accounts, 2)
	assert.Equal(t, domain.AccountSucceeded, summary.Accounts[0].Status)
	assert.Equal(t, 2, summary.Accounts[0].RowsLoaded)

	// cooldown only between accounts
	assert.Equal(t, []time.Duration{5 * time.Second}, h.sleeps)

	// yesterday's follower growth
	require.Len(t, h.followers.days, 1)
	assert.Equal(t, 13, h.followers.days[0].Day())
	growth := h.repo.FollowerGrowth("ig-1")
	require.Len(t, growth, 1)
	assert.EqualValues(t, 17, growth[0].Gained)

	page, err := h.repo.GetByFilter(context.Background(), domain.InsightFilter{})
	require.NoError(t, err)
	require.Equal(t, 3, page.Total)
	for _, rec := range page.Data {
		assert.EqualValues(t, 3, rec.LeadTotal)
		assert.NotEmpty(t, rec.RawData)
	}

	assert.Empty(t, h.notifier.sent)
	assert.Same(t, summary, h.service.LastSummary())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ETLCyclesTotal.WithLabelValues("succeeded")))
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.ETLRowsUpserted.WithLabelValues("insights_meta_ads")))
}

func TestRunCycle_RepeatedIdentityKeepsLastWrite(t *testing.T) {
	h := newHarness(t, ETLOptions{AccountIDs: []string{"act_1"}}, nil, nil)
	h.fetcher.records["act_1"] = []map[string]any{
		insight("1", "2026-02-10", "10.00"),
		insight("1", "2026-02-10", "12.50"),
	}

	summary, err := h.service.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.CycleSucceeded, summary.Status)

	page, err := h.repo.GetByFilter(context.Background(), domain.InsightFilter{})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "12.5", page.Data[0].Spend.String())

	// a later cycle with new numbers updates the same row
	h.fetcher.records["act_1"] = []map[string]any{insight("1", "2026-02-10", "20.00")}
	_, err = h.service.RunCycle(context.Background())
	require.NoError(t, err)

	page, err = h.repo.GetByFilter(context.Background(), domain.InsightFilter{})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "20", page.Data[0].Spend.String())
}

func TestRunCycle_ContainsAccountFailures(t *testing.T) {
	h := newHarness(t, ETLOptions{AccountIDs: []string{"act_1", "act_2", "act_3"}}, nil, nil)
	h.fetcher.errs["act_1"] = errors.New("graph API returned status 500")
	h.fetcher.records["act_2"] = []map[string]any{
		insight("1", "2026-02-10", "1.00"),
		{"date_start": "2026-02-10"},
	}

	summary, err := h.service.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.CyclePartial, summary.Status)
	require.Len(t, summary.Accounts, 3)
	assert.Equal(t, domain.AccountFailed, summary.Accounts[0].Status)
	assert.Equal(t, domain.AccountPartial, summary.Accounts[1].Status)
	assert.Equal(t, 1, summary.Accounts[1].RecordsSkipped)
	assert.Equal(t, domain.AccountEmpty, summary.Accounts[2].Status)
	assert.Equal(t, 1, summary.RowsProcessed)
	require.Len(t, summary.Errors, 2)
	assert.Contains(t, summary.Errors[0], "fetch_failure")
	assert.Contains(t, summary.Errors[1], "record_normalization_failure")

	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, domain.SeverityWarning, h.notifier.sent[0].severity)
	assert.Contains(t, h.notifier.sent[0].message, "graph API returned status 500")
}

func TestRunCycle_LoadFailureIsPerAccount(t *testing.T) {
	h := newHarness(t, ETLOptions{AccountIDs: []string{"act_1"}}, nil, func(m *infrastructure.MemoryRepository) domain.InsightRepository {
		return rejectingRepo{m}
	})
	h.fetcher.records["act_1"] = []map[string]any{insight("1", "2026-02-10", "1.00")}

	summary, err := h.service.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.CycleFailed, summary.Status)
	assert.Contains(t, summary.Errors[0], "load_failure")

	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, domain.SeverityError, h.notifier.sent[0].severity)
}

func TestRunCycle_StorageUnreachableIsFatal(t *testing.T) {
	h := newHarness(t, ETLOptions{AccountIDs: []string{"act_1"}}, nil, func(m *infrastructure.MemoryRepository) domain.InsightRepository {
		return unreachableRepo{m}
	})

	summary, err := h.service.RunCycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.KindCycleFatal, domain.KindOf(err))
	require.NotNil(t, summary)
	assert.Equal(t, domain.CycleFailed, summary.Status)
	assert.Empty(t, summary.Accounts)

	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, domain.SeverityError, h.notifier.sent[0].severity)
	assert.Contains(t, h.notifier.sent[0].message, "connection refused")
}

func TestRunCycle_NotifiesSuccessWhenEnabled(t *testing.T) {
	h := newHarness(t, ETLOptions{AccountIDs: []string{"act_1"}, NotifyOnSuccess: true}, nil, nil)
	h.fetcher.records["act_1"] = []map[string]any{insight("1", "2026-02-10", "1.00")}

	_, err := h.service.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, domain.SeverityInfo, h.notifier.sent[0].severity)
	assert.Contains(t, h.notifier.sent[0].message, "1 rows upserted, 1/1 accounts loaded")
}

func TestRunCycle_RejectsOverlappingRuns(t *testing.T) {
	h := newHarness(t, ETLOptions{AccountIDs: []string{"act_1"}}, nil, nil)
	h.fetcher.block = make(chan struct{})
	h.fetcher.started = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := h.service.RunCycle(context.Background())
		done <- err
	}()
	<-h.fetcher.started

	summary, err := h.service.RunCycle(context.Background())
	assert.ErrorIs(t, err, domain.ErrCycleInProgress)
	assert.Nil(t, summary)

	close(h.fetcher.block)
	require.NoError(t, <-done)
}

func TestRunCycle_DropsColumnsUnknownToTable(t *testing.T) {
	taxonomy := transform.DefaultTaxonomy()
	taxonomy.Extras = []transform.ExtraMetric{
		{Column: "post_engagement", Field: domain.FieldActions, Types: transform.NewTypeSet("post_engagement")},
	}
	h := newHarness(t, ETLOptions{AccountIDs: []string{"act_1"}}, taxonomy, nil)
	h.fetcher.records["act_1"] = []map[string]any{insight("1", "2026-02-10", "1.00")}

	summary, err := h.service.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.CycleSucceeded, summary.Status)
	assert.Equal(t, 1, summary.RowsProcessed)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ETLSchemaDrift.WithLabelValues("dropped")))
}

func TestRunCycle_CancelledDuringCooldown(t *testing.T) {
	h := newHarness(t, ETLOptions{AccountIDs: []string{"act_1", "act_2"}}, nil, nil)
	h.fetcher.records["act_1"] = []map[string]any{insight("1", "2026-02-10", "1.00")}

	ctx, cancel := context.WithCancel(context.Background())
	h.service.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	summary, err := h.service.RunCycle(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, summary.Accounts, 1)
	assert.Equal(t, domain.CyclePartial, summary.Status)
}

func TestCycleMessage_TruncatesErrors(t *testing.T) {
	summary := &domain.CycleSummary{CycleID: "c1", Status: domain.CycleFailed}
	for range 20 {
		summary.AddError(errors.New("boom"))
	}

	msg := cycleMessage(summary)
	assert.Contains(t, msg, "Cycle c1 failed")
	assert.Contains(t, msg, "... and 5 more")
}

func TestStart_RunsInBackground(t *testing.T) {
	h := newHarness(t, ETLOptions{AccountIDs: []string{"act_1"}}, nil, nil)
	h.fetcher.records["act_1"] = []map[string]any{insight("1", "2026-02-10", "1.00")}
	h.fetcher.block = make(chan struct{})
	h.fetcher.started = make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.service.Start(ctx))
	cancel()
	<-h.fetcher.started

	assert.ErrorIs(t, h.service.Start(context.Background()), domain.ErrCycleInProgress)

	close(h.fetcher.block)
	require.Eventually(t, func() bool {
		last := h.service.LastSummary()
		return last != nil && last.Status == domain.CycleSucceeded
	}, 2*time.Second, 10*time.Millisecond)
}
