package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"metaetl/internal/domain"
	"metaetl/internal/transform"
	"metaetl/pkg/logger"
	"metaetl/pkg/metrics"
)

// errors listed in a notification before the rest is summarized
const maxNotifiedErrors = 15

type ETLOptions struct {
	AccountIDs      []string
	DatePreset      string
	AccountCooldown time.Duration
	IGAccountID     string
	NotifyOnSuccess bool
	// label for the rows upserted metric
	InsightsTable string
}

// ETLService runs ingestion cycles: fetch, normalize, reconcile and upsert
// every configured ad account, then the Instagram follower growth.
type ETLService struct {
	fetcher      domain.InsightFetcher
	followers    domain.FollowerFetcher
	insightRepo  domain.InsightRepository
	followerRepo domain.FollowerRepository
	archive      domain.RawArchive
	notifier     domain.Notifier
	transformer  *transform.Transformer
	logger       *logger.Logger
	metrics      *metrics.Metrics
	opts         ETLOptions

	running sync.Mutex
	mu      sync.RWMutex
	last    *domain.CycleSummary

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewETLService wires a service. followers, followerRepo and archive may be
// nil to disable those steps.
func NewETLService(
	fetcher domain.InsightFetcher,
	followers domain.FollowerFetcher,
	insightRepo domain.InsightRepository,
	followerRepo domain.FollowerRepository,
	archive domain.RawArchive,
	notifier domain.Notifier,
	transformer *transform.Transformer,
	logger *logger.Logger,
	metrics *metrics.Metrics,
	opts ETLOptions,
) *ETLService {
	return &ETLService{
		fetcher:      fetcher,
		followers:    followers,
		insightRepo:  insightRepo,
		followerRepo: followerRepo,
		archive:      archive,
		notifier:     notifier,
		transformer:  transformer,
		logger:       logger,
		metrics:      metrics,
		opts:         opts,
		now:          time.Now,
		sleep:        sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RunCycle executes one full cycle. It always returns a summary except when
// another cycle is running, in which case it returns domain.ErrCycleInProgress.
// A setup failure is returned as a cycle_fatal error next to the summary.
func (s *ETLService) RunCycle(ctx context.Context) (*domain.CycleSummary, error) {
	if !s.running.TryLock() {
		return nil, domain.ErrCycleInProgress
	}
	defer s.running.Unlock()
	return s.run(ctx)
}

// Start launches a cycle in the background and returns once it holds the
// cycle lock. The cycle outlives ctx cancellation but keeps its values.
func (s *ETLService) Start(ctx context.Context) error {
	if !s.running.TryLock() {
		return domain.ErrCycleInProgress
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		defer s.running.Unlock()
		if _, err := s.run(ctx); err != nil {
			s.logger.WithContext(ctx).WithError(err).Error("Background ETL cycle failed")
		}
	}()
	return nil
}

// run must be called with the cycle lock held.
func (s *ETLService) run(ctx context.Context) (*domain.CycleSummary, error) {
	s.metrics.IncETLCyclesInProgress()
	defer s.metrics.DecETLCyclesInProgress()

	summary := &domain.CycleSummary{
		CycleID:    uuid.NewString(),
		StartedAt:  s.now().UTC(),
		DatePreset: s.opts.DatePreset,
		Accounts:   []domain.AccountResult{},
	}
	ctx = context.WithValue(ctx, logger.CycleIDKey, summary.CycleID)
	log := s.logger.WithContext(ctx)

	log.WithFields(map[string]any{
		"accounts":    len(s.opts.AccountIDs),
		"date_preset": s.opts.DatePreset,
	}).Info("Starting ETL cycle")

	fatal := s.execute(ctx, summary)

	summary.Finish(s.now().UTC())
	duration := summary.FinishedAt.Sub(summary.StartedAt)
	s.metrics.RecordETLCycle(string(summary.Status), duration)

	s.mu.Lock()
	s.last = summary
	s.mu.Unlock()

	log.WithFields(map[string]any{
		"status":         summary.Status,
		"rows_processed": summary.RowsProcessed,
		"follower_rows":  summary.FollowerRows,
		"errors":         len(summary.Errors),
		"duration":       duration,
	}).Info("ETL cycle finished")

	s.notify(ctx, summary, fatal)

	return summary, fatal
}

func (s *ETLService) execute(ctx context.Context, summary *domain.CycleSummary) error {
	log := s.logger.WithContext(ctx)

	if err := s.insightRepo.Ping(ctx); err != nil {
		fatal := &domain.PipelineError{Kind: domain.KindCycleFatal, Err: err}
		summary.AddError(fatal)
		log.WithError(err).Error("Storage unavailable, aborting cycle")
		return fatal
	}

	for i, accountID := range s.opts.AccountIDs {
		if i > 0 {
			if err := s.sleep(ctx, s.opts.AccountCooldown); err != nil {
				fatal := &domain.PipelineError{Kind: domain.KindCycleFatal, Err: fmt.Errorf("cycle interrupted before account %s: %w", accountID, err)}
				summary.AddError(fatal)
				log.WithError(err).Warn("ETL cycle interrupted")
				return fatal
			}
		}

		result, errs := s.processAccount(ctx, summary.CycleID, accountID)
		summary.Accounts = append(summary.Accounts, result)
		summary.RowsProcessed += result.RowsLoaded
		for _, err := range errs {
			summary.AddError(err)
		}
		s.metrics.RecordETLAccount(string(result.Status))
	}

	if err := s.syncFollowers(ctx, summary); err != nil {
		summary.AddError(err)
	}
	return nil
}

func (s *ETLService) processAccount(ctx context.Context, cycleID, accountID string) (domain.AccountResult, []error) {
	start := s.now()
	ctx = context.WithValue(ctx, logger.AccountIDKey, accountID)
	log := s.logger.WithContext(ctx)

	result := domain.AccountResult{AccountID: accountID}
	var errs []error
	fail := func(kind domain.ErrorKind, err error) (domain.AccountResult, []error) {
		pe := &domain.PipelineError{Kind: kind, AccountID: accountID, Err: err}
		log.WithError(err).WithField("kind", kind).Error("Account failed")
		result.Status = domain.AccountFailed
		result.Errors = append(result.Errors, pe.Error())
		result.Duration = s.now().Sub(start)
		return result, append(errs, pe)
	}

	records, err := s.fetcher.FetchInsights(ctx, accountID, s.opts.DatePreset)
	if err != nil {
		return fail(domain.KindFetchFailure, err)
	}
	result.RecordsFetched = len(records)

	if len(records) == 0 {
		log.Warn("No insights returned, skipping account")
		result.Status = domain.AccountEmpty
		result.Duration = s.now().Sub(start)
		return result, nil
	}

	if s.archive != nil {
		if err := s.archive.Archive(ctx, cycleID, accountID, records); err != nil {
			log.WithError(err).WithField("kind", domain.KindArchiveFailure).Warn("Failed to archive raw insights")
			s.metrics.RecordExternalAPIFailure("archive", "put_object")
			result.Warnings++
		}
	}

	batch := s.transformer.Transform(ctx, records)
	result.RecordsSkipped = len(batch.Failures)
	result.Warnings += batch.Warnings
	for _, failure := range batch.Failures {
		result.Errors = append(result.Errors, failure.Err.Error())
		errs = append(errs, failure.Err)
	}

	if batch.Len() == 0 {
		return fail(domain.KindRecordNormalization, errors.New("no record of the batch could be normalized"))
	}

	table, err := batch.Table()
	if err != nil {
		return fail(domain.KindLoadFailure, err)
	}

	target, err := s.insightRepo.SchemaColumns(ctx)
	if err != nil {
		return fail(domain.KindLoadFailure, err)
	}

	payload, diag := transform.Reconcile(table, target)
	if diag.Drifted() {
		log.WithFields(map[string]any{
			"kind":    domain.KindSchemaDrift,
			"missing": diag.Missing,
			"dropped": diag.Dropped,
		}).Warn("Payload does not match the insights table")
		s.metrics.RecordSchemaDrift("missing", len(diag.Missing))
		s.metrics.RecordSchemaDrift("dropped", len(diag.Dropped))
	}

	if err := s.insightRepo.UpsertInsights(ctx, payload); err != nil {
		return fail(domain.KindLoadFailure, err)
	}
	result.RowsLoaded = payload.Len()
	s.metrics.RecordRowsUpserted(s.opts.InsightsTable, payload.Len())

	result.Status = domain.AccountSucceeded
	if result.RecordsSkipped > 0 {
		result.Status = domain.AccountPartial
	}
	result.Duration = s.now().Sub(start)

	log.WithFields(map[string]any{
		"records":  result.RecordsFetched,
		"rows":     result.RowsLoaded,
		"skipped":  result.RecordsSkipped,
		"warnings": result.Warnings,
		"duration": result.Duration,
	}).Info("Account loaded")

	return result, errs
}

// syncFollowers loads yesterday's Instagram follower growth.
func (s *ETLService) syncFollowers(ctx context.Context, summary *domain.CycleSummary) error {
	if s.opts.IGAccountID == "" || s.followers == nil || s.followerRepo == nil {
		return nil
	}
	ctx = context.WithValue(ctx, logger.AccountIDKey, s.opts.IGAccountID)
	log := s.logger.WithContext(ctx)

	day := s.now().AddDate(0, 0, -1)
	growth, err := s.followers.FetchFollowerGrowth(ctx, s.opts.IGAccountID, day)
	if err != nil {
		log.WithError(err).Error("Failed to fetch follower growth")
		return &domain.PipelineError{Kind: domain.KindFetchFailure, AccountID: s.opts.IGAccountID, Err: err}
	}

	if err := s.followerRepo.UpsertFollowerGrowth(ctx, []domain.FollowerGrowth{*growth}); err != nil {
		log.WithError(err).Error("Failed to store follower growth")
		return &domain.PipelineError{Kind: domain.KindLoadFailure, AccountID: s.opts.IGAccountID, Err: err}
	}
	summary.FollowerRows++
	return nil
}

func (s *ETLService) notify(ctx context.Context, summary *domain.CycleSummary, fatal error) {
	var severity domain.Severity
	switch {
	case fatal != nil, summary.Status == domain.CycleFailed:
		severity = domain.SeverityError
	case summary.Status == domain.CyclePartial:
		severity = domain.SeverityWarning
	case s.opts.NotifyOnSuccess:
		severity = domain.SeverityInfo
	default:
		return
	}
	// a cancelled cycle still reports why it stopped
	s.notifier.Notify(context.WithoutCancel(ctx), severity, cycleMessage(summary))
}

func cycleMessage(summary *domain.CycleSummary) string {
	var b strings.Builder

	loaded := 0
	for _, account := range summary.Accounts {
		if account.Status != domain.AccountFailed {
			loaded++
		}
	}
	fmt.Fprintf(&b, "Cycle %s %s: %d rows upserted, %d/%d accounts loaded",
		summary.CycleID, summary.Status, summary.RowsProcessed, loaded, len(summary.Accounts))
	if summary.FollowerRows > 0 {
		fmt.Fprintf(&b, ", %d follower rows", summary.FollowerRows)
	}

	if len(summary.Errors) > 0 {
		b.WriteString("\n\nErrors:")
		for i, msg := range summary.Errors {
			if i == maxNotifiedErrors {
				fmt.Fprintf(&b, "\n... and %d more", len(summary.Errors)-maxNotifiedErrors)
				break
			}
			b.WriteString("\n- ")
			b.WriteString(msg)
		}
	}
	return b.String()
}

// LastSummary returns the summary of the most recent cycle, or nil.
func (s *ETLService) LastSummary() *domain.CycleSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}
