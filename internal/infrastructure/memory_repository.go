package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"metaetl/internal/domain"
	"metaetl/pkg/logger"
)

const defaultPageLimit = 100

// MemoryRepository keeps insights and follower growth in process memory with
// the same upsert semantics as the Postgres repository. It implements
// domain.InsightRepository and domain.FollowerRepository.
type MemoryRepository struct {
	insights  map[string]domain.InsightRecord
	followers map[followerKey]domain.FollowerGrowth
	columns   []string
	mutex     sync.RWMutex
	logger    *logger.Logger
	now       func() time.Time
}

type followerKey struct {
	account string
	day     string
}

func NewMemoryRepository(logger *logger.Logger) *MemoryRepository {
	return &MemoryRepository{
		insights:  make(map[string]domain.InsightRecord),
		followers: make(map[followerKey]domain.FollowerGrowth),
		columns:   slices.Clone(domain.InsightsSchema),
		logger:    logger,
		now:       time.Now,
	}
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

func (r *MemoryRepository) SchemaColumns(ctx context.Context) ([]string, error) {
	return slices.Clone(r.columns), nil
}

// UpsertInsights inserts new identity keys and overwrites the numeric columns
// and raw_data of existing ones. Later rows of the same payload win.
func (r *MemoryRepository) UpsertInsights(ctx context.Context, payload domain.Table) error {
	if payload.Index(domain.ColHashID) < 0 {
		return domain.ErrNoConflictKey
	}

	records := make([]domain.InsightRecord, 0, payload.Len())
	for i, row := range payload.Rows {
		record, err := recordFromRow(payload.Columns, row)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		records = append(records, record)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := r.now().UTC()
	var inserted, updated int
	for _, record := range records {
		record.UpdatedAt = now
		existing, ok := r.insights[record.HashID]
		if !ok {
			r.insights[record.HashID] = record
			inserted++
			continue
		}

		existing.Spend = record.Spend
		existing.Impressions = record.Impressions
		existing.LinkClicks = record.LinkClicks
		existing.LeadForm = record.LeadForm
		existing.LeadSite = record.LeadSite
		existing.LeadMessage = record.LeadMessage
		existing.FollowerGain = record.FollowerGain
		existing.Video3s = record.Video3s
		existing.Video50 = record.Video50
		existing.Video75 = record.Video75
		existing.LeadTotal = record.LeadTotal
		existing.RawData = record.RawData
		existing.UpdatedAt = now
		r.insights[record.HashID] = existing
		updated++
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"inserted": inserted,
		"updated":  updated,
	}).Info("Stored insights in memory")
	return nil
}

func (r *MemoryRepository) GetByFilter(ctx context.Context, filter domain.InsightFilter) (*domain.InsightsPage, error) {
	r.mutex.RLock()
	matched := r.match(filter)
	r.mutex.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].ReportDate != matched[j].ReportDate {
			return matched[i].ReportDate < matched[j].ReportDate
		}
		return matched[i].HashID < matched[j].HashID
	})

	limit := defaultPageLimit
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	offset := max(filter.Offset, 0)

	total := len(matched)
	start := min(offset, total)
	end := min(offset+limit, total)

	data := []domain.InsightRecord{}
	if start < end {
		data = matched[start:end]
	}

	return &domain.InsightsPage{
		Data:    data,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: end < total,
	}, nil
}

func (r *MemoryRepository) Summarize(ctx context.Context, filter domain.InsightFilter) (*domain.InsightTotals, error) {
	r.mutex.RLock()
	matched := r.match(filter)
	r.mutex.RUnlock()

	totals := &domain.InsightTotals{}
	accounts := map[string]struct{}{}
	ads := map[string]struct{}{}
	for _, record := range matched {
		totals.Add(record)
		accounts[record.AccountID] = struct{}{}
		ads[record.AdID] = struct{}{}
	}
	totals.Accounts = len(accounts)
	totals.Ads = len(ads)
	return totals, nil
}

// match must be called with the read lock held.
func (r *MemoryRepository) match(filter domain.InsightFilter) []domain.InsightRecord {
	var from, to string
	if filter.From != nil {
		from = filter.From.Format(domain.DateLayout)
	}
	if filter.To != nil {
		to = filter.To.Format(domain.DateLayout)
	}

	var out []domain.InsightRecord
	for _, record := range r.insights {
		// YYYY-MM-DD compares chronologically as text
		if from != "" && record.ReportDate < from {
			continue
		}
		if to != "" && record.ReportDate > to {
			continue
		}
		if filter.AccountID != "" && record.AccountID != filter.AccountID {
			continue
		}
		if filter.Platform != "" && record.Platform != filter.Platform {
			continue
		}
		out = append(out, record)
	}
	return out
}

// UpsertFollowerGrowth keeps one row per Instagram account and day.
func (r *MemoryRepository) UpsertFollowerGrowth(ctx context.Context, growth []domain.FollowerGrowth) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, g := range growth {
		r.followers[followerKey{account: g.IGAccountID, day: g.Date.Format(domain.DateLayout)}] = g
	}

	r.logger.WithContext(ctx).WithField("count", len(growth)).Info("Stored follower growth in memory")
	return nil
}

// FollowerGrowth returns the stored growth of an account ordered by day.
func (r *MemoryRepository) FollowerGrowth(igAccountID string) []domain.FollowerGrowth {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var out []domain.FollowerGrowth
	for key, g := range r.followers {
		if key.account == igAccountID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// recordFromRow maps a payload row onto a record. Columns the payload does not
// carry keep their zero value.
func recordFromRow(columns []string, values []any) (domain.InsightRecord, error) {
	if len(values) != len(columns) {
		return domain.InsightRecord{}, fmt.Errorf("row has %d values for %d columns", len(values), len(columns))
	}

	var (
		rec domain.InsightRecord
		err error
	)
	for i, column := range columns {
		v := values[i]
		switch column {
		case domain.ColAdID:
			rec.AdID = fmt.Sprint(v)
		case domain.ColReportDate:
			rec.ReportDate, err = dateText(v)
		case domain.ColAccountID:
			rec.AccountID = fmt.Sprint(v)
		case domain.ColAccountName:
			rec.AccountName = fmt.Sprint(v)
		case domain.ColCampaign:
			rec.Campaign = fmt.Sprint(v)
		case domain.ColAdName:
			rec.AdName = fmt.Sprint(v)
		case domain.ColPlatform:
			rec.Platform = fmt.Sprint(v)
		case domain.ColPlacement:
			rec.Placement = fmt.Sprint(v)
		case domain.ColSpend:
			rec.Spend, err = decimalValue(v)
		case domain.ColImpressions:
			rec.Impressions, err = intValue(v)
		case domain.ColLinkClicks:
			rec.LinkClicks, err = intValue(v)
		case domain.ColLeadForm:
			rec.LeadForm, err = intValue(v)
		case domain.ColLeadSite:
			rec.LeadSite, err = intValue(v)
		case domain.ColLeadMessage:
			rec.LeadMessage, err = intValue(v)
		case domain.ColFollowerGain:
			rec.FollowerGain, err = intValue(v)
		case domain.ColVideo3s:
			rec.Video3s, err = intValue(v)
		case domain.ColVideo50:
			rec.Video50, err = intValue(v)
		case domain.ColVideo75:
			rec.Video75, err = intValue(v)
		case domain.ColLeadTotal:
			rec.LeadTotal, err = intValue(v)
		case domain.ColHashID:
			rec.HashID = fmt.Sprint(v)
		case domain.ColRawData:
			rec.RawData, err = rawValue(v)
		}
		if err != nil {
			return domain.InsightRecord{}, fmt.Errorf("column %s: %w", column, err)
		}
	}
	if rec.HashID == "" {
		return domain.InsightRecord{}, domain.ErrNoConflictKey
	}
	return rec, nil
}

func dateText(v any) (string, error) {
	switch d := v.(type) {
	case string:
		if _, err := time.Parse(domain.DateLayout, d); err != nil {
			return "", err
		}
		return d, nil
	case time.Time:
		return d.Format(domain.DateLayout), nil
	}
	return "", fmt.Errorf("unsupported date value %T", v)
}

func intValue(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	}
	return 0, fmt.Errorf("unsupported integer value %T", v)
}

func decimalValue(v any) (decimal.Decimal, error) {
	switch d := v.(type) {
	case decimal.Decimal:
		return d, nil
	case string:
		return decimal.NewFromString(d)
	case float64:
		return decimal.NewFromFloat(d), nil
	case int64:
		return decimal.NewFromInt(d), nil
	}
	return decimal.Zero, fmt.Errorf("unsupported decimal value %T", v)
}

func rawValue(v any) (json.RawMessage, error) {
	var b []byte
	switch raw := v.(type) {
	case string:
		b = []byte(raw)
	case []byte:
		b = raw
	case json.RawMessage:
		b = raw
	default:
		return nil, fmt.Errorf("unsupported raw value %T", v)
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("raw payload is not valid JSON")
	}
	return json.RawMessage(b), nil
}
