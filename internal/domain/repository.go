package domain

import (
	"context"
	"time"
)

// InsightFetcher pulls raw insights from the ads reporting API.
type InsightFetcher interface {
	FetchInsights(ctx context.Context, accountID, datePreset string) ([]RawInsight, error)
}

// FollowerFetcher pulls Instagram profile follower growth.
type FollowerFetcher interface {
	FetchFollowerGrowth(ctx context.Context, igAccountID string, day time.Time) (*FollowerGrowth, error)
}

// InsightRepository persists insights keyed on hash_id.
type InsightRepository interface {
	Ping(ctx context.Context) error
	// SchemaColumns returns the persisted insights columns, in table order.
	SchemaColumns(ctx context.Context) ([]string, error)
	UpsertInsights(ctx context.Context, payload Table) error
	GetByFilter(ctx context.Context, filter InsightFilter) (*InsightsPage, error)
	// Summarize totals every insight matching the filter, ignoring paging.
	Summarize(ctx context.Context, filter InsightFilter) (*InsightTotals, error)
}

// FollowerRepository persists daily follower growth.
type FollowerRepository interface {
	UpsertFollowerGrowth(ctx context.Context, growth []FollowerGrowth) error
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notifier delivers operator messages. Fire and forget: implementations log
// their own delivery failures.
type Notifier interface {
	Notify(ctx context.Context, severity Severity, message string)
}

// RawArchive keeps the untouched API payload of an account batch.
type RawArchive interface {
	Archive(ctx context.Context, cycleID, accountID string, records []RawInsight) error
}
