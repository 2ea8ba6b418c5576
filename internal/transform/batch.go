package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"metaetl/internal/domain"
	"metaetl/pkg/logger"
	"metaetl/pkg/metrics"
)

const metricsSource = "insights"

// RecordFailure is a record that could not be normalized and was skipped.
type RecordFailure struct {
	Index int
	Err   *domain.PipelineError
}

// Batch is the normalized form of one fetch. Rows and Raw are aligned and
// keep the input order minus skipped records.
type Batch struct {
	Columns  []string
	Rows     []domain.InsightRow
	Raw      []domain.RawInsight
	Failures []RecordFailure
	Warnings int
}

func (b *Batch) Len() int {
	return len(b.Rows)
}

// Table builds the load payload: the row columns followed by raw_data holding
// each record's original JSON.
func (b *Batch) Table() (domain.Table, error) {
	columns := make([]string, 0, len(b.Columns)+1)
	columns = append(columns, b.Columns...)
	columns = append(columns, domain.ColRawData)

	rows := make([][]any, 0, len(b.Rows))
	for i, row := range b.Rows {
		payload, err := json.Marshal(b.Raw[i])
		if err != nil {
			return domain.Table{}, fmt.Errorf("failed to encode raw payload of ad %s: %w", row.AdID, err)
		}
		values := row.Values()
		values = append(values, string(payload))
		rows = append(rows, values)
	}

	return domain.Table{Columns: columns, Rows: rows}, nil
}

// Transformer normalizes whole fetches, skipping and reporting records that
// fail instead of failing the batch.
type Transformer struct {
	normalizer *Normalizer
	workers    int
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

func NewTransformer(normalizer *Normalizer, workers int, logger *logger.Logger, metrics *metrics.Metrics) *Transformer {
	if workers < 1 {
		workers = 1
	}
	return &Transformer{
		normalizer: normalizer,
		workers:    workers,
		logger:     logger,
		metrics:    metrics,
	}
}

type normalized struct {
	row      domain.InsightRow
	warnings []FieldWarning
	err      error
}

// Transform normalizes every record. Empty input yields an empty batch.
func (t *Transformer) Transform(ctx context.Context, records []domain.RawInsight) *Batch {
	batch := &Batch{Columns: t.normalizer.Columns()}
	if len(records) == 0 {
		return batch
	}

	log := t.logger.WithContext(ctx)

	// Each worker writes only its own slot, so the output keeps input order.
	results := make([]normalized, len(records))
	jobs := make(chan int, len(records))
	for i := range records {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < min(t.workers, len(records)); i++ {
		wg.Go(func() {
			for idx := range jobs {
				row, warnings, err := t.normalizer.Normalize(records[idx])
				results[idx] = normalized{row: row, warnings: warnings, err: err}
			}
		})
	}
	wg.Wait()

	batch.Rows = make([]domain.InsightRow, 0, len(records))
	batch.Raw = make([]domain.RawInsight, 0, len(records))

	for idx, res := range results {
		if res.err != nil {
			accountID, _ := records[idx].Text(domain.FieldAccountID)
			adID, _ := records[idx].Text(domain.FieldAdID)
			failure := &domain.PipelineError{
				Kind:      domain.KindRecordNormalization,
				AccountID: accountID,
				AdID:      adID,
				Err:       res.err,
			}
			batch.Failures = append(batch.Failures, RecordFailure{Index: idx, Err: failure})

			log.WithError(res.err).WithField("index", idx).Warn("Skipping insight record")
			t.metrics.RecordETLRecordFailure(metricsSource, string(domain.KindRecordNormalization))
			continue
		}

		for _, w := range res.warnings {
			log.WithFields(map[string]any{
				"ad_id": res.row.AdID,
				"field": w.Field,
				"value": w.Value,
				"kind":  w.Kind,
			}).Warn("Field value replaced by default")
			t.metrics.RecordValueWarning(w.Field)
		}
		batch.Warnings += len(res.warnings)

		batch.Rows = append(batch.Rows, res.row)
		batch.Raw = append(batch.Raw, records[idx])
	}

	t.metrics.RecordETLRecords(metricsSource, "normalized", len(batch.Rows))
	if len(batch.Failures) > 0 {
		t.metrics.RecordETLRecords(metricsSource, "skipped", len(batch.Failures))
	}

	log.WithFields(map[string]any{
		"records":  len(records),
		"rows":     len(batch.Rows),
		"skipped":  len(batch.Failures),
		"warnings": batch.Warnings,
	}).Info("Insight batch normalized")

	return batch
}
