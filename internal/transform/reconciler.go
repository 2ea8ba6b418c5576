package transform

import (
	"slices"

	"github.com/samber/lo"

	"metaetl/internal/domain"
)

// SchemaDiagnostics describes how a payload differs from the persisted schema.
type SchemaDiagnostics struct {
	// in the table but not produced; the load may fail on NOT NULL
	Missing []string
	// produced but not in the table; removed from the payload
	Dropped []string
}

func (d SchemaDiagnostics) Drifted() bool {
	return len(d.Missing) > 0 || len(d.Dropped) > 0
}

// Reconcile projects a payload onto the target columns, in target order.
// Values are carried over untouched. Reconciling its own output against the
// same target returns it unchanged.
func Reconcile(payload domain.Table, target []string) (domain.Table, SchemaDiagnostics) {
	diag := SchemaDiagnostics{
		Missing: lo.Without(target, payload.Columns...),
		Dropped: lo.Without(payload.Columns, target...),
	}

	keep := lo.Filter(target, func(column string, _ int) bool {
		return slices.Contains(payload.Columns, column)
	})
	if slices.Equal(keep, payload.Columns) {
		return payload, diag
	}

	positions := lo.Map(keep, func(column string, _ int) int {
		return payload.Index(column)
	})

	rows := make([][]any, len(payload.Rows))
	for i, row := range payload.Rows {
		projected := make([]any, len(positions))
		for j, pos := range positions {
			projected[j] = row[pos]
		}
		rows[i] = projected
	}

	return domain.Table{Columns: keep, Rows: rows}, diag
}
