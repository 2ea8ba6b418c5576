package infrastructure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metaetl/internal/domain"
)

func TestUpsertStatement(t *testing.T) {
	stmt, err := upsertStatement("insights_meta_ads", domain.InsightsSchema)
	require.NoError(t, err)

	assert.Contains(t, stmt, `INSERT INTO "insights_meta_ads" ("id_anuncio", "data_registro"`)
	assert.Contains(t, stmt, `$2::date`)
	assert.Contains(t, stmt, `$9::numeric`)
	assert.Contains(t, stmt, `$21::jsonb`)
	assert.Contains(t, stmt, `ON CONFLICT ("hash_id") DO UPDATE SET`)
	assert.Contains(t, stmt, `"valor_gasto" = EXCLUDED."valor_gasto"`)
	assert.Contains(t, stmt, `"lead" = EXCLUDED."lead"`)
	assert.Contains(t, stmt, `"raw_data" = EXCLUDED."raw_data"`)
	assert.Contains(t, stmt, `"data_insercao" = CURRENT_TIMESTAMP`)

	for _, column := range []string{"id_anuncio", "data_registro", "nome_conta", "plataforma", "hash_id"} {
		assert.NotContains(t, stmt, `"`+column+`" = EXCLUDED`, column)
	}
}

func TestUpsertStatement_ExtraColumnsAreUpdated(t *testing.T) {
	stmt, err := upsertStatement("public.insights", []string{domain.ColHashID, domain.ColAdID, "post_engagement"})
	require.NoError(t, err)

	assert.Contains(t, stmt, `INSERT INTO "public"."insights"`)
	assert.Contains(t, stmt, `"post_engagement" = EXCLUDED."post_engagement"`)
}

func TestUpsertStatement_RequiresConflictKey(t *testing.T) {
	_, err := upsertStatement("insights", []string{domain.ColAdID})
	assert.ErrorIs(t, err, domain.ErrNoConflictKey)
}

func TestFilterClause(t *testing.T) {
	where, args := filterClause(domain.InsightFilter{})
	assert.Empty(t, where)
	assert.Empty(t, args)

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	where, args = filterClause(domain.InsightFilter{From: &from, To: &to, Platform: "instagram"})
	assert.Equal(t, " WHERE data_registro >= $1::date AND data_registro <= $2::date AND plataforma = $3", where)
	assert.Equal(t, []any{"2026-01-01", "2026-01-31", "instagram"}, args)
}

func TestQuoteTable(t *testing.T) {
	assert.Equal(t, `"insights"`, quoteTable("insights"))
	assert.Equal(t, `"ads"."insights"`, quoteTable("ads.insights"))
	assert.Equal(t, `"odd""name"`, quoteTable(`odd"name`))
}

func TestSchemaStatementsMatchCanonicalColumns(t *testing.T) {
	stmts := schemaStatements("insights_meta_ads", "instagram_crescimento")
	require.Len(t, stmts, 2)
	for _, column := range domain.InsightsSchema {
		assert.Contains(t, stmts[0], "\t"+column+" ", column)
	}
	assert.Contains(t, stmts[0], "data_insercao")
	assert.Contains(t, stmts[1], "UNIQUE (ig_account_id, data_registro)")
}
