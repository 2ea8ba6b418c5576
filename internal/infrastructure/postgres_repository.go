package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"metaetl/internal/domain"
	"metaetl/pkg/config"
	"metaetl/pkg/logger"
)

// columns whose value is fixed by the first insert of an identity key
var immutableColumns = lo.Without(domain.InsightsSchema, domain.MutableColumns...)

var columnCasts = map[string]string{
	domain.ColReportDate: "::date",
	domain.ColSpend:      "::numeric",
	domain.ColRawData:    "::jsonb",
}

// PostgresRepository persists insights and follower growth in Postgres. It
// implements domain.InsightRepository and domain.FollowerRepository.
type PostgresRepository struct {
	pool           *pgxpool.Pool
	insightsTable  string
	followersTable string
	logger         *logger.Logger
}

func NewPostgresRepository(ctx context.Context, cfg config.DatabaseConfig, logger *logger.Logger) (*PostgresRepository, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolCfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &PostgresRepository{
		pool:           pool,
		insightsTable:  cfg.InsightsTable,
		followersTable: cfg.FollowersTable,
		logger:         logger,
	}, nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

// EnsureSchema creates the tables when they do not exist. Existing tables are
// left untouched.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(r.insightsTable, r.followersTable) {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to bootstrap schema: %w", err)
		}
	}
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"insights_table":  r.insightsTable,
		"followers_table": r.followersTable,
	}).Info("Database schema ensured")
	return nil
}

func schemaStatements(insightsTable, followersTable string) []string {
	insights := quoteTable(insightsTable)
	followers := quoteTable(followersTable)
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + insights + ` (
	id_anuncio TEXT NOT NULL,
	data_registro DATE NOT NULL,
	account_id TEXT NOT NULL,
	nome_conta TEXT NOT NULL,
	campanha TEXT NOT NULL,
	anuncio TEXT NOT NULL,
	plataforma TEXT NOT NULL,
	posicionamento TEXT NOT NULL,
	valor_gasto NUMERIC(14,2) NOT NULL DEFAULT 0,
	impressoes BIGINT NOT NULL DEFAULT 0,
	clique_link BIGINT NOT NULL DEFAULT 0,
	lead_formulario BIGINT NOT NULL DEFAULT 0,
	lead_site BIGINT NOT NULL DEFAULT 0,
	lead_mensagem BIGINT NOT NULL DEFAULT 0,
	seguidores_instagram BIGINT NOT NULL DEFAULT 0,
	videoview_3s BIGINT NOT NULL DEFAULT 0,
	videoview_50 BIGINT NOT NULL DEFAULT 0,
	videoview_75 BIGINT NOT NULL DEFAULT 0,
	lead BIGINT NOT NULL DEFAULT 0,
	hash_id TEXT NOT NULL UNIQUE,
	raw_data JSONB,
	data_insercao TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
		`CREATE TABLE IF NOT EXISTS ` + followers + ` (
	ig_account_id TEXT NOT NULL,
	data_registro DATE NOT NULL,
	seguidores_ganhos BIGINT NOT NULL DEFAULT 0,
	data_insercao TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (ig_account_id, data_registro)
)`,
	}
}

// SchemaColumns reads the live column list of the insights table. The server
// managed timestamp is excluded. A table that cannot be found yields the
// canonical schema.
func (r *PostgresRepository) SchemaColumns(ctx context.Context) ([]string, error) {
	schema, table := splitTable(r.insightsTable)

	rows, err := r.pool.Query(ctx, `
SELECT column_name
FROM information_schema.columns
WHERE table_name = $1
  AND table_schema = COALESCE(NULLIF($2, ''), current_schema())
ORDER BY ordinal_position`, table, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to read table columns: %w", err)
	}
	columns, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to read table columns: %w", err)
	}

	columns = lo.Without(columns, domain.ColUpdatedAt)
	if len(columns) == 0 {
		r.logger.WithContext(ctx).WithField("table", r.insightsTable).Warn("Insights table not found, using canonical schema")
		return slices.Clone(domain.InsightsSchema), nil
	}
	return columns, nil
}

// UpsertInsights writes the payload in one transaction. Rows are queued one
// statement each so a repeated identity key inside the payload resolves to the
// last row.
func (r *PostgresRepository) UpsertInsights(ctx context.Context, payload domain.Table) error {
	if payload.Len() == 0 {
		return nil
	}
	stmt, err := upsertStatement(r.insightsTable, payload.Columns)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, row := range payload.Rows {
		batch.Queue(stmt, row...)
	}

	br := tx.SendBatch(ctx, batch)
	var affected int64
	for i := 0; i < payload.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return fmt.Errorf("failed to upsert row %d: %w", i, err)
		}
		affected += tag.RowsAffected()
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to upsert insights: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit insights: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"table":    r.insightsTable,
		"rows":     payload.Len(),
		"affected": affected,
	}).Info("Upserted insights")
	return nil
}

func upsertStatement(table string, columns []string) (string, error) {
	if !slices.Contains(columns, domain.ColHashID) {
		return "", domain.ErrNoConflictKey
	}

	quoted := make([]string, len(columns))
	values := make([]string, len(columns))
	var sets []string
	for i, column := range columns {
		quoted[i] = pq.QuoteIdentifier(column)
		values[i] = fmt.Sprintf("$%d%s", i+1, columnCasts[column])
		if !slices.Contains(immutableColumns, column) {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", quoted[i], quoted[i]))
		}
	}
	sets = append(sets, pq.QuoteIdentifier(domain.ColUpdatedAt)+" = CURRENT_TIMESTAMP")

	return fmt.Sprintf(`INSERT INTO %s (%s)
VALUES (%s)
ON CONFLICT (%s) DO UPDATE SET %s`,
		quoteTable(table),
		strings.Join(quoted, ", "),
		strings.Join(values, ", "),
		pq.QuoteIdentifier(domain.ColHashID),
		strings.Join(sets, ", ")), nil
}

const recordColumns = `id_anuncio, data_registro::text, account_id, nome_conta, campanha, anuncio,
	plataforma, posicionamento, valor_gasto::text, impressoes, clique_link, lead_formulario,
	lead_site, lead_mensagem, seguidores_instagram, videoview_3s, videoview_50, videoview_75,
	lead, hash_id, COALESCE(raw_data::text, ''), data_insercao`

func (r *PostgresRepository) GetByFilter(ctx context.Context, filter domain.InsightFilter) (*domain.InsightsPage, error) {
	where, args := filterClause(filter)
	table := quoteTable(r.insightsTable)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+table+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count insights: %w", err)
	}

	limit := defaultPageLimit
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	offset := max(filter.Offset, 0)

	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY data_registro, hash_id LIMIT %d OFFSET %d`,
		recordColumns, table, where, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query insights: %w", err)
	}
	data, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("failed to read insights: %w", err)
	}
	if data == nil {
		data = []domain.InsightRecord{}
	}

	return &domain.InsightsPage{
		Data:    data,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(data) < total,
	}, nil
}

func scanRecord(row pgx.CollectableRow) (domain.InsightRecord, error) {
	var (
		rec   domain.InsightRecord
		spend string
		raw   string
	)
	err := row.Scan(
		&rec.AdID, &rec.ReportDate, &rec.AccountID, &rec.AccountName, &rec.Campaign, &rec.AdName,
		&rec.Platform, &rec.Placement, &spend, &rec.Impressions, &rec.LinkClicks, &rec.LeadForm,
		&rec.LeadSite, &rec.LeadMessage, &rec.FollowerGain, &rec.Video3s, &rec.Video50, &rec.Video75,
		&rec.LeadTotal, &rec.HashID, &raw, &rec.UpdatedAt,
	)
	if err != nil {
		return rec, err
	}
	if rec.Spend, err = decimal.NewFromString(spend); err != nil {
		return rec, fmt.Errorf("spend %q: %w", spend, err)
	}
	if raw != "" {
		rec.RawData = []byte(raw)
	}
	return rec, nil
}

func (r *PostgresRepository) Summarize(ctx context.Context, filter domain.InsightFilter) (*domain.InsightTotals, error) {
	where, args := filterClause(filter)

	query := `SELECT COUNT(*), COUNT(DISTINCT account_id), COUNT(DISTINCT id_anuncio),
	COALESCE(SUM(valor_gasto), 0)::text,
	COALESCE(SUM(impressoes), 0)::bigint, COALESCE(SUM(clique_link), 0)::bigint,
	COALESCE(SUM(lead_formulario), 0)::bigint, COALESCE(SUM(lead_site), 0)::bigint,
	COALESCE(SUM(lead_mensagem), 0)::bigint, COALESCE(SUM(lead), 0)::bigint,
	COALESCE(SUM(seguidores_instagram), 0)::bigint, COALESCE(SUM(videoview_3s), 0)::bigint,
	COALESCE(SUM(videoview_50), 0)::bigint, COALESCE(SUM(videoview_75), 0)::bigint
FROM ` + quoteTable(r.insightsTable) + where

	var (
		t     domain.InsightTotals
		spend string
	)
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&t.Rows, &t.Accounts, &t.Ads, &spend,
		&t.Impressions, &t.LinkClicks, &t.LeadForm, &t.LeadSite, &t.LeadMessage, &t.LeadTotal,
		&t.FollowerGain, &t.Video3s, &t.Video50, &t.Video75,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize insights: %w", err)
	}
	if t.Spend, err = decimal.NewFromString(spend); err != nil {
		return nil, fmt.Errorf("failed to summarize insights: spend %q: %w", spend, err)
	}
	return &t, nil
}

func filterClause(filter domain.InsightFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.From != nil {
		add("data_registro >= $%d::date", filter.From.Format(domain.DateLayout))
	}
	if filter.To != nil {
		add("data_registro <= $%d::date", filter.To.Format(domain.DateLayout))
	}
	if filter.AccountID != "" {
		add("account_id = $%d", filter.AccountID)
	}
	if filter.Platform != "" {
		add("plataforma = $%d", filter.Platform)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// UpsertFollowerGrowth keeps one row per Instagram account and day; a later
// reading of the same day replaces the count.
func (r *PostgresRepository) UpsertFollowerGrowth(ctx context.Context, growth []domain.FollowerGrowth) error {
	if len(growth) == 0 {
		return nil
	}

	stmt := `INSERT INTO ` + quoteTable(r.followersTable) + ` (ig_account_id, data_registro, seguidores_ganhos)
VALUES ($1, $2::date, $3)
ON CONFLICT (ig_account_id, data_registro) DO UPDATE SET
	seguidores_ganhos = EXCLUDED.seguidores_ganhos,
	data_insercao = CURRENT_TIMESTAMP`

	batch := &pgx.Batch{}
	for _, g := range growth {
		batch.Queue(stmt, g.IGAccountID, g.Date.Format(domain.DateLayout), g.Gained)
	}

	br := r.pool.SendBatch(ctx, batch)
	var errs []error
	for range growth {
		if _, err := br.Exec(); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, br.Close())
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to upsert follower growth: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"table": r.followersTable,
		"rows":  len(growth),
	}).Info("Upserted follower growth")
	return nil
}

func splitTable(name string) (schema, table string) {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

func quoteTable(name string) string {
	schema, table := splitTable(name)
	if schema == "" {
		return pq.QuoteIdentifier(table)
	}
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)
}
