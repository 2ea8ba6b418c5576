package domain

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Persisted column names of the insights table.
const (
	ColAdID         = "id_anuncio"
	ColReportDate   = "data_registro"
	ColAccountID    = "account_id"
	ColAccountName  = "nome_conta"
	ColCampaign     = "campanha"
	ColAdName       = "anuncio"
	ColPlatform     = "plataforma"
	ColPlacement    = "posicionamento"
	ColSpend        = "valor_gasto"
	ColImpressions  = "impressoes"
	ColLinkClicks   = "clique_link"
	ColLeadForm     = "lead_formulario"
	ColLeadSite     = "lead_site"
	ColLeadMessage  = "lead_mensagem"
	ColFollowerGain = "seguidores_instagram"
	ColVideo3s      = "videoview_3s"
	ColVideo50      = "videoview_50"
	ColVideo75      = "videoview_75"
	ColLeadTotal    = "lead"
	ColHashID       = "hash_id"
	ColRawData      = "raw_data"

	// server managed, never part of the load payload
	ColUpdatedAt = "data_insercao"
)

// InsightsSchema is the persisted insights schema, in table order.
var InsightsSchema = []string{
	ColAdID, ColReportDate, ColAccountID, ColAccountName, ColCampaign,
	ColAdName, ColPlatform, ColPlacement, ColSpend, ColImpressions,
	ColLinkClicks, ColLeadForm, ColLeadSite, ColLeadMessage, ColFollowerGain,
	ColVideo3s, ColVideo50, ColVideo75, ColLeadTotal, ColHashID, ColRawData,
}

// MutableColumns are overwritten when an identity key is upserted again.
// Identity and descriptive text columns keep their first written value.
var MutableColumns = []string{
	ColSpend, ColImpressions, ColLinkClicks, ColLeadForm, ColLeadSite,
	ColLeadMessage, ColFollowerGain, ColVideo3s, ColVideo50, ColVideo75,
	ColLeadTotal, ColRawData,
}

// RowColumns is the column order of InsightRow.Values.
var RowColumns = slices.Clip(InsightsSchema[:len(InsightsSchema)-1])

const (
	// UnknownText replaces every absent optional text field.
	UnknownText = "unknown"
	DateLayout  = "2006-01-02"
)

// MetricValue is a configured metric outside the canonical schema.
type MetricValue struct {
	Column string
	Value  int64
}

// InsightRow is the normalized, fixed-schema form of one RawInsight.
type InsightRow struct {
	AdID        string
	ReportDate  time.Time
	AccountID   string
	AccountName string
	Campaign    string
	AdName      string
	Platform    string
	Placement   string

	Spend        decimal.Decimal
	Impressions  int64
	LinkClicks   int64
	LeadForm     int64
	LeadSite     int64
	LeadMessage  int64
	FollowerGain int64
	Video3s      int64
	Video50      int64
	Video75      int64

	HashID string
	Extras []MetricValue
}

// LeadTotal is always derived from the three lead categories.
func (r InsightRow) LeadTotal() int64 {
	return r.LeadForm + r.LeadSite + r.LeadMessage
}

// Values returns the row in RowColumns order followed by the extras.
func (r InsightRow) Values() []any {
	values := []any{
		r.AdID,
		r.ReportDate.Format(DateLayout),
		r.AccountID,
		r.AccountName,
		r.Campaign,
		r.AdName,
		r.Platform,
		r.Placement,
		r.Spend,
		r.Impressions,
		r.LinkClicks,
		r.LeadForm,
		r.LeadSite,
		r.LeadMessage,
		r.FollowerGain,
		r.Video3s,
		r.Video50,
		r.Video75,
		r.LeadTotal(),
		r.HashID,
	}
	for _, extra := range r.Extras {
		values = append(values, extra.Value)
	}
	return values
}

// Table is a column-ordered load payload. Every row has len(Columns) values.
type Table struct {
	Columns []string
	Rows    [][]any
}

func (t Table) Len() int {
	return len(t.Rows)
}

// Index returns the position of a column or -1.
func (t Table) Index(column string) int {
	for i, c := range t.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

// InsightRecord is a persisted insight as read back for reporting.
type InsightRecord struct {
	AdID         string          `json:"id_anuncio"`
	ReportDate   string          `json:"data_registro"`
	AccountID    string          `json:"account_id"`
	AccountName  string          `json:"nome_conta"`
	Campaign     string          `json:"campanha"`
	AdName       string          `json:"anuncio"`
	Platform     string          `json:"plataforma"`
	Placement    string          `json:"posicionamento"`
	Spend        decimal.Decimal `json:"valor_gasto"`
	Impressions  int64           `json:"impressoes"`
	LinkClicks   int64           `json:"clique_link"`
	LeadForm     int64           `json:"lead_formulario"`
	LeadSite     int64           `json:"lead_site"`
	LeadMessage  int64           `json:"lead_mensagem"`
	FollowerGain int64           `json:"seguidores_instagram"`
	Video3s      int64           `json:"videoview_3s"`
	Video50      int64           `json:"videoview_50"`
	Video75      int64           `json:"videoview_75"`
	LeadTotal    int64           `json:"lead"`
	HashID       string          `json:"hash_id"`
	RawData      json.RawMessage `json:"raw_data,omitempty"`
	UpdatedAt    time.Time       `json:"data_insercao"`
}

// InsightFilter selects persisted insights for reporting.
type InsightFilter struct {
	From      *time.Time `json:"from,omitempty"`
	To        *time.Time `json:"to,omitempty"`
	AccountID string     `json:"account_id,omitempty"`
	Platform  string     `json:"platform,omitempty"`
	Limit     int        `json:"limit,omitempty"`
	Offset    int        `json:"offset,omitempty"`
}

// InsightsPage is a paginated query result.
type InsightsPage struct {
	Data    []InsightRecord `json:"data"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
	HasMore bool            `json:"has_more"`
}

// InsightTotals sums persisted insights over a filter.
type InsightTotals struct {
	Rows         int             `json:"rows"`
	Accounts     int             `json:"accounts"`
	Ads          int             `json:"ads"`
	Spend        decimal.Decimal `json:"valor_gasto"`
	Impressions  int64           `json:"impressoes"`
	LinkClicks   int64           `json:"clique_link"`
	LeadForm     int64           `json:"lead_formulario"`
	LeadSite     int64           `json:"lead_site"`
	LeadMessage  int64           `json:"lead_mensagem"`
	LeadTotal    int64           `json:"lead"`
	FollowerGain int64           `json:"seguidores_instagram"`
	Video3s      int64           `json:"videoview_3s"`
	Video50      int64           `json:"videoview_50"`
	Video75      int64           `json:"videoview_75"`
}

// Add accumulates one record. Accounts and Ads are left to the caller.
func (t *InsightTotals) Add(r InsightRecord) {
	t.Rows++
	t.Spend = t.Spend.Add(r.Spend)
	t.Impressions += r.Impressions
	t.LinkClicks += r.LinkClicks
	t.LeadForm += r.LeadForm
	t.LeadSite += r.LeadSite
	t.LeadMessage += r.LeadMessage
	t.LeadTotal += r.LeadTotal
	t.FollowerGain += r.FollowerGain
	t.Video3s += r.Video3s
	t.Video50 += r.Video50
	t.Video75 += r.Video75
}
