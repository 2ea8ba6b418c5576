package transform

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"metaetl/internal/domain"
)

// FieldWarning reports a source value that was replaced by a default.
type FieldWarning struct {
	Field string
	Value string
	Kind  domain.ErrorKind
}

// Normalizer maps raw insights onto the fixed insights schema. It holds no
// mutable state and can be shared between goroutines.
type Normalizer struct {
	taxonomy *ActionTaxonomy
}

func NewNormalizer(taxonomy *ActionTaxonomy) *Normalizer {
	if taxonomy == nil {
		taxonomy = DefaultTaxonomy()
	}
	return &Normalizer{taxonomy: taxonomy}
}

// Columns is the column order of rows produced by this normalizer.
func (n *Normalizer) Columns() []string {
	columns := make([]string, 0, len(domain.RowColumns)+len(n.taxonomy.Extras))
	columns = append(columns, domain.RowColumns...)
	for _, extra := range n.taxonomy.Extras {
		columns = append(columns, extra.Column)
	}
	return columns
}

// IdentityKey is the upsert key of an insight row: the hex MD5 of
// ad id, report day, platform and placement joined by "_", in that order.
// Changing the fields or their order orphans every stored row.
func IdentityKey(adID string, reportDate time.Time, platform, placement string) string {
	base := fmt.Sprintf("%s_%s_%s_%s", adID, reportDate.Format(domain.DateLayout), platform, placement)
	sum := md5.Sum([]byte(base))
	return hex.EncodeToString(sum[:])
}

// Normalize converts one raw insight. Missing optional data becomes
// "unknown" or zero and is reported through warnings; only a missing ad id or
// report date fails the record.
func (n *Normalizer) Normalize(raw domain.RawInsight) (domain.InsightRow, []FieldWarning, error) {
	adID, ok := raw.Text(domain.FieldAdID)
	if !ok {
		return domain.InsightRow{}, nil, fmt.Errorf("%s: %w", domain.FieldAdID, domain.ErrMissingRequiredField)
	}
	dateText, ok := raw.Text(domain.FieldDateStart)
	if !ok {
		return domain.InsightRow{}, nil, fmt.Errorf("%s: %w", domain.FieldDateStart, domain.ErrMissingRequiredField)
	}
	reportDate, ok := ParseReportDate(dateText)
	if !ok {
		return domain.InsightRow{}, nil, fmt.Errorf("%s %q: %w", domain.FieldDateStart, dateText, domain.ErrInvalidReportDate)
	}

	c := collector{raw: raw}

	row := domain.InsightRow{
		AdID:        adID,
		ReportDate:  reportDate,
		AccountID:   textOrUnknown(raw, domain.FieldAccountID),
		AccountName: textOrUnknown(raw, domain.FieldAccountName),
		Campaign:    textOrUnknown(raw, domain.FieldCampaignName),
		AdName:      textOrUnknown(raw, domain.FieldAdName),
		Platform:    textOrUnknown(raw, domain.FieldPlatform),
		Placement:   textOrUnknown(raw, domain.FieldPlacement),
	}

	row.Spend = c.spend(domain.FieldSpend)
	row.Impressions = c.count(domain.FieldImpressions)

	actions := c.list(domain.FieldActions)
	tax := n.taxonomy

	// Clicks show up either as the scalar or as link_click actions.
	row.LinkClicks = c.count(domain.FieldInlineLinkClicks) + c.sum(domain.FieldActions, actions, tax.LinkClicks)

	row.LeadForm = c.sum(domain.FieldActions, actions, tax.LeadForm)
	row.LeadSite = c.sum(domain.FieldActions, actions, tax.LeadSite)
	row.LeadMessage = c.sum(domain.FieldActions, actions, tax.LeadMessage)

	row.FollowerGain = c.sum(domain.FieldActions, actions, tax.FollowerGain)

	row.Video3s = c.sum(domain.FieldActions, actions, tax.VideoViews)
	row.Video50 = c.sum(domain.FieldVideoP50, c.list(domain.FieldVideoP50), tax.VideoViews)
	row.Video75 = c.sum(domain.FieldVideoP75, c.list(domain.FieldVideoP75), tax.VideoViews)

	if len(tax.Extras) > 0 {
		row.Extras = make([]domain.MetricValue, 0, len(tax.Extras))
		for _, extra := range tax.Extras {
			values := actions
			if extra.Field != domain.FieldActions {
				values = c.list(extra.Field)
			}
			row.Extras = append(row.Extras, domain.MetricValue{
				Column: extra.Column,
				Value:  c.sum(extra.Field, values, extra.Types),
			})
		}
	}

	row.HashID = IdentityKey(row.AdID, row.ReportDate, row.Platform, row.Placement)

	return row, c.warnings, nil
}

func textOrUnknown(raw domain.RawInsight, field string) string {
	if v, ok := raw.Text(field); ok {
		return v
	}
	return domain.UnknownText
}

// collector reads fields from one record and accumulates warnings.
type collector struct {
	raw      domain.RawInsight
	warnings []FieldWarning
	// lists already reported as malformed
	malformed map[string]bool
}

func (c *collector) warn(field, value string, kind domain.ErrorKind) {
	c.warnings = append(c.warnings, FieldWarning{Field: field, Value: value, Kind: kind})
}

func (c *collector) count(field string) int64 {
	v, ok := c.raw.Numeric(field)
	if !ok {
		return 0
	}
	n, ok := ParseCount(v)
	if !ok {
		c.warn(field, string(v), domain.KindUnparseableValue)
	}
	return n
}

func (c *collector) spend(field string) decimal.Decimal {
	v, ok := c.raw.Numeric(field)
	if !ok {
		return decimal.Zero
	}
	d, ok := ParseSpend(v)
	if !ok {
		c.warn(field, string(v), domain.KindUnparseableValue)
	}
	return d
}

// list returns an action list; a present value that is not a list is
// reported once and treated as empty.
func (c *collector) list(field string) domain.TaggedValues {
	values := c.raw.Tagged(field)
	if values == nil && c.raw.Has(field) && !c.malformed[field] {
		if c.malformed == nil {
			c.malformed = map[string]bool{}
		}
		c.malformed[field] = true
		c.warn(field, "", domain.KindMalformedInput)
	}
	return values
}

func (c *collector) sum(field string, values domain.TaggedValues, types TypeSet) int64 {
	total, bad := sumMatching(values, types)
	for _, v := range bad {
		c.warn(field+"."+v.Type, string(v.Value), domain.KindUnparseableValue)
	}
	return total
}
