package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metaetl/internal/domain"
)

func rawInsight(t *testing.T, values map[string]any) domain.RawInsight {
	t.Helper()
	r, err := domain.NewRawInsight(values)
	require.NoError(t, err)
	return r
}

func scenarioA() map[string]any {
	return map[string]any{
		"ad_id":              "12345",
		"date_start":         "2026-02-13",
		"spend":              "45.20",
		"impressions":        "1200",
		"inline_link_clicks": "0",
		"actions": []map[string]any{
			{"action_type": "onsite_conversion.messaging_first_reply", "value": "3"},
			{"action_type": "link_click", "value": "12"},
			{"action_type": "video_view", "value": "500"},
			{"action_type": "lead", "value": "2"},
			{"action_type": "onsite_web_lead", "value": "1"},
			{"action_type": "onsite_conversion.post_save_follow", "value": "5"},
		},
		"publisher_platform":        "instagram",
		"platform_position":         "reels",
		"video_p50_watched_actions": []map[string]any{{"action_type": "video_view", "value": "200"}},
	}
}

func TestNormalize_ScenarioA(t *testing.T) {
	n := NewNormalizer(nil)

	row, warnings, err := n.Normalize(rawInsight(t, scenarioA()))
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, "12345", row.AdID)
	assert.Equal(t, time.Date(2026, 2, 13, 0, 0, 0, 0, time.UTC), row.ReportDate)
	assert.Equal(t, "instagram", row.Platform)
	assert.Equal(t, "reels", row.Placement)
	assert.Equal(t, "45.2", row.Spend.String())
	assert.EqualValues(t, 1200, row.Impressions)
	assert.EqualValues(t, 12, row.LinkClicks)
	assert.EqualValues(t, 2, row.LeadForm)
	assert.EqualValues(t, 1, row.LeadSite)
	assert.EqualValues(t, 3, row.LeadMessage)
	assert.EqualValues(t, 6, row.LeadTotal())
	assert.EqualValues(t, 5, row.FollowerGain)
	assert.EqualValues(t, 500, row.Video3s)
	assert.EqualValues(t, 200, row.Video50)
	assert.EqualValues(t, 0, row.Video75)
	assert.Equal(t, domain.UnknownText, row.AccountName)
	assert.Equal(t, IdentityKey("12345", row.ReportDate, "instagram", "reels"), row.HashID)
}

func TestNormalize_LinkClicksAddBothSources(t *testing.T) {
	values := scenarioA()
	values["inline_link_clicks"] = "45"

	row, _, err := NewNormalizer(nil).Normalize(rawInsight(t, values))
	require.NoError(t, err)
	assert.EqualValues(t, 57, row.LinkClicks)
}

func TestNormalize_DefaultsWhenOptionalFieldsMissing(t *testing.T) {
	row, warnings, err := NewNormalizer(nil).Normalize(rawInsight(t, map[string]any{
		"ad_id":      "1",
		"date_start": "2026-02-13",
	}))
	require.NoError(t, err)
	assert.Empty(t, warnings)

	for _, text := range []string{row.AccountID, row.AccountName, row.Campaign, row.AdName, row.Platform, row.Placement} {
		assert.Equal(t, domain.UnknownText, text)
	}
	assert.True(t, row.Spend.IsZero())
	for _, n := range []int64{
		row.Impressions, row.LinkClicks, row.LeadForm, row.LeadSite, row.LeadMessage,
		row.LeadTotal(), row.FollowerGain, row.Video3s, row.Video50, row.Video75,
	} {
		assert.Zero(t, n)
	}

	values := row.Values()
	require.Len(t, values, len(domain.RowColumns))
	for i, v := range values {
		assert.NotNil(t, v, domain.RowColumns[i])
	}
}

func TestNormalize_NullsAndGarbageBecomeDefaultsWithWarnings(t *testing.T) {
	row, warnings, err := NewNormalizer(nil).Normalize(rawInsight(t, map[string]any{
		"ad_id":                     "1",
		"date_start":                "2026-02-13",
		"publisher_platform":        nil,
		"spend":                     "abc",
		"impressions":               "lots",
		"actions":                   "not-a-list",
		"video_p75_watched_actions": []map[string]any{{"action_type": "video_view", "value": "??"}},
	}))
	require.NoError(t, err)

	assert.Equal(t, domain.UnknownText, row.Platform)
	assert.True(t, row.Spend.IsZero())
	assert.Zero(t, row.Impressions)
	assert.Zero(t, row.LinkClicks)
	assert.Zero(t, row.Video75)

	kinds := map[string]domain.ErrorKind{}
	for _, w := range warnings {
		kinds[w.Field] = w.Kind
	}
	assert.Equal(t, map[string]domain.ErrorKind{
		"spend":                                domain.KindUnparseableValue,
		"impressions":                          domain.KindUnparseableValue,
		"actions":                              domain.KindMalformedInput,
		"video_p75_watched_actions.video_view": domain.KindUnparseableValue,
	}, kinds)
}

func TestNormalize_RequiredFields(t *testing.T) {
	n := NewNormalizer(nil)

	_, _, err := n.Normalize(rawInsight(t, map[string]any{"date_start": "2026-02-13"}))
	assert.ErrorIs(t, err, domain.ErrMissingRequiredField)

	_, _, err = n.Normalize(rawInsight(t, map[string]any{"ad_id": "1"}))
	assert.ErrorIs(t, err, domain.ErrMissingRequiredField)

	_, _, err = n.Normalize(rawInsight(t, map[string]any{"ad_id": "1", "date_start": "yesterday"}))
	assert.ErrorIs(t, err, domain.ErrInvalidReportDate)
}

func TestNormalize_LeadTotalIsSumOfCategories(t *testing.T) {
	n := NewNormalizer(nil)
	cases := [][]map[string]any{
		nil,
		{{"action_type": "lead", "value": "4"}},
		{{"action_type": "onsite_conversion.lead_grouped", "value": "1"}, {"action_type": "offsite_conversion.fb_pixel_lead", "value": "7"}},
		{{"action_type": "onsite_conversion.total_messaging_connection", "value": "9"}, {"action_type": "lead", "value": "x"}},
	}
	for _, actions := range cases {
		row, _, err := n.Normalize(rawInsight(t, map[string]any{"ad_id": "1", "date_start": "2026-01-01", "actions": actions}))
		require.NoError(t, err)
		assert.Equal(t, row.LeadForm+row.LeadSite+row.LeadMessage, row.LeadTotal())

		values := row.Values()
		assert.Equal(t, row.LeadTotal(), values[indexOf(domain.RowColumns, domain.ColLeadTotal)])
	}
}

func TestNormalize_IdentityKey(t *testing.T) {
	n := NewNormalizer(nil)

	first, _, err := n.Normalize(rawInsight(t, scenarioA()))
	require.NoError(t, err)

	again, _, err := n.Normalize(rawInsight(t, scenarioA()))
	require.NoError(t, err)
	assert.Equal(t, first.HashID, again.HashID)

	// fields outside the key do not matter
	other := scenarioA()
	other["spend"] = "99.99"
	other["ad_name"] = "renamed"
	other["actions"] = nil
	row, _, err := n.Normalize(rawInsight(t, other))
	require.NoError(t, err)
	assert.Equal(t, first.HashID, row.HashID)

	for field, value := range map[string]string{
		"ad_id":              "12346",
		"date_start":         "2026-02-14",
		"publisher_platform": "facebook",
		"platform_position":  "feed",
	} {
		changed := scenarioA()
		changed[field] = value
		row, _, err := n.Normalize(rawInsight(t, changed))
		require.NoError(t, err)
		assert.NotEqual(t, first.HashID, row.HashID, field)
	}

	// pinned so an accidental change of the key recipe is caught
	assert.Equal(t, "3a67ec8324116325086afaac0887f8c1", first.HashID)
}

func TestIdentityKey_Format(t *testing.T) {
	key := IdentityKey("12345", time.Date(2026, 2, 13, 0, 0, 0, 0, time.UTC), "instagram", "reels")
	assert.Len(t, key, 32)
	assert.Equal(t, key, IdentityKey("12345", time.Date(2026, 2, 13, 0, 0, 0, 0, time.UTC), "instagram", "reels"))
	assert.NotEqual(t, key, IdentityKey("12345", time.Date(2026, 2, 13, 0, 0, 0, 0, time.UTC), "reels", "instagram"))
}

func TestNormalize_ExtraMetrics(t *testing.T) {
	tax := DefaultTaxonomy()
	tax.Extras = []ExtraMetric{
		{Column: "post_engagement", Field: domain.FieldActions, Types: NewTypeSet("post_engagement")},
		{Column: "thruplay", Field: "video_thruplay_watched_actions", Types: NewTypeSet("video_view")},
	}
	n := NewNormalizer(tax)

	values := scenarioA()
	values["actions"] = []map[string]any{{"action_type": "post_engagement", "value": "31"}}
	values["video_thruplay_watched_actions"] = []map[string]any{{"action_type": "video_view", "value": "8"}}

	row, _, err := n.Normalize(rawInsight(t, values))
	require.NoError(t, err)
	assert.Equal(t, []domain.MetricValue{{Column: "post_engagement", Value: 31}, {Column: "thruplay", Value: 8}}, row.Extras)
	assert.Equal(t, append(append([]string{}, domain.RowColumns...), "post_engagement", "thruplay"), n.Columns())
	assert.Len(t, row.Values(), len(n.Columns()))
}

func indexOf(columns []string, column string) int {
	for i, c := range columns {
		if c == column {
			return i
		}
	}
	return -1
}
