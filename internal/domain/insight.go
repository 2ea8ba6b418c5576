package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Field names of an ad insight as returned by the Graph API reporting endpoint.
const (
	FieldAdID             = "ad_id"
	FieldAdName           = "ad_name"
	FieldCampaignName     = "campaign_name"
	FieldAccountID        = "account_id"
	FieldAccountName      = "account_name"
	FieldDateStart        = "date_start"
	FieldSpend            = "spend"
	FieldImpressions      = "impressions"
	FieldInlineLinkClicks = "inline_link_clicks"
	FieldActions          = "actions"
	FieldVideoP50         = "video_p50_watched_actions"
	FieldVideoP75         = "video_p75_watched_actions"
	FieldPlatform         = "publisher_platform"
	FieldPlacement        = "platform_position"
)

// InsightFields is the field list requested from the reporting API.
var InsightFields = []string{
	FieldAdID,
	FieldAdName,
	FieldCampaignName,
	FieldSpend,
	FieldImpressions,
	FieldInlineLinkClicks,
	FieldActions,
	FieldDateStart,
	FieldAccountID,
	FieldAccountName,
	FieldVideoP50,
	FieldVideoP75,
}

// InsightBreakdowns are requested as breakdown dimensions; they come back as
// plain fields on every record.
var InsightBreakdowns = []string{FieldPlatform, FieldPlacement}

// NumericText is a number the API encodes either as a JSON string or a JSON
// number. Any other JSON shape is kept verbatim so parsing fails later and the
// value is coerced to zero with a warning.
type NumericText string

func (n *NumericText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*n = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = NumericText(s)
	default:
		*n = NumericText(data)
	}
	return nil
}

// TaggedValue is one (type name, value) pair of an action list.
type TaggedValue struct {
	Type  string      `json:"action_type"`
	Value NumericText `json:"value"`
}

// TaggedValues is an action list. A nil list means the field was absent or
// not a list.
type TaggedValues []TaggedValue

// RawInsight is one record of the reporting API. Every field is optional; the
// accessors report absence instead of failing, and the original payload is
// kept intact for auditing.
type RawInsight struct {
	fields map[string]json.RawMessage
}

// NewRawInsight builds a record from already decoded values, mostly for tests
// and fixtures.
func NewRawInsight(values map[string]any) (RawInsight, error) {
	fields := make(map[string]json.RawMessage, len(values))
	for name, value := range values {
		b, err := json.Marshal(value)
		if err != nil {
			return RawInsight{}, fmt.Errorf("encode field %s: %w", name, err)
		}
		fields[name] = b
	}
	return RawInsight{fields: fields}, nil
}

func (r *RawInsight) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("insight record is not an object: %w", err)
	}
	r.fields = fields
	return nil
}

func (r RawInsight) MarshalJSON() ([]byte, error) {
	if r.fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r.fields)
}

// Fields lists the field names present on the record, sorted.
func (r RawInsight) Fields() []string {
	names := make([]string, 0, len(r.fields))
	for name := range r.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r RawInsight) raw(name string) (json.RawMessage, bool) {
	value, ok := r.fields[name]
	if !ok {
		return nil, false
	}
	value = bytes.TrimSpace(value)
	if len(value) == 0 || bytes.Equal(value, []byte("null")) {
		return nil, false
	}
	return value, true
}

// Has reports whether the field is present and not null.
func (r RawInsight) Has(name string) bool {
	_, ok := r.raw(name)
	return ok
}

// Text returns a string field. Numbers are returned in their JSON spelling so
// numeric identifiers survive; empty strings count as absent.
func (r RawInsight) Text(name string) (string, bool) {
	value, ok := r.raw(name)
	if !ok {
		return "", false
	}
	switch value[0] {
	case '"':
		var s string
		if err := json.Unmarshal(value, &s); err != nil || s == "" {
			return "", false
		}
		return s, true
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return string(value), true
	}
	return "", false
}

// Numeric returns a numeric field as text without parsing it.
func (r RawInsight) Numeric(name string) (NumericText, bool) {
	value, ok := r.raw(name)
	if !ok {
		return "", false
	}
	var n NumericText
	if err := n.UnmarshalJSON(value); err != nil {
		return NumericText(value), true
	}
	return n, true
}

// Tagged returns an action list. Anything that is not a JSON array yields nil;
// array elements that are not objects are skipped.
func (r RawInsight) Tagged(name string) TaggedValues {
	value, ok := r.raw(name)
	if !ok || value[0] != '[' {
		return nil
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(value, &elements); err != nil {
		return nil
	}

	out := make(TaggedValues, 0, len(elements))
	for _, element := range elements {
		var entry map[string]json.RawMessage
		if err := json.Unmarshal(element, &entry); err != nil {
			continue
		}

		var tv TaggedValue
		typeRaw, ok := entry["action_type"]
		if !ok {
			typeRaw = entry["type"]
		}
		if typeRaw != nil {
			_ = json.Unmarshal(typeRaw, &tv.Type)
		}
		if valueRaw, ok := entry["value"]; ok {
			_ = tv.Value.UnmarshalJSON(valueRaw)
		}
		out = append(out, tv)
	}
	return out
}
