package ghl

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Timestamp unmarshals the date formats the platform mixes freely:
// RFC3339 strings, date-only strings and unix milliseconds (number or
// numeric string). Unparseable values decode to nil via pointer fields.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		return nil
	}
	if len(s) >= 2 && s[0] == '"' {
		s = s[1 : len(s)-1]
	}
	if parsed := ParseTime(s); parsed != nil {
		t.Time = *parsed
	}
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// ParseTime parses a date value as the platform emits them: unix
// milliseconds, RFC3339 (with or without sub-seconds), or date-only.
// Returns nil when the value does not parse.
func ParseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		t := time.UnixMilli(ms).UTC()
		return &t
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// --- opportunity field resolvers ---

// ResolvedPipelineID picks the populated pipeline id spelling.
func (o *Opportunity) ResolvedPipelineID() string {
	if o.PipelineID != "" {
		return o.PipelineID
	}
	return o.PipelineIDSnake
}

// ResolvedStageID picks stageId, then pipelineStageId, then the snake
// spelling.
func (o *Opportunity) ResolvedStageID() string {
	if o.StageID != "" {
		return o.StageID
	}
	if o.PipelineStageID != "" {
		return o.PipelineStageID
	}
	return o.StageIDSnake
}

// CreatedTime picks dateAdded, then date_added, then dateCreated, then
// createdAt.
func (o *Opportunity) CreatedTime() *time.Time {
	for _, ts := range []*Timestamp{o.DateAdded, o.DateAddedSnake, o.DateCreated, o.CreatedAt} {
		if ts != nil && !ts.IsZero() {
			t := ts.Time
			return &t
		}
	}
	return nil
}

// UpdatedTime picks dateUpdated, then date_updated.
func (o *Opportunity) UpdatedTime() *time.Time {
	for _, ts := range []*Timestamp{o.DateUpdated, o.DateUpdSnake} {
		if ts != nil && !ts.IsZero() {
			t := ts.Time
			return &t
		}
	}
	return nil
}

func (o *Opportunity) ResolvedContactID() string {
	if o.ContactID != "" {
		return o.ContactID
	}
	return o.ContactIDSnake
}

func (o *Opportunity) ResolvedAssignedTo() string {
	if o.AssignedTo != "" {
		return o.AssignedTo
	}
	return o.AssignedToSnake
}

// HasCustomFields reports whether the search payload carried custom
// fields at all. An absent/null value or an empty array means the row
// must be re-fetched by id to get them.
func (o *Opportunity) HasCustomFields() bool {
	raw := bytes.TrimSpace(o.CustomFields)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("[]")) {
		return false
	}
	return true
}

// --- event field resolvers ---

// ResolvedStatus picks status, then appointmentStatus, then eventStatus.
func (e *CalendarEvent) ResolvedStatus() string {
	if e.Status != "" {
		return e.Status
	}
	if e.AppointmentStatus != "" {
		return e.AppointmentStatus
	}
	return e.EventStatus
}

// UpdatedOrCreatedTime picks dateUpdated, then dateAdded, then
// createdAt (the axis daily reprocess and the hourly filter use).
func (e *CalendarEvent) UpdatedOrCreatedTime() *time.Time {
	for _, ts := range []*Timestamp{e.DateUpdated, e.DateAdded, e.CreatedAt} {
		if ts != nil && !ts.IsZero() {
			t := ts.Time
			return &t
		}
	}
	return nil
}

// CreatedTime picks dateAdded, then createdAt (appointmentsCreated axis).
func (e *CalendarEvent) CreatedTime() *time.Time {
	for _, ts := range []*Timestamp{e.DateAdded, e.CreatedAt} {
		if ts != nil && !ts.IsZero() {
			t := ts.Time
			return &t
		}
	}
	return nil
}

// --- custom field normalization ---

// customFieldItem is one entry of the array payload shape. The field id
// and the value each hide under several alternative keys.
type customFieldItem struct {
	ID               string          `json:"id"`
	FieldID          string          `json:"fieldId"`
	FieldIDSnake     string          `json:"field_id"`
	Key              string          `json:"key"`
	FieldValueString json.RawMessage `json:"fieldValueString"`
	FieldValueNumber json.RawMessage `json:"fieldValueNumber"`
	FieldValueBool   json.RawMessage `json:"fieldValueBoolean"`
	FieldValueDate   json.RawMessage `json:"fieldValueDate"`
	FieldValue       json.RawMessage `json:"fieldValue"`
	FieldValueSnake  json.RawMessage `json:"field_value"`
	Value            json.RawMessage `json:"value"`
	Values           json.RawMessage `json:"values"`
	Val              json.RawMessage `json:"val"`
}

func (it *customFieldItem) fieldID() string {
	for _, id := range []string{it.ID, it.FieldID, it.FieldIDSnake, it.Key} {
		if id != "" {
			return id
		}
	}
	return ""
}

func (it *customFieldItem) value() (string, bool) {
	for _, raw := range []json.RawMessage{
		it.FieldValueString, it.FieldValueNumber, it.FieldValueBool,
		it.FieldValueDate, it.FieldValue, it.FieldValueSnake, it.Value,
	} {
		if v, ok := stringifyValue(raw); ok {
			return v, true
		}
	}
	// values: first element of the array
	if len(it.Values) > 0 {
		var arr []json.RawMessage
		if err := json.Unmarshal(it.Values, &arr); err == nil && len(arr) > 0 {
			if v, ok := stringifyValue(arr[0]); ok {
				return v, true
			}
		}
	}
	if v, ok := stringifyValue(it.Val); ok {
		return v, true
	}
	return "", false
}

// stringifyValue renders a scalar JSON value as a trimmed string. Empty
// strings and nulls do not count as values.
func stringifyValue(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return "", false
		}
		return s, true
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatFloat(n, 'f', -1, 64), true
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b), true
	}
	return "", false
}

// NormalizeCustomFields flattens either payload shape into fieldId →
// trimmed string value. The flat-object shape maps ids to scalars; the
// array shape carries items with alternative id and value keys. Entries
// without a usable id or value are dropped. Nil input yields an empty
// map.
func NormalizeCustomFields(raw json.RawMessage) map[string]string {
	out := make(map[string]string)
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return out
	}

	if trimmed[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return out
		}
		for id, v := range obj {
			if id == "" {
				continue
			}
			if s, ok := stringifyValue(v); ok {
				out[id] = s
			}
		}
		return out
	}

	if trimmed[0] == '[' {
		var items []customFieldItem
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return out
		}
		for i := range items {
			id := items[i].fieldID()
			if id == "" {
				continue
			}
			if v, ok := items[i].value(); ok {
				out[id] = v
			}
		}
	}
	return out
}
