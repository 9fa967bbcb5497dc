package ghl

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestNormalizeCustomFieldsObjectShape(t *testing.T) {
	raw := json.RawMessage(`{
		"fld_utm": " facebook ",
		"fld_value": 1500.5,
		"fld_flag": true,
		"fld_empty": "   ",
		"fld_null": null
	}`)

	got := NormalizeCustomFields(raw)
	want := map[string]string{
		"fld_utm":   "facebook",
		"fld_value": "1500.5",
		"fld_flag":  "true",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("NormalizeCustomFields mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeCustomFieldsArrayShape(t *testing.T) {
	raw := json.RawMessage(`[
		{"id": "fld_a", "fieldValueString": "instagram"},
		{"fieldId": "fld_b", "fieldValueNumber": 42},
		{"field_id": "fld_c", "value": "direct"},
		{"key": "fld_d", "values": ["first", "second"]},
		{"id": "fld_e", "val": "fallback"},
		{"id": "fld_f"},
		{"fieldValueString": "no id"}
	]`)

	got := NormalizeCustomFields(raw)
	want := map[string]string{
		"fld_a": "instagram",
		"fld_b": "42",
		"fld_c": "direct",
		"fld_d": "first",
		"fld_e": "fallback",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("NormalizeCustomFields mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeCustomFieldsValuePriority(t *testing.T) {
	raw := json.RawMessage(`[
		{"id": "fld", "fieldValueString": "wins", "value": "loses", "val": "also loses"}
	]`)
	got := NormalizeCustomFields(raw)
	if got["fld"] != "wins" {
		t.Errorf("value priority = %q, want %q", got["fld"], "wins")
	}
}

func TestNormalizeCustomFieldsNilInput(t *testing.T) {
	if got := NormalizeCustomFields(nil); len(got) != 0 {
		t.Errorf("NormalizeCustomFields(nil) = %v, want empty", got)
	}
	if got := NormalizeCustomFields(json.RawMessage(`null`)); len(got) != 0 {
		t.Errorf("NormalizeCustomFields(null) = %v, want empty", got)
	}
	if got := NormalizeCustomFields(json.RawMessage(`"garbage`)); len(got) != 0 {
		t.Errorf("NormalizeCustomFields(malformed) = %v, want empty", got)
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want string // RFC3339, "" for nil
	}{
		{"2026-02-01T10:30:00Z", "2026-02-01T10:30:00Z"},
		{"2026-02-01T10:30:00.500Z", "2026-02-01T10:30:00Z"},
		{"2026-02-01", "2026-02-01T00:00:00Z"},
		{"1767225600000", "2026-01-01T00:00:00Z"},
		{"", ""},
		{"not a date", ""},
	}
	for _, tt := range tests {
		got := ParseTime(tt.in)
		if tt.want == "" {
			if got != nil {
				t.Errorf("ParseTime(%q) = %v, want nil", tt.in, got)
			}
			continue
		}
		if got == nil {
			t.Errorf("ParseTime(%q) = nil, want %s", tt.in, tt.want)
			continue
		}
		if got.Truncate(time.Second).Format(time.RFC3339) != tt.want {
			t.Errorf("ParseTime(%q) = %s, want %s", tt.in, got.Format(time.RFC3339), tt.want)
		}
	}
}

func TestOpportunityResolvers(t *testing.T) {
	var o Opportunity
	if err := json.Unmarshal([]byte(`{
		"id": "opp1",
		"pipelineStageId": "stage-alt",
		"pipeline_id": "pipe-snake",
		"dateCreated": "2026-03-10T12:00:00Z",
		"date_updated": 1770000000000,
		"contact_id": "ct1",
		"assigned_to": "user1"
	}`), &o); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got := o.ResolvedStageID(); got != "stage-alt" {
		t.Errorf("ResolvedStageID = %q, want stage-alt", got)
	}
	if got := o.ResolvedPipelineID(); got != "pipe-snake" {
		t.Errorf("ResolvedPipelineID = %q, want pipe-snake", got)
	}
	if created := o.CreatedTime(); created == nil || created.Format("2006-01-02") != "2026-03-10" {
		t.Errorf("CreatedTime = %v, want 2026-03-10", created)
	}
	if updated := o.UpdatedTime(); updated == nil {
		t.Errorf("UpdatedTime = nil, want ms timestamp")
	}
	if got := o.ResolvedContactID(); got != "ct1" {
		t.Errorf("ResolvedContactID = %q, want ct1", got)
	}
	if got := o.ResolvedAssignedTo(); got != "user1" {
		t.Errorf("ResolvedAssignedTo = %q, want user1", got)
	}
}

func TestOpportunityResolverPriority(t *testing.T) {
	var o Opportunity
	if err := json.Unmarshal([]byte(`{
		"id": "opp1",
		"stageId": "primary",
		"pipelineStageId": "secondary",
		"dateAdded": "2026-01-05T00:00:00Z",
		"createdAt": "2026-01-09T00:00:00Z"
	}`), &o); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := o.ResolvedStageID(); got != "primary" {
		t.Errorf("ResolvedStageID = %q, want primary", got)
	}
	if created := o.CreatedTime(); created == nil || created.Format("2006-01-02") != "2026-01-05" {
		t.Errorf("CreatedTime = %v, want dateAdded to win", created)
	}
}

func TestHasCustomFields(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"", false},
		{"null", false},
		{"[]", false},
		{"{}", true},
		{`[{"id":"f","value":"v"}]`, true},
	}
	for _, tt := range tests {
		o := Opportunity{CustomFields: json.RawMessage(tt.raw)}
		if tt.raw == "" {
			o.CustomFields = nil
		}
		if got := o.HasCustomFields(); got != tt.want {
			t.Errorf("HasCustomFields(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestEventStatusResolver(t *testing.T) {
	ev := CalendarEvent{AppointmentStatus: "showed"}
	if got := ev.ResolvedStatus(); got != "showed" {
		t.Errorf("ResolvedStatus = %q, want showed", got)
	}
	ev.Status = "confirmed"
	if got := ev.ResolvedStatus(); got != "confirmed" {
		t.Errorf("ResolvedStatus = %q, want status to win", got)
	}
	empty := CalendarEvent{EventStatus: "noshow"}
	if got := empty.ResolvedStatus(); got != "noshow" {
		t.Errorf("ResolvedStatus = %q, want eventStatus fallback", got)
	}
}
