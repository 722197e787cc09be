package ledger

import (
	"strings"
	"testing"
	"time"
)

func testEvent() *AuditEvent {
	return &AuditEvent{
		ID:             "evt-1",
		OrganizationID: "org-1",
		LedgerSeq:      7,
		EventName:      "export.started",
		ActorID:        "user-1",
		TargetType:     "export_job",
		TargetID:       "job-1",
		Category:       CategoryExport,
		Outcome:        OutcomeSuccess,
		Severity:       SeverityInfo,
		Metadata:       map[string]string{"b": "2", "a": "1"},
		CreatedAt:      time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
	}
}

func TestComputeHashDeterministic(t *testing.T) {
	event := testEvent()
	first := event.ComputeHash()
	second := event.ComputeHash()
	if first != second {
		t.Errorf("hash not deterministic: %s vs %s", first, second)
	}
	if len(first) != 64 {
		t.Errorf("expected 64-char hex digest, got %d chars", len(first))
	}
}

func TestComputeHashMetadataOrderIndependent(t *testing.T) {
	a := testEvent()
	b := testEvent()
	b.Metadata = map[string]string{"a": "1", "b": "2"}

	if a.ComputeHash() != b.ComputeHash() {
		t.Error("metadata insertion order changed the hash")
	}
}

func TestComputeHashSensitiveToFields(t *testing.T) {
	base := testEvent().ComputeHash()

	mutations := map[string]func(*AuditEvent){
		"event_name": func(e *AuditEvent) { e.EventName = "export.completed" },
		"ledger_seq": func(e *AuditEvent) { e.LedgerSeq = 8 },
		"metadata":   func(e *AuditEvent) { e.Metadata["a"] = "changed" },
		"created_at": func(e *AuditEvent) { e.CreatedAt = e.CreatedAt.Add(time.Nanosecond) },
		"actor":      func(e *AuditEvent) { e.ActorID = "user-2" },
	}
	for name, mutate := range mutations {
		event := testEvent()
		mutate(event)
		if event.ComputeHash() == base {
			t.Errorf("changing %s did not change the hash", name)
		}
	}
}

func TestCanonicalMetadataSorted(t *testing.T) {
	got := canonicalMetadata(map[string]string{"z": "1", "a": "2", "m": "3"})
	want := "a=2,m=3,z=1"
	if got != want {
		t.Errorf("canonicalMetadata = %q, want %q", got, want)
	}
	if canonicalMetadata(nil) != "" {
		t.Error("nil metadata should canonicalize to empty string")
	}
}

func TestCanonicalStringContainsSeparators(t *testing.T) {
	event := testEvent()
	canonical := event.canonicalString()
	if !strings.Contains(canonical, "evt-1|org-1|7|export.started") {
		t.Errorf("unexpected canonical prefix: %s", canonical)
	}
}
