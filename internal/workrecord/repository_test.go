package workrecord

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGetWorkRecordScopedToOrganization(t *testing.T) {
	source := NewInMemorySource()
	source.PutWorkRecord(&WorkRecord{ID: "wr-1", OrganizationID: "org-1", Title: "Ladder check"}, nil)
	ctx := context.Background()

	record, err := source.GetWorkRecord(ctx, "org-1", "wr-1")
	if err != nil {
		t.Fatalf("GetWorkRecord failed: %v", err)
	}
	if record.Title != "Ladder check" {
		t.Errorf("unexpected record: %+v", record)
	}

	if _, err := source.GetWorkRecord(ctx, "org-2", "wr-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-tenant read must look missing, got %v", err)
	}
}

func TestGetReadinessDefaultsWhenUnset(t *testing.T) {
	source := NewInMemorySource()
	source.PutWorkRecord(&WorkRecord{ID: "wr-1", OrganizationID: "org-1"}, nil)

	readiness, err := source.GetReadiness(context.Background(), "org-1", "wr-1")
	if err != nil {
		t.Fatalf("GetReadiness failed: %v", err)
	}
	if !readiness.Ready() {
		t.Error("a record with no requirements should be ready")
	}
}

func TestMissingEvidenceNeverNegative(t *testing.T) {
	r := &Readiness{RequiredEvidence: 2, PresentEvidence: 5}
	if got := r.MissingEvidence(); got != 0 {
		t.Errorf("expected 0 missing with surplus evidence, got %d", got)
	}
}

func TestListWorkRecordsOrderedByCreation(t *testing.T) {
	source := NewInMemorySource()
	base := time.Now().UTC()
	source.PutWorkRecord(&WorkRecord{ID: "wr-b", OrganizationID: "org-1", CreatedAt: base.Add(time.Hour)}, nil)
	source.PutWorkRecord(&WorkRecord{ID: "wr-a", OrganizationID: "org-1", CreatedAt: base}, nil)

	records, err := source.ListWorkRecords(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("ListWorkRecords failed: %v", err)
	}
	if len(records) != 2 || records[0].ID != "wr-a" {
		t.Errorf("expected creation order, got %v", records)
	}
}

func TestListEvidenceSortedByFileName(t *testing.T) {
	source := NewInMemorySource()
	source.PutWorkRecord(&WorkRecord{ID: "wr-1", OrganizationID: "org-1"}, nil)
	source.PutEvidence("wr-1", []*EvidenceItem{
		{ID: "ev-2", WorkRecordID: "wr-1", FileName: "z.jpg"},
		{ID: "ev-1", WorkRecordID: "wr-1", FileName: "a.jpg"},
	})

	items, err := source.ListEvidence(context.Background(), "org-1", "wr-1")
	if err != nil {
		t.Fatalf("ListEvidence failed: %v", err)
	}
	if len(items) != 2 || items[0].FileName != "a.jpg" {
		t.Errorf("expected file-name order, got %v", items)
	}
}
