// Package workrecord provides read-side access to work records and their
// compliance readiness (evidence, hazards, controls) for export generation.
package workrecord

import "time"

// WorkRecord is the tenant's unit of work to which hazards, controls, and
// evidence attach.
type WorkRecord struct {
	ID             string
	OrganizationID string
	Title          string
	Status         string
	CreatedAt      time.Time
}

// EvidenceItem is an uploaded piece of evidence attached to a work record.
type EvidenceItem struct {
	ID           string
	WorkRecordID string
	FileName     string
	ContentType  string
	UploadedAt   time.Time
}

// Readiness summarizes whether a work record can produce a complete proof
// pack. Counts are point-in-time; the export worker re-reads them when it
// needs an actionable failure reason.
type Readiness struct {
	WorkRecordID        string
	RequiredEvidence    int
	PresentEvidence     int
	UnconfiguredHazards int
	IncompleteControls  int
}

// MissingEvidence returns how many required evidence items are absent.
func (r *Readiness) MissingEvidence() int {
	missing := r.RequiredEvidence - r.PresentEvidence
	if missing < 0 {
		return 0
	}
	return missing
}

// Ready reports whether all proof-pack preconditions are met.
func (r *Readiness) Ready() bool {
	return r.MissingEvidence() == 0 && r.UnconfiguredHazards == 0 && r.IncompleteControls == 0
}
