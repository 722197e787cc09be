// Package ledger provides the append-only, per-organization sequenced audit
// ledger that compliance exports and tamper checks draw from.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Event categories.
const (
	CategoryWorkRecord = "work_record"
	CategoryExport     = "export"
	CategoryRetention  = "retention"
	CategoryAccess     = "access"
)

// AuditEvent is a single immutable entry in the ledger. Events are never
// updated or deleted; LedgerSeq is strictly increasing per organization and
// assigned atomically at insert.
type AuditEvent struct {
	ID             string
	OrganizationID string
	LedgerSeq      int64
	EventName      string
	ActorID        string
	TargetType     string
	TargetID       string
	Category       string
	Outcome        string
	Severity       string
	Metadata       map[string]string
	Hash           string // SHA-256 over the canonical field string
	CreatedAt      time.Time
}

// Entry is the input for appending an audit event. Zero-value Outcome and
// Severity default to success/info; nil Metadata is stored as an empty map so
// hashes are always computed over a concrete canonical string.
type Entry struct {
	OrganizationID string
	ActorID        string
	EventName      string
	TargetType     string
	TargetID       string
	Category       string
	Outcome        string
	Severity       string
	Metadata       map[string]string
}

// canonicalString builds the deterministic representation the event hash is
// computed over. Field order and separators are part of the stored-hash
// contract; changing them invalidates every recorded root.
func (e *AuditEvent) canonicalString() string {
	var b strings.Builder
	b.WriteString(e.ID)
	b.WriteByte('|')
	b.WriteString(e.OrganizationID)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(e.LedgerSeq, 10))
	b.WriteByte('|')
	b.WriteString(e.EventName)
	b.WriteByte('|')
	b.WriteString(e.ActorID)
	b.WriteByte('|')
	b.WriteString(e.TargetType)
	b.WriteByte('|')
	b.WriteString(e.TargetID)
	b.WriteByte('|')
	b.WriteString(e.Category)
	b.WriteByte('|')
	b.WriteString(e.Outcome)
	b.WriteByte('|')
	b.WriteString(e.Severity)
	b.WriteByte('|')
	b.WriteString(canonicalMetadata(e.Metadata))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(e.CreatedAt.UTC().UnixNano(), 10))
	return b.String()
}

// ComputeHash returns the SHA-256 digest of the event's canonical fields.
func (e *AuditEvent) ComputeHash() string {
	sum := sha256.Sum256([]byte(e.canonicalString()))
	return hex.EncodeToString(sum[:])
}

// canonicalMetadata encodes metadata as sorted key=value pairs joined by
// commas so map iteration order never changes the hash.
func canonicalMetadata(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+m[k])
	}
	return strings.Join(pairs, ",")
}
