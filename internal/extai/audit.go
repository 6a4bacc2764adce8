package extai

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/missiond/internal/secrets"
)

// AuditRecord is one immutable entry in the external AI audit trail.
// Request and response payloads are stored scrubbed of secret material.
// Denied marks a policy refusal; Failed marks a provider call that was
// permitted but did not succeed.
type AuditRecord struct {
	ID            string     `json:"id"`
	MissionID     string     `json:"mission_id"`
	Provider      string     `json:"provider"`
	Model         string     `json:"model"`
	Purpose       string     `json:"purpose"`
	Justification string     `json:"justification"`
	Approved      bool       `json:"approved"`
	ApprovedBy    string     `json:"approved_by,omitempty"`
	ApprovedAt    *time.Time `json:"approved_at,omitempty"`
	Request       string     `json:"request"`
	Response      string     `json:"response,omitempty"`
	TokensUsed    int        `json:"tokens_used"`
	CostUSD       float64    `json:"cost_usd"`
	Cached        bool       `json:"cached"`
	Denied        bool       `json:"denied"`
	DenialReason  string     `json:"denial_reason,omitempty"`
	Failed        bool       `json:"failed"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// AuditLog is an append-only record of every gate decision.
// Safe for concurrent use.
type AuditLog struct {
	mu       sync.Mutex
	clock    Clock
	scrubber *secrets.Scrubber
	records  []AuditRecord
}

// NewAuditLog creates an audit log. A nil scrubber disables payload
// redaction.
func NewAuditLog(scrubber *secrets.Scrubber, clock Clock) *AuditLog {
	if clock == nil {
		clock = SystemClock()
	}
	return &AuditLog{clock: clock, scrubber: scrubber}
}

// Append records one entry, scrubbing its payloads, and returns the stored
// record.
func (l *AuditLog) Append(rec AuditRecord) AuditRecord {
	if l.scrubber != nil {
		rec.Request, _ = l.scrubber.Scrub(rec.Request)
		rec.Response, _ = l.scrubber.Scrub(rec.Response)
	}
	rec.ID = uuid.NewString()
	rec.CreatedAt = l.clock.Now().UTC()

	l.mu.Lock()
	l.records = append(l.records, rec)
	l.mu.Unlock()
	return rec
}

// Records returns a copy of all entries in append order.
func (l *AuditLog) Records() []AuditRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditRecord, len(l.records))
	copy(out, l.records)
	return out
}

// ForMission returns all entries for a mission in append order.
func (l *AuditLog) ForMission(missionID string) []AuditRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []AuditRecord
	for _, r := range l.records {
		if r.MissionID == missionID {
			out = append(out, r)
		}
	}
	return out
}
