package saga

import (
	"time"
)

// Status is the saga lifecycle status. Transitions are monotonic:
// Pending may move to Completed or Rejected, and terminal statuses never
// change again for the same correlation id.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// CompletedStep is an already-applied step eligible for reversal.
type CompletedStep struct {
	Step        int       `json:"step"`
	Name        string    `json:"name"`
	CompletedAt time.Time `json:"completedAt"`
}

// AuditEntry records one coordinator decision for diagnosis.
type AuditEntry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
	Detail  string    `json:"detail,omitempty"`
}

// State is per-workflow progress, owned exclusively by the coordinator
// until it reaches a terminal status.
type State struct {
	SagaID          string          `json:"sagaId"`
	CorrelationID   string          `json:"correlationId"`
	Step            int             `json:"step"`
	Status          Status          `json:"status"`
	CompensationLog []CompletedStep `json:"compensationLog"`
	AuditLog        []AuditEntry    `json:"auditLog"`
	Reason          string          `json:"reason,omitempty"`
	StartedAt       time.Time       `json:"startedAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (s *State) addAudit(message, detail string) {
	s.AuditLog = append(s.AuditLog, AuditEntry{
		At:      time.Now().UTC(),
		Message: message,
		Detail:  detail,
	})
	s.UpdatedAt = time.Now().UTC()
}
