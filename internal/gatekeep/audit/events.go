// Package audit defines the security events the engine records and the
// emitters that deliver them.
package audit

import "time"

// Severity follows syslog (RFC 5424) numbering.
type Severity int

const (
	SeverityCritical Severity = 2
	SeverityWarning  Severity = 4
	SeverityNotice   Severity = 5
	SeverityInfo     Severity = 6
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "CRITICAL"
	case SeverityWarning:
		return "WARNING"
	case SeverityNotice:
		return "NOTICE"
	case SeverityInfo:
		return "INFO"
	default:
		return "UNKNOWN"
	}
}

// Kind identifies a security-relevant event.
type Kind string

const (
	KindTokenIssued         Kind = "token.issued"
	KindTokenRefreshed      Kind = "token.refreshed"
	KindTokenReuseDetected  Kind = "token.reuse_detected"
	KindTokenRevoked        Kind = "token.revoked"
	KindPermissionDenied    Kind = "permission.denied"
	KindSessionCreated      Kind = "session.created"
	KindSessionTerminated   Kind = "session.terminated"
	KindSessionEvicted      Kind = "session.evicted"
	KindSessionAnomaly      Kind = "session.anomaly_flagged"
	KindRoleChanged         Kind = "role.changed"
	KindRoleAssigned        Kind = "role.assigned"
	KindRoleRevoked         Kind = "role.revoked"
	KindPolicyChanged       Kind = "policy.changed"
	KindMemberChanged       Kind = "member.changed"
	KindSigningKeyRotated   Kind = "key.rotated"
	KindAuthenticationError Kind = "auth.failure"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)

var severities = map[Kind]Severity{
	KindTokenIssued:         SeverityInfo,
	KindTokenRefreshed:      SeverityInfo,
	KindTokenReuseDetected:  SeverityCritical,
	KindTokenRevoked:        SeverityNotice,
	KindPermissionDenied:    SeverityWarning,
	KindSessionCreated:      SeverityInfo,
	KindSessionTerminated:   SeverityNotice,
	KindSessionEvicted:      SeverityNotice,
	KindSessionAnomaly:      SeverityWarning,
	KindRoleChanged:         SeverityNotice,
	KindRoleAssigned:        SeverityNotice,
	KindRoleRevoked:         SeverityNotice,
	KindPolicyChanged:       SeverityNotice,
	KindMemberChanged:       SeverityNotice,
	KindSigningKeyRotated:   SeverityNotice,
	KindAuthenticationError: SeverityWarning,
}

// SeverityFor returns the severity of kind. Unknown kinds are warnings.
func SeverityFor(k Kind) Severity {
	if s, ok := severities[k]; ok {
		return s
	}
	return SeverityWarning
}

// Event is one audit record.
type Event struct {
	Kind        Kind              `json:"kind"`
	Severity    Severity          `json:"severity"`
	Timestamp   time.Time         `json:"timestamp"`
	Actor       string            `json:"actor,omitempty"`
	WorkspaceID string            `json:"workspace_id,omitempty"`
	Outcome     string            `json:"outcome,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	RequestID   string            `json:"request_id,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// New builds an event of kind stamped with the current time and the kind's
// severity.
func New(kind Kind, actor, workspaceID string) Event {
	return Event{
		Kind:        kind,
		Severity:    SeverityFor(kind),
		Timestamp:   time.Now().UTC(),
		Actor:       actor,
		WorkspaceID: workspaceID,
		Outcome:     OutcomeSuccess,
	}
}

// With returns a copy of e with key set in Fields.
func (e Event) With(key, value string) Event {
	fields := make(map[string]string, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	fields[key] = value
	e.Fields = fields
	return e
}

// Failed marks the event as a failure with reason.
func (e Event) Failed(outcome, reason string) Event {
	e.Outcome = outcome
	e.Reason = reason
	return e
}
