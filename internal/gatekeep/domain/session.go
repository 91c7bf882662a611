package domain

import "time"

// SessionStatus is the lifecycle state of a session. Terminated and expired
// are terminal.
type SessionStatus string

const (
	SessionActive     SessionStatus = "ACTIVE"
	SessionTerminated SessionStatus = "TERMINATED"
	SessionExpired    SessionStatus = "EXPIRED"
)

// Session is an authenticated presence of a user in a workspace.
type Session struct {
	ID                string        `json:"id"`
	UserID            string        `json:"user_id"`
	WorkspaceID       string        `json:"workspace_id"`
	DeviceFingerprint string        `json:"device_fingerprint,omitempty"`
	IP                string        `json:"ip,omitempty"`
	Country           string        `json:"country,omitempty"`
	UserAgent         string        `json:"user_agent,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	LastActivityAt    time.Time     `json:"last_activity_at"`
	ExpiresAt         time.Time     `json:"expires_at"`
	Status            SessionStatus `json:"status"`
	MFAVerified       bool          `json:"mfa_verified"`
	RiskScore         int           `json:"risk_score"`
	Flagged           bool          `json:"flagged"`
	TerminatedReason  string        `json:"terminated_reason,omitempty"`
}

// IsActive reports whether the session is usable at now. An ACTIVE session
// past its expiry is not.
func (s Session) IsActive(now time.Time) bool {
	return s.Status == SessionActive && now.Before(s.ExpiresAt)
}

// Device describes the client a session is created from.
type Device struct {
	Fingerprint string `json:"fingerprint,omitempty"`
	IP          string `json:"ip,omitempty"`
	Country     string `json:"country,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
}

// Activity is one observed request against a session.
type Activity struct {
	IP                string    `json:"ip,omitempty"`
	Country           string    `json:"country,omitempty"`
	DeviceFingerprint string    `json:"device_fingerprint,omitempty"`
	UserAgent         string    `json:"user_agent,omitempty"`
	At                time.Time `json:"at"`
}

// RiskSignal names one contributor to a risk score.
type RiskSignal string

const (
	SignalIPChange      RiskSignal = "ip_change"
	SignalCountryChange RiskSignal = "country_change"
	SignalUnknownDevice RiskSignal = "unknown_device"
	SignalVelocity      RiskSignal = "velocity"
)

// RiskAssessment is the scorer's verdict on one activity.
type RiskAssessment struct {
	Score      int          `json:"score"`
	Signals    []RiskSignal `json:"signals,omitempty"`
	Flagged    bool         `json:"flagged"`
	Terminated bool         `json:"terminated"`
}
