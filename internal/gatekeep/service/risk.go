package service

import (
	"sync"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"golang.org/x/time/rate"
)

// Signal weights.
const (
	WeightIPChange      = 40
	WeightCountryChange = 30
	WeightUnknownDevice = 25
	WeightVelocity      = 25

	MaxRiskScore = 100
)

// RiskScorer scores session activity. Scores decay: each new assessment
// starts from half the previous score before adding fresh signals.
type RiskScorer struct {
	// Requests per second a single session may sustain before the velocity
	// signal fires, and the burst allowed above it.
	Rate  rate.Limit
	Burst int

	limiters sync.Map // session id -> *rate.Limiter
}

// NewRiskScorer returns a scorer allowing perSecond sustained requests per
// session with the given burst.
func NewRiskScorer(perSecond float64, burst int) *RiskScorer {
	if perSecond <= 0 {
		perSecond = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return &RiskScorer{Rate: rate.Limit(perSecond), Burst: burst}
}

// Score returns the new score for s after act and the signals that fired.
// knownDevices holds fingerprints the user has signed in from before. Every
// call counts as one request against the session's velocity limit.
func (r *RiskScorer) Score(s domain.Session, act domain.Activity, knownDevices map[string]bool) (int, []domain.RiskSignal) {
	var (
		signals []domain.RiskSignal
		added   int
	)

	if act.IP != "" && s.IP != "" && act.IP != s.IP {
		signals = append(signals, domain.SignalIPChange)
		added += WeightIPChange
	}
	if act.Country != "" && s.Country != "" && act.Country != s.Country {
		signals = append(signals, domain.SignalCountryChange)
		added += WeightCountryChange
	}
	if fp := act.DeviceFingerprint; fp != "" && fp != s.DeviceFingerprint && !knownDevices[fp] {
		signals = append(signals, domain.SignalUnknownDevice)
		added += WeightUnknownDevice
	}

	at := act.At
	if at.IsZero() {
		at = time.Now()
	}
	if !r.limiter(s.ID).AllowN(at, 1) {
		signals = append(signals, domain.SignalVelocity)
		added += WeightVelocity
	}

	return clampScore(s.RiskScore/2 + added), signals
}

// Forget drops the velocity state of a session.
func (r *RiskScorer) Forget(sessionID string) {
	r.limiters.Delete(sessionID)
}

func (r *RiskScorer) limiter(sessionID string) *rate.Limiter {
	if l, ok := r.limiters.Load(sessionID); ok {
		return l.(*rate.Limiter)
	}
	l, _ := r.limiters.LoadOrStore(sessionID, rate.NewLimiter(r.Rate, r.Burst))
	return l.(*rate.Limiter)
}

func clampScore(n int) int {
	return max(0, min(n, MaxRiskScore))
}
