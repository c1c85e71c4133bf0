package deskauth

import "time"

// SecurityReport is a read-only view of the settings an engine enforces.
// It carries no key material and is safe to log.
type SecurityReport struct {
	SigningAlgorithm  string
	KeyID             string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	Leeway            time.Duration
	MaxFailures       int
	LockoutWindow     time.Duration
	LoginLockTTL      time.Duration
	RefreshLockTTL    time.Duration
	AuditEnabled      bool
	MetricsEnabled    bool
	LatencyHistograms bool
}

// SecurityReport returns the engine's effective settings. A nil engine
// returns the zero report.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	return SecurityReport{
		SigningAlgorithm:  e.config.JWT.SigningMethod,
		KeyID:             e.config.JWT.KeyID,
		AccessTTL:         e.config.JWT.AccessTTL,
		RefreshTTL:        e.config.JWT.RefreshTTL,
		Leeway:            e.config.JWT.Leeway,
		MaxFailures:       e.config.Lockout.MaxFailures,
		LockoutWindow:     e.config.Lockout.Window,
		LoginLockTTL:      e.config.Locking.LoginLockTTL,
		RefreshLockTTL:    e.config.Locking.RefreshLockTTL,
		AuditEnabled:      e.config.Audit.Enabled,
		MetricsEnabled:    e.config.Metrics.Enabled,
		LatencyHistograms: e.config.Metrics.Enabled && e.config.Metrics.EnableLatencyHistograms,
	}
}
