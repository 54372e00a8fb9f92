// Package alerting is the threshold state machine that opens and resolves
// zone alerts from density readings.
//
// States per zone: NORMAL, WARNING, CRITICAL. Inputs are successive density
// values in timestamp order, one evaluation per upload job summary so noisy
// frame-to-frame fluctuation cannot cause alert storms. Transitions for a
// given zone are serialized; the store's open alerts are the durable state,
// so the machine survives restarts without a warm-up.
package alerting

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"crowd-density/common"
	"crowd-density/store"
)

// Tier is the evaluated severity band for a density value.
type Tier int

const (
	TierNormal Tier = iota
	TierWarning
	TierCritical
)

func (t Tier) String() string {
	switch t {
	case TierWarning:
		return "WARNING"
	case TierCritical:
		return "CRITICAL"
	default:
		return "NORMAL"
	}
}

// StatusLabel is the tier's display form for analytics views.
func (t Tier) StatusLabel() string {
	switch t {
	case TierWarning:
		return "Warning"
	case TierCritical:
		return "Critical"
	default:
		return "Normal"
	}
}

// TierFor bands a density value against zone thresholds. Density exactly
// equal to a threshold reaches that tier.
func TierFor(densityPct float64, zone *store.Zone) Tier {
	switch {
	case densityPct >= zone.ThresholdCritical:
		return TierCritical
	case densityPct >= zone.ThresholdWarning:
		return TierWarning
	default:
		return TierNormal
	}
}

// Result reports what one evaluation did.
type Result struct {
	Tier     Tier
	Opened   *store.Alert
	Resolved int
}

// Evaluator applies the transition table against the alert store.
type Evaluator struct {
	store  *store.DataStore
	logger *zap.Logger

	mu        sync.Mutex
	zoneLocks map[uint]*sync.Mutex
}

func NewEvaluator(ds *store.DataStore, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		store:     ds,
		logger:    logger,
		zoneLocks: make(map[uint]*sync.Mutex),
	}
}

// lockFor returns the single-writer lock for a zone. Two concurrent video
// jobs for the same zone must not race to open duplicate alerts.
func (e *Evaluator) lockFor(zoneID uint) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.zoneLocks[zoneID]
	if !ok {
		lock = &sync.Mutex{}
		e.zoneLocks[zoneID] = lock
	}
	return lock
}

// Evaluate feeds one density value for a zone through the state machine.
// detectionID links any opened alert back to its triggering record.
//
// Transition table:
//
//	NORMAL  -> WARNING   open warning alert (no duplicate if one is open)
//	*       -> CRITICAL  resolve open warning, open critical
//	WARNING|CRITICAL -> NORMAL  resolve all open alerts
//
// Re-entering the current tier is a no-op.
func (e *Evaluator) Evaluate(zone *store.Zone, densityPct float64, detectionID *uint) (Result, error) {
	lock := e.lockFor(zone.ID)
	lock.Lock()
	defer lock.Unlock()

	open, err := e.store.OpenAlertsForZone(zone.ID)
	if err != nil {
		return Result{}, err
	}

	target := TierFor(densityPct, zone)
	result := Result{Tier: target}
	now := time.Now().UTC()

	switch target {
	case TierCritical:
		if hasOpen(open, common.SeverityCritical) {
			return result, nil
		}
		// An open warning is superseded, not duplicated.
		for _, alert := range open {
			if err := e.store.ResolveAlert(alert.ID, now); err != nil {
				return result, err
			}
			result.Resolved++
		}
		opened, err := e.open(zone, common.SeverityCritical, densityPct, detectionID, now)
		if err != nil {
			return result, err
		}
		result.Opened = opened

	case TierWarning:
		if len(open) > 0 {
			// Either the warning is already open (idempotent re-entry) or a
			// critical alert still stands; neither gets a duplicate.
			return result, nil
		}
		opened, err := e.open(zone, common.SeverityWarning, densityPct, detectionID, now)
		if err != nil {
			return result, err
		}
		result.Opened = opened

	case TierNormal:
		if len(open) == 0 {
			return result, nil
		}
		if err := e.store.ResolveOpenAlertsForZone(zone.ID, now); err != nil {
			return result, err
		}
		result.Resolved = len(open)
		e.logger.Info("zone returned to normal",
			zap.Uint("zone_id", zone.ID),
			zap.Float64("density", densityPct),
			zap.Int("resolved", result.Resolved))
	}

	return result, nil
}

func (e *Evaluator) open(zone *store.Zone, severity common.Severity, densityPct float64, detectionID *uint, now time.Time) (*store.Alert, error) {
	label := "High"
	if severity == common.SeverityCritical {
		label = "Critical"
	}
	alert := &store.Alert{
		ZoneID:      zone.ID,
		DetectionID: detectionID,
		Severity:    severity,
		Message:     fmt.Sprintf("%s density detected in %s: %.1f%%", label, zone.Name, densityPct),
		Status:      common.AlertOpen,
		CreatedAt:   now,
	}
	if err := e.store.CreateAlert(alert); err != nil {
		return nil, err
	}
	e.logger.Info("alert opened",
		zap.Uint("zone_id", zone.ID),
		zap.String("severity", string(severity)),
		zap.Float64("density", densityPct))
	return alert, nil
}

func hasOpen(alerts []store.Alert, severity common.Severity) bool {
	for _, alert := range alerts {
		if alert.Severity == severity {
			return true
		}
	}
	return false
}
