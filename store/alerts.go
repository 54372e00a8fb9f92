package store

import (
	"fmt"
	"time"

	"crowd-density/common"
)

// CreateAlert stores a new alert in OPEN state.
func (ds *DataStore) CreateAlert(alert *Alert) error {
	if alert.Status == "" {
		alert.Status = common.AlertOpen
	}
	if err := ds.DB.Create(alert).Error; err != nil {
		return fmt.Errorf("creating alert: %w", err)
	}
	return nil
}

// OpenAlertsForZone returns the OPEN alerts for a zone, oldest first.
func (ds *DataStore) OpenAlertsForZone(zoneID uint) ([]Alert, error) {
	var alerts []Alert
	err := ds.DB.Where("zone_id = ? AND status = ?", zoneID, common.AlertOpen).
		Order("created_at asc").Find(&alerts).Error
	if err != nil {
		return nil, fmt.Errorf("querying open alerts for zone %d: %w", zoneID, err)
	}
	return alerts, nil
}

// ResolveAlert marks one alert RESOLVED at the given time.
func (ds *DataStore) ResolveAlert(id uint, at time.Time) error {
	err := ds.DB.Model(&Alert{}).Where("id = ?", id).
		Updates(map[string]any{"status": common.AlertResolved, "resolved_at": at}).Error
	if err != nil {
		return fmt.Errorf("resolving alert %d: %w", id, err)
	}
	return nil
}

// ResolveOpenAlertsForZone resolves every OPEN alert for a zone.
func (ds *DataStore) ResolveOpenAlertsForZone(zoneID uint, at time.Time) error {
	err := ds.DB.Model(&Alert{}).
		Where("zone_id = ? AND status = ?", zoneID, common.AlertOpen).
		Updates(map[string]any{"status": common.AlertResolved, "resolved_at": at}).Error
	if err != nil {
		return fmt.Errorf("resolving open alerts for zone %d: %w", zoneID, err)
	}
	return nil
}

// CountOpenAlerts returns the number of OPEN alerts as of now.
func (ds *DataStore) CountOpenAlerts() (int64, error) {
	var count int64
	if err := ds.DB.Model(&Alert{}).Where("status = ?", common.AlertOpen).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting open alerts: %w", err)
	}
	return count, nil
}

// OpenAlertsAsOf counts alerts that were OPEN at instant t: created before t
// and not resolved until after t (or still open).
func (ds *DataStore) OpenAlertsAsOf(t time.Time) (int64, error) {
	var count int64
	err := ds.DB.Model(&Alert{}).
		Where("created_at < ? AND (resolved_at IS NULL OR resolved_at > ?)", t, t).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting alerts open as of %v: %w", t, err)
	}
	return count, nil
}

// RecentAlerts returns up to limit alerts, newest first.
func (ds *DataStore) RecentAlerts(limit int) ([]Alert, error) {
	var alerts []Alert
	if err := ds.DB.Order("created_at desc").Limit(limit).Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("querying recent alerts: %w", err)
	}
	return alerts, nil
}

// CountAlertsInWindow counts alerts created with t0 <= created_at < t1.
func (ds *DataStore) CountAlertsInWindow(t0, t1 time.Time) (int64, error) {
	var count int64
	err := ds.DB.Model(&Alert{}).
		Where("created_at >= ? AND created_at < ?", t0, t1).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting alerts in window: %w", err)
	}
	return count, nil
}

// CountAlertsForZoneSince counts alerts created for a zone since t.
func (ds *DataStore) CountAlertsForZoneSince(zoneID uint, t time.Time) (int64, error) {
	var count int64
	err := ds.DB.Model(&Alert{}).
		Where("zone_id = ? AND created_at >= ?", zoneID, t).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting alerts for zone %d: %w", zoneID, err)
	}
	return count, nil
}
