package store

import (
	"fmt"
	"time"
)

// WindowAggregates are the raw sums a dashboard window is built from.
type WindowAggregates struct {
	TotalAttendance int64
	AvgDensity      float64
	DensitySamples  int64
}

// AggregatesInWindow computes attendance and mean density over records with
// t0 <= timestamp < t1. Records without a zone carry no density and are
// excluded from the density mean only.
func (ds *DataStore) AggregatesInWindow(t0, t1 time.Time) (WindowAggregates, error) {
	var agg WindowAggregates
	row := ds.DB.Raw(`
		SELECT
			COALESCE(SUM(person_count), 0),
			COALESCE(AVG(density_pct), 0),
			COUNT(density_pct)
		FROM detection_records
		WHERE timestamp >= ? AND timestamp < ?
	`, t0, t1).Row()
	if err := row.Scan(&agg.TotalAttendance, &agg.AvgDensity, &agg.DensitySamples); err != nil {
		return WindowAggregates{}, fmt.Errorf("scanning window aggregates: %w", err)
	}
	return agg, nil
}

// ZoneWindowStats summarizes one zone's records inside a window.
type ZoneWindowStats struct {
	AvgDensity float64
	PeakTime   *time.Time
	Samples    int64
}

// StatsForZone computes a zone's mean density and its peak-density record
// time within [t0, t1).
func (ds *DataStore) StatsForZone(zoneID uint, t0, t1 time.Time) (ZoneWindowStats, error) {
	var stats ZoneWindowStats
	row := ds.DB.Raw(`
		SELECT COALESCE(AVG(density_pct), 0), COUNT(*)
		FROM detection_records
		WHERE zone_id = ? AND timestamp >= ? AND timestamp < ?
	`, zoneID, t0, t1).Row()
	if err := row.Scan(&stats.AvgDensity, &stats.Samples); err != nil {
		return ZoneWindowStats{}, fmt.Errorf("scanning zone stats: %w", err)
	}
	if stats.Samples == 0 {
		return stats, nil
	}

	var peak DetectionRecord
	err := ds.DB.Where("zone_id = ? AND timestamp >= ? AND timestamp < ? AND density_pct IS NOT NULL",
		zoneID, t0, t1).
		Order("density_pct desc").Limit(1).Find(&peak).Error
	if err != nil {
		return ZoneWindowStats{}, fmt.Errorf("querying peak detection: %w", err)
	}
	if peak.ID != 0 {
		t := peak.Timestamp
		stats.PeakTime = &t
	}
	return stats, nil
}

// TrendPoint is one hourly density bucket for a zone.
type TrendPoint struct {
	ZoneID     uint
	HourBucket string
	AvgDensity float64
}

// DensityTrends buckets per-zone mean density by hour inside [t0, t1).
// zoneID of 0 means all zones.
func (ds *DataStore) DensityTrends(t0, t1 time.Time, zoneID uint) ([]TrendPoint, error) {
	query := `
		SELECT
			zone_id,
			strftime('%Y-%m-%dT%H:00:00Z', timestamp) AS hour_bucket,
			AVG(density_pct) AS avg_density
		FROM detection_records
		WHERE timestamp >= ? AND timestamp < ?
			AND zone_id IS NOT NULL AND density_pct IS NOT NULL
	`
	args := []any{t0, t1}
	if zoneID != 0 {
		query += " AND zone_id = ?"
		args = append(args, zoneID)
	}
	query += " GROUP BY zone_id, hour_bucket ORDER BY zone_id, hour_bucket"

	rows, err := ds.DB.Raw(query, args...).Rows()
	if err != nil {
		return nil, fmt.Errorf("querying density trends: %w", err)
	}
	defer rows.Close()

	var points []TrendPoint
	for rows.Next() {
		var p TrendPoint
		if err := rows.Scan(&p.ZoneID, &p.HourBucket, &p.AvgDensity); err != nil {
			return nil, fmt.Errorf("scanning trend point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
