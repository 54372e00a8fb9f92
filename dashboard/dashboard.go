// Package dashboard rolls detection records into time-windowed metrics for
// the read-only query surface. It owns the aggregation math; persistence
// belongs to the store.
package dashboard

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"crowd-density/alerting"
	"crowd-density/store"
)

// Service computes dashboard views over the detection store.
type Service struct {
	store *store.DataStore
}

func NewService(ds *store.DataStore) *Service {
	return &Service{store: ds}
}

// Delta is the percentage change from previous to current. A previous of 0
// is defined as delta 0 so an empty prior window never divides by zero.
func Delta(current, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return (current - previous) / previous * 100
}

// Metrics is one dashboard window compared against the equal-length window
// preceding it.
type Metrics struct {
	TotalAttendance int64   `json:"total_attendance"`
	AttendanceDelta float64 `json:"attendance_delta"`
	AvgDensity      float64 `json:"avg_density"`
	DensityDelta    float64 `json:"density_delta"`
	ActiveAlerts    int64   `json:"active_alerts"`
	NewAlerts       int64   `json:"new_alerts"`
	ActiveCameras   string  `json:"active_cameras"`
	CamerasStatus   string  `json:"cameras_status"`
}

// MetricsWindow aggregates [end-window, end) and compares it against
// [end-2*window, end-window).
func (s *Service) MetricsWindow(end time.Time, window time.Duration) (Metrics, error) {
	t0 := end.Add(-window)
	prev0 := t0.Add(-window)

	current, err := s.store.AggregatesInWindow(t0, end)
	if err != nil {
		return Metrics{}, err
	}
	previous, err := s.store.AggregatesInWindow(prev0, t0)
	if err != nil {
		return Metrics{}, err
	}

	activeAlerts, err := s.store.OpenAlertsAsOf(end)
	if err != nil {
		return Metrics{}, err
	}
	newAlerts, err := s.store.CountAlertsInWindow(t0, end)
	if err != nil {
		return Metrics{}, err
	}
	activeCameras, totalCameras, err := s.store.CountCameras()
	if err != nil {
		return Metrics{}, err
	}

	status := "Offline"
	if totalCameras > 0 && activeCameras == totalCameras {
		status = "Online"
	}

	return Metrics{
		TotalAttendance: current.TotalAttendance,
		AttendanceDelta: round1(Delta(float64(current.TotalAttendance), float64(previous.TotalAttendance))),
		AvgDensity:      round1(current.AvgDensity),
		DensityDelta:    round1(Delta(current.AvgDensity, previous.AvgDensity)),
		ActiveAlerts:    activeAlerts,
		NewAlerts:       newAlerts,
		ActiveCameras:   fmt.Sprintf("%d/%d", activeCameras, totalCameras),
		CamerasStatus:   status,
	}, nil
}

// HeatmapZone is one zone's latest density banded into a heat level.
type HeatmapZone struct {
	ZoneID   uint    `json:"zone_id"`
	ZoneName string  `json:"zone_name"`
	Density  float64 `json:"density"`
	Level    string  `json:"level"`
}

// Heatmap maps every zone's latest detection onto heat levels.
func (s *Service) Heatmap() ([]HeatmapZone, error) {
	zones, err := s.store.ListZones()
	if err != nil {
		return nil, err
	}

	result := make([]HeatmapZone, 0, len(zones))
	for i := range zones {
		zone := &zones[i]
		latest, err := s.store.LatestDetectionForZone(zone.ID)
		if err != nil {
			return nil, err
		}

		var density float64
		if latest != nil && latest.DensityPct != nil {
			density = *latest.DensityPct
		}

		result = append(result, HeatmapZone{
			ZoneID:   zone.ID,
			ZoneName: zone.Name,
			Density:  round1(density),
			Level:    heatLevel(density, zone),
		})
	}
	return result, nil
}

func heatLevel(density float64, zone *store.Zone) string {
	switch {
	case density >= zone.ThresholdCritical:
		return "crit"
	case density >= zone.ThresholdWarning:
		return "high"
	case density >= 30:
		return "med"
	case density > 0:
		return "low"
	default:
		return "empty"
	}
}

// ZoneStats is one zone's window summary for the analytics view.
type ZoneStats struct {
	ZoneID          uint    `json:"zone_id"`
	ZoneName        string  `json:"zone_name"`
	AvgDensity      float64 `json:"avg_density"`
	PeakTime        string  `json:"peak_time"`
	AlertsTriggered int64   `json:"alerts_triggered"`
	Status          string  `json:"status"`
}

// ZoneStatsWindow summarizes every zone over [end-window, end).
func (s *Service) ZoneStatsWindow(end time.Time, window time.Duration) ([]ZoneStats, error) {
	zones, err := s.store.ListZones()
	if err != nil {
		return nil, err
	}
	t0 := end.Add(-window)

	result := make([]ZoneStats, 0, len(zones))
	for i := range zones {
		zone := &zones[i]
		stats, err := s.store.StatsForZone(zone.ID, t0, end)
		if err != nil {
			return nil, err
		}
		alertCount, err := s.store.CountAlertsForZoneSince(zone.ID, t0)
		if err != nil {
			return nil, err
		}

		peakTime := "N/A"
		if stats.PeakTime != nil {
			peakTime = stats.PeakTime.Format("15:04")
		}

		result = append(result, ZoneStats{
			ZoneID:          zone.ID,
			ZoneName:        zone.Name,
			AvgDensity:      round1(stats.AvgDensity),
			PeakTime:        peakTime,
			AlertsTriggered: alertCount,
			Status:          alerting.TierFor(stats.AvgDensity, zone).StatusLabel(),
		})
	}
	return result, nil
}

// TrendPoint is one hourly density reading in a zone's trend series.
type TrendPoint struct {
	Time    string  `json:"time"`
	Density float64 `json:"density"`
}

// DensityTrends groups hourly mean density by zone name over
// [end-window, end). zoneID of 0 means all zones.
func (s *Service) DensityTrends(end time.Time, window time.Duration, zoneID uint) (map[string][]TrendPoint, error) {
	points, err := s.store.DensityTrends(end.Add(-window), end, zoneID)
	if err != nil {
		return nil, err
	}
	zones, err := s.store.ListZones()
	if err != nil {
		return nil, err
	}
	names := make(map[uint]string, len(zones))
	for _, zone := range zones {
		names[zone.ID] = zone.Name
	}

	trends := make(map[string][]TrendPoint)
	for _, p := range points {
		name, ok := names[p.ZoneID]
		if !ok {
			name = "Unknown"
		}
		trends[name] = append(trends[name], TrendPoint{
			Time:    p.HourBucket,
			Density: round2(p.AvgDensity),
		})
	}
	for name := range trends {
		series := trends[name]
		sort.Slice(series, func(i, j int) bool { return series[i].Time < series[j].Time })
		trends[name] = series
	}
	return trends, nil
}

// ExportCSV renders detection records in [end-window, end) as CSV with
// resolved zone and camera names.
func (s *Service) ExportCSV(end time.Time, window time.Duration) (string, error) {
	records, err := s.store.DetectionsInWindow(end.Add(-window), end, 0)
	if err != nil {
		return "", err
	}
	zones, err := s.store.ListZones()
	if err != nil {
		return "", err
	}
	cameras, err := s.store.ListCameras()
	if err != nil {
		return "", err
	}

	zoneNames := make(map[uint]string, len(zones))
	for _, zone := range zones {
		zoneNames[zone.ID] = zone.Name
	}
	cameraNames := make(map[uint]string, len(cameras))
	for _, camera := range cameras {
		cameraNames[camera.ID] = camera.Name
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"Timestamp", "Zone", "Camera", "Person Count", "Density Percentage"})

	for i := range records {
		record := &records[i]
		zoneName := "Unknown"
		if record.ZoneID != nil {
			if name, ok := zoneNames[*record.ZoneID]; ok {
				zoneName = name
			}
		}
		cameraName := "Unknown"
		if record.CameraID != nil {
			if name, ok := cameraNames[*record.CameraID]; ok {
				cameraName = name
			}
		}
		densityStr := ""
		if record.DensityPct != nil {
			densityStr = strconv.FormatFloat(*record.DensityPct, 'f', 2, 64)
		}
		_ = w.Write([]string{
			record.Timestamp.UTC().Format(time.RFC3339),
			zoneName,
			cameraName,
			strconv.Itoa(record.PersonCount),
			densityStr,
		})
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("writing csv: %w", err)
	}
	return buf.String(), nil
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
