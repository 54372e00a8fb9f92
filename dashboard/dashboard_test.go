package dashboard

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crowd-density/common"
	"crowd-density/store"
)

func testService(t *testing.T) (*Service, *store.DataStore) {
	t.Helper()
	ds, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	return NewService(ds), ds
}

func seedZone(t *testing.T, ds *store.DataStore, name string) *store.Zone {
	t.Helper()
	zone := &store.Zone{Name: name, MaxCapacity: 100, ThresholdWarning: 50, ThresholdCritical: 80}
	require.NoError(t, ds.CreateZone(zone))
	return zone
}

func seedDetection(t *testing.T, ds *store.DataStore, zone *store.Zone, at time.Time, count int) {
	t.Helper()
	density := float64(count)
	require.NoError(t, ds.SaveDetection(&store.DetectionRecord{
		UploadID:    "job",
		ZoneID:      &zone.ID,
		Timestamp:   at,
		PersonCount: count,
		DensityPct:  &density,
	}))
}

func TestDelta(t *testing.T) {
	assert.Equal(t, 0.0, Delta(5, 0))
	assert.Equal(t, 0.0, Delta(0, 0))
	assert.InDelta(t, 100.0, Delta(10, 5), 1e-9)
	assert.InDelta(t, -50.0, Delta(5, 10), 1e-9)
}

func TestMetricsWindow(t *testing.T) {
	svc, ds := testService(t)
	zone := seedZone(t, ds, "Hall")
	end := time.Now()

	// Current window: 30 people; previous window: 20.
	seedDetection(t, ds, zone, end.Add(-30*time.Minute), 30)
	seedDetection(t, ds, zone, end.Add(-90*time.Minute), 20)

	metrics, err := svc.MetricsWindow(end, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(30), metrics.TotalAttendance)
	assert.InDelta(t, 50.0, metrics.AttendanceDelta, 0.1)
	assert.InDelta(t, 30.0, metrics.AvgDensity, 0.1)
	assert.Equal(t, "0/0", metrics.ActiveCameras)
	assert.Equal(t, "Offline", metrics.CamerasStatus)
}

func TestMetricsWindowEmptyPrevious(t *testing.T) {
	svc, ds := testService(t)
	zone := seedZone(t, ds, "Hall")
	end := time.Now()

	seedDetection(t, ds, zone, end.Add(-10*time.Minute), 5)

	metrics, err := svc.MetricsWindow(end, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(5), metrics.TotalAttendance)
	assert.Equal(t, 0.0, metrics.AttendanceDelta)
	assert.Equal(t, 0.0, metrics.DensityDelta)
}

func TestMetricsWindowAlertsHistorical(t *testing.T) {
	svc, ds := testService(t)
	zone := seedZone(t, ds, "Hall")
	end := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Open at end, resolved only afterwards: active as of end and new in window.
	resolved := end.Add(20 * time.Minute)
	require.NoError(t, ds.CreateAlert(&store.Alert{
		ZoneID: zone.ID, Severity: common.SeverityWarning, Message: "spanning",
		Status: common.AlertResolved, CreatedAt: end.Add(-30 * time.Minute), ResolvedAt: &resolved,
	}))
	// Resolved well before end: neither active nor new.
	earlier := end.Add(-2 * time.Hour)
	require.NoError(t, ds.CreateAlert(&store.Alert{
		ZoneID: zone.ID, Severity: common.SeverityWarning, Message: "old",
		Status: common.AlertResolved, CreatedAt: end.Add(-3 * time.Hour), ResolvedAt: &earlier,
	}))
	// Opened after end, still open: invisible to the historical window.
	require.NoError(t, ds.CreateAlert(&store.Alert{
		ZoneID: zone.ID, Severity: common.SeverityCritical, Message: "later",
		CreatedAt: end.Add(5 * time.Minute),
	}))

	metrics, err := svc.MetricsWindow(end, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), metrics.ActiveAlerts)
	assert.Equal(t, int64(1), metrics.NewAlerts)
}

func TestHeatmapLevels(t *testing.T) {
	svc, ds := testService(t)
	calm := seedZone(t, ds, "Calm")
	busy := seedZone(t, ds, "Busy")
	packed := seedZone(t, ds, "Packed")
	seedZone(t, ds, "Empty")
	now := time.Now()

	seedDetection(t, ds, calm, now, 10)
	seedDetection(t, ds, busy, now, 55)
	seedDetection(t, ds, packed, now, 90)

	heatmap, err := svc.Heatmap()
	require.NoError(t, err)
	require.Len(t, heatmap, 4)

	levels := make(map[string]string)
	for _, hz := range heatmap {
		levels[hz.ZoneName] = hz.Level
	}
	assert.Equal(t, "low", levels["Calm"])
	assert.Equal(t, "high", levels["Busy"])
	assert.Equal(t, "crit", levels["Packed"])
	assert.Equal(t, "empty", levels["Empty"])
}

func TestZoneStatsWindow(t *testing.T) {
	svc, ds := testService(t)
	zone := seedZone(t, ds, "Hall")
	end := time.Now()

	seedDetection(t, ds, zone, end.Add(-40*time.Minute), 30)
	seedDetection(t, ds, zone, end.Add(-20*time.Minute), 70)

	stats, err := svc.ZoneStatsWindow(end, time.Hour)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.InDelta(t, 50.0, stats[0].AvgDensity, 0.1)
	assert.NotEqual(t, "N/A", stats[0].PeakTime)
	assert.Equal(t, "Warning", stats[0].Status)
}

func TestZoneStatsWindowNoData(t *testing.T) {
	svc, ds := testService(t)
	seedZone(t, ds, "Quiet")

	stats, err := svc.ZoneStatsWindow(time.Now(), time.Hour)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "N/A", stats[0].PeakTime)
	assert.Equal(t, "Normal", stats[0].Status)
}

func TestDensityTrendsGroupedByZone(t *testing.T) {
	svc, ds := testService(t)
	hall := seedZone(t, ds, "Hall")
	lobby := seedZone(t, ds, "Lobby")
	end := time.Now()

	seedDetection(t, ds, hall, end.Add(-30*time.Minute), 40)
	seedDetection(t, ds, lobby, end.Add(-30*time.Minute), 20)

	trends, err := svc.DensityTrends(end, 2*time.Hour, 0)
	require.NoError(t, err)
	assert.Len(t, trends, 2)
	assert.NotEmpty(t, trends["Hall"])
	assert.NotEmpty(t, trends["Lobby"])

	only, err := svc.DensityTrends(end, 2*time.Hour, hall.ID)
	require.NoError(t, err)
	assert.Len(t, only, 1)
	assert.NotEmpty(t, only["Hall"])
}

func TestExportCSV(t *testing.T) {
	svc, ds := testService(t)
	zone := seedZone(t, ds, "Hall")
	camera := &store.Camera{Name: "Cam 1", ZoneID: &zone.ID, Active: true}
	require.NoError(t, ds.CreateCamera(camera))
	end := time.Now()

	density := 25.0
	require.NoError(t, ds.SaveDetection(&store.DetectionRecord{
		UploadID:    "job",
		ZoneID:      &zone.ID,
		CameraID:    &camera.ID,
		Timestamp:   end.Add(-10 * time.Minute),
		PersonCount: 25,
		DensityPct:  &density,
	}))

	csvData, err := svc.ExportCSV(end, time.Hour)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(csvData), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Timestamp,Zone,Camera,Person Count,Density Percentage", lines[0])
	assert.Contains(t, lines[1], "Hall")
	assert.Contains(t, lines[1], "Cam 1")
	assert.Contains(t, lines[1], "25")
}

func TestExportCSVEmptyWindow(t *testing.T) {
	svc, _ := testService(t)

	csvData, err := svc.ExportCSV(time.Now(), time.Hour)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(csvData), "\n")
	assert.Len(t, lines, 1)
}
