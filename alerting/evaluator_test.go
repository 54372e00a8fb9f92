package alerting

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"crowd-density/common"
	"crowd-density/store"
)

func testEvaluator(t *testing.T) (*Evaluator, *store.DataStore, *store.Zone) {
	t.Helper()
	ds, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })

	zone := &store.Zone{
		Name:              "Main Hall",
		MaxCapacity:       100,
		ThresholdWarning:  50,
		ThresholdCritical: 80,
	}
	require.NoError(t, ds.CreateZone(zone))

	return NewEvaluator(ds, zap.NewNop()), ds, zone
}

func TestTierFor(t *testing.T) {
	zone := &store.Zone{ThresholdWarning: 50, ThresholdCritical: 80}

	assert.Equal(t, TierNormal, TierFor(0, zone))
	assert.Equal(t, TierNormal, TierFor(49.9, zone))
	assert.Equal(t, TierWarning, TierFor(50, zone))
	assert.Equal(t, TierWarning, TierFor(79.9, zone))
	assert.Equal(t, TierCritical, TierFor(80, zone))
	assert.Equal(t, TierCritical, TierFor(150, zone))
}

func TestEvaluateOpensWarning(t *testing.T) {
	eval, ds, zone := testEvaluator(t)

	result, err := eval.Evaluate(zone, 60, nil)
	require.NoError(t, err)
	assert.Equal(t, TierWarning, result.Tier)
	require.NotNil(t, result.Opened)
	assert.Equal(t, common.SeverityWarning, result.Opened.Severity)
	assert.Contains(t, result.Opened.Message, "Main Hall")

	open, err := ds.OpenAlertsForZone(zone.ID)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestEvaluateWarningIsIdempotent(t *testing.T) {
	eval, ds, zone := testEvaluator(t)

	_, err := eval.Evaluate(zone, 60, nil)
	require.NoError(t, err)
	result, err := eval.Evaluate(zone, 65, nil)
	require.NoError(t, err)
	assert.Nil(t, result.Opened)

	open, err := ds.OpenAlertsForZone(zone.ID)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestEvaluateCriticalSupersedesWarning(t *testing.T) {
	eval, ds, zone := testEvaluator(t)

	_, err := eval.Evaluate(zone, 60, nil)
	require.NoError(t, err)

	result, err := eval.Evaluate(zone, 90, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Resolved)
	require.NotNil(t, result.Opened)
	assert.Equal(t, common.SeverityCritical, result.Opened.Severity)

	open, err := ds.OpenAlertsForZone(zone.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, common.SeverityCritical, open[0].Severity)
}

func TestEvaluateNormalResolvesAll(t *testing.T) {
	eval, ds, zone := testEvaluator(t)

	_, err := eval.Evaluate(zone, 90, nil)
	require.NoError(t, err)

	result, err := eval.Evaluate(zone, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, TierNormal, result.Tier)
	assert.Equal(t, 1, result.Resolved)
	assert.Nil(t, result.Opened)

	open, err := ds.OpenAlertsForZone(zone.ID)
	require.NoError(t, err)
	assert.Empty(t, open)

	recent, err := ds.RecentAlerts(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, common.AlertResolved, recent[0].Status)
	assert.NotNil(t, recent[0].ResolvedAt)
}

func TestEvaluateCriticalWhileCriticalOpen(t *testing.T) {
	eval, ds, zone := testEvaluator(t)

	_, err := eval.Evaluate(zone, 85, nil)
	require.NoError(t, err)
	result, err := eval.Evaluate(zone, 95, nil)
	require.NoError(t, err)
	assert.Nil(t, result.Opened)
	assert.Equal(t, 0, result.Resolved)

	open, err := ds.OpenAlertsForZone(zone.ID)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

// Warning-band density while a critical alert stands keeps the critical
// alert open rather than downgrading it.
func TestEvaluateWarningKeepsCriticalOpen(t *testing.T) {
	eval, ds, zone := testEvaluator(t)

	_, err := eval.Evaluate(zone, 90, nil)
	require.NoError(t, err)
	result, err := eval.Evaluate(zone, 60, nil)
	require.NoError(t, err)
	assert.Nil(t, result.Opened)

	open, err := ds.OpenAlertsForZone(zone.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, common.SeverityCritical, open[0].Severity)
}

// A density sequence crossing warning, critical and back to normal opens
// exactly three lifecycle events: warning, critical, then a full resolve.
func TestEvaluateSequence(t *testing.T) {
	eval, ds, zone := testEvaluator(t)

	for _, density := range []float64{30, 60, 90, 40} {
		_, err := eval.Evaluate(zone, density, nil)
		require.NoError(t, err)
	}

	open, err := ds.OpenAlertsForZone(zone.ID)
	require.NoError(t, err)
	assert.Empty(t, open)

	recent, err := ds.RecentAlerts(10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	for _, alert := range recent {
		assert.Equal(t, common.AlertResolved, alert.Status)
	}
}

func TestEvaluateNeverTwoOpenPerZone(t *testing.T) {
	eval, ds, zone := testEvaluator(t)

	for _, density := range []float64{55, 85, 90, 60, 84, 20, 51} {
		_, err := eval.Evaluate(zone, density, nil)
		require.NoError(t, err)

		open, err := ds.OpenAlertsForZone(zone.ID)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(open), 1)
	}
}
