package icron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTriggerInfo_Hourly(t *testing.T) {
	ref := time.Date(2026, 5, 4, 10, 20, 0, 0, time.UTC)

	info, err := GetTriggerInfo("@hourly", ref)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 5, 4, 11, 0, 0, 0, time.UTC), info.Next)
	assert.Equal(t, time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC), info.Last)
	assert.Equal(t, 40*time.Minute, info.TimeUntilNext)
	assert.Equal(t, 20*time.Minute, info.TimeSinceLast)
	assert.Contains(t, info.String(), "@hourly next=2026-05-04T11:00:00Z")
}

func TestGetTriggerInfo_FiveFieldExpression(t *testing.T) {
	ref := time.Date(2026, 5, 4, 10, 20, 0, 0, time.UTC)

	info, err := GetTriggerInfo("30 */2 * * *", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC), info.Next)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse("every now and then")
	require.Error(t, err)
}
