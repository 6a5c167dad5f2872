package scheduling

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{"00:00", 0, false},
		{"09:30", 9*60 + 30, false},
		{"23:59", 23*60 + 59, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"9:30", 0, true},
		{"09-30", 0, true},
		{"ab:cd", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestTimeOfDay_JSON(t *testing.T) {
	b, err := json.Marshal(mustTime("07:05"))
	require.NoError(t, err)
	assert.JSONEq(t, `"07:05"`, string(b))

	var got TimeOfDay
	require.NoError(t, json.Unmarshal([]byte(`"18:45"`), &got))
	assert.Equal(t, mustTime("18:45"), got)
	assert.Error(t, json.Unmarshal([]byte(`"6pm"`), &got))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, "2026-10-19", d.String())
	assert.Equal(t, time.Monday, d.Weekday())

	for _, bad := range []string{"2026/10/19", "19-10-2026", "2026-02-30", ""} {
		_, err := ParseDate(bad)
		assert.Error(t, err, bad)
	}
}

func TestDate_WeekdayConvention(t *testing.T) {
	// Stored schedules use 0 = Sunday .. 6 = Saturday, which matches time.Weekday.
	assert.Equal(t, 0, int(mustDate("2026-10-18").Weekday()))
	assert.Equal(t, 6, int(mustDate("2026-10-24").Weekday()))
}

func TestDateOf_UsesLocalCalendarDay(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	instant := time.Date(2026, time.October, 19, 21, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-10-20", DateOf(instant.In(loc)).String())
	assert.True(t, DateOf(instant).Equal(mustDate("2026-10-19")))
}

func TestDate_At(t *testing.T) {
	got := mustDate("2026-10-19").At(mustTime("09:30"), time.UTC)
	assert.Equal(t, time.Date(2026, time.October, 19, 9, 30, 0, 0, time.UTC), got)
}

func TestDate_JSON(t *testing.T) {
	b, err := json.Marshal(mustDate("2026-10-19"))
	require.NoError(t, err)
	assert.JSONEq(t, `"2026-10-19"`, string(b))

	var d Date
	require.NoError(t, json.Unmarshal([]byte(`"2026-01-02"`), &d))
	assert.Equal(t, "2026-01-02", d.String())
}

func TestParseStatus(t *testing.T) {
	st, ok := ParseStatus("IN_PROGRESS")
	assert.True(t, ok)
	assert.Equal(t, StatusInProgress, st)

	_, ok = ParseStatus("in_progress")
	assert.False(t, ok)
}

func TestStatus_Properties(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.True(t, StatusNoShow.IsTerminal())
	assert.False(t, StatusConfirmed.IsTerminal())

	assert.False(t, StatusCancelled.BlocksSlot())
	assert.True(t, StatusNoShow.BlocksSlot())
	assert.True(t, StatusScheduled.BlocksSlot())
}

func TestAppointment_JSONShape(t *testing.T) {
	a := &Appointment{Date: mustDate("2026-10-19"), Time: mustTime("09:30"), DurationMinutes: 30, Status: StatusScheduled}
	b, err := json.Marshal(a)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "2026-10-19", m["date"])
	assert.Equal(t, "09:30", m["time"])
	assert.Equal(t, "SCHEDULED", m["status"])
	assert.NotContains(t, m, "notes")
}
