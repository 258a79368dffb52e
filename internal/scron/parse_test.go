package scron

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		expr string
		want Schedule
	}{
		{"30 * * * * *", Schedule{Second: At(30)}},
		{"0 30 * * * *", Schedule{Second: At(0), Minute: At(30)}},
		{"30 * * * *", Schedule{Second: At(0), Minute: At(30)}},
		{"0 0 12 * * 1", Schedule{Second: At(0), Minute: At(0), Hour: At(12), Weekday: At(1)}},
		{"0 0 0 29 2 *", Schedule{Second: At(0), Minute: At(0), Hour: At(0), Day: At(29), Month: At(2)}},
		{"* * * * * *", Schedule{}},
		{"*/1 * * * * ?", Schedule{}},
		{"@hourly", Schedule{Second: At(0), Minute: At(0)}},
		{"@daily", Schedule{Second: At(0), Minute: At(0), Hour: At(0)}},
		{"0 0 0 * * sun", Schedule{Second: At(0), Minute: At(0), Hour: At(0), Weekday: At(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ParseSchedule(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseScheduleRejects(t *testing.T) {
	unsupported := []string{
		"*/5 * * * * *",
		"0,30 * * * * *",
		"0-10 * * * * *",
		"@every 5m",
		"CRON_TZ=Europe/Rome 0 0 * * * *",
	}
	for _, expr := range unsupported {
		t.Run(expr, func(t *testing.T) {
			_, err := ParseSchedule(expr)
			assert.ErrorIs(t, err, ErrUnsupportedSchedule)
		})
	}

	invalid := []string{"", "61 * * * * *", "not a schedule", "0 0 0 31 4 *"}
	for _, expr := range invalid {
		t.Run("invalid "+expr, func(t *testing.T) {
			_, err := ParseSchedule(expr)
			assert.ErrorIs(t, err, ErrInvalidSchedule)
		})
	}
}

func TestMustParseSchedulePanics(t *testing.T) {
	assert.Panics(t, func() { MustParseSchedule("*/5 * * * * *") })
	assert.NotPanics(t, func() { MustParseSchedule("30 * * * * *") })
}
