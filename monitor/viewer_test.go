package monitor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatSummary(t *testing.T) {
	summary := []RegisterStats{
		{Key: Key{Device: "imu", Address: 0x20}, Last: 0x2a, Samples: 3, Min: 40, Max: 44, Mean: 42, Median: 42, StdDev: 1.6},
		{Key: Key{Device: "imu", Address: 0x21}},
	}
	out := formatSummary(Snapshot{Registers: summary, Errors: map[string]int{"imu": 2, "adc": 0}})
	lines := strings.Split(strings.TrimSpace(out), "\n")

	assert.Len(t, lines, 4)
	assert.Contains(t, lines[0], "Device")
	assert.Contains(t, lines[1], "0x20  0x2a")
	assert.Contains(t, lines[1], "[  40|  42|  44]")
	assert.Contains(t, lines[1], "1.6")
	assert.Contains(t, lines[2], "0x21  ----")
	assert.Equal(t, "[red]read errors:[-] imu=2", lines[3])
}

func TestFormatSummaryNoErrors(t *testing.T) {
	out := formatSummary(Snapshot{Errors: map[string]int{"imu": 0}})
	assert.NotContains(t, out, "read errors")
}
