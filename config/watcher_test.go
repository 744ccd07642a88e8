package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	cfile := writeConfig(t, fullConfig)

	changes := make(chan Config, 16)
	w, err := NewWatcher(cfile, func(c Config, err error) {
		if err == nil {
			changes <- c
		}
	})
	require.NoError(t, err)
	defer w.Close()

	updated := strings.Replace(fullConfig, "Frequency: 4000000", "Frequency: 2000000", 1)
	require.NoError(t, os.WriteFile(cfile, []byte(updated), 0o644))

	// A write may be reported in several chunks; wait for the complete file.
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c := <-changes:
			if c.Devices["imu"].Frequency == 2000000 {
				return
			}
		case <-timeout:
			t.Fatal("timed out waiting for config reload")
		}
	}
}

func TestWatcherReportsErrors(t *testing.T) {
	cfile := writeConfig(t, fullConfig)

	errs := make(chan error, 16)
	w, err := NewWatcher(cfile, func(c Config, err error) {
		if err != nil {
			errs <- err
		}
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(cfile, []byte("Devices: {}\n"), 0o644))

	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload error")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	cfile := writeConfig(t, fullConfig)

	calls := make(chan struct{}, 16)
	w, err := NewWatcher(cfile, func(Config, error) { calls <- struct{}{} })
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(cfile+".bak", []byte("x"), 0o644))
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, w.Close())
	assert.Len(t, calls, 0)
}
