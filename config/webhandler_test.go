package config

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigHandler_Get(t *testing.T) {
	cfile := writeConfig(t, fullConfig)
	handler := ConfigHandler(cfile)

	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var got RuntimeConfig
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, int64(4000000), got.Devices["imu"].Frequency)
	assert.Equal(t, int64(1000000), got.Devices["adc"].Frequency)
}

func TestConfigHandler_SetValidation(t *testing.T) {
	tests := []struct {
		name         string
		payload      string
		wantStatus   int
		wantErrorMsg string
		shouldModify bool
	}{
		{
			name:         "Valid Update",
			payload:      `{"Devices":{"imu":{"Frequency":8000000}}}`,
			wantStatus:   http.StatusOK,
			shouldModify: true,
		},
		{
			name:         "Zero Frequency",
			payload:      `{"Devices":{"imu":{"Frequency":0}}}`,
			wantStatus:   http.StatusBadRequest,
			wantErrorMsg: "Frequency must be between 100 and 1000000000",
		},
		{
			name:         "Frequency Above Limit",
			payload:      `{"Devices":{"imu":{"Frequency":2000000000}}}`,
			wantStatus:   http.StatusBadRequest,
			wantErrorMsg: "Frequency must be between 100 and 1000000000",
		},
		{
			name:         "Unknown Device",
			payload:      `{"Devices":{"gyro":{"Frequency":8000000}}}`,
			wantStatus:   http.StatusBadRequest,
			wantErrorMsg: "unknown device gyro",
		},
		{
			name:         "Malformed JSON",
			payload:      `{"Devices":`,
			wantStatus:   http.StatusBadRequest,
			wantErrorMsg: "Invalid request body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfile := writeConfig(t, fullConfig)
			handler := ConfigHandler(cfile)

			req := httptest.NewRequest(http.MethodPost, "/api/config", bytes.NewBufferString(tt.payload))
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantErrorMsg != "" {
				assert.True(t, strings.Contains(rr.Body.String(), tt.wantErrorMsg),
					"body %q should contain %q", rr.Body.String(), tt.wantErrorMsg)
			}

			conf, err := ReadConfig(cfile)
			require.NoError(t, err, "config file must stay readable")
			imu := conf.Devices["imu"]
			if tt.shouldModify {
				assert.Equal(t, int64(8000000), imu.Frequency)
			} else {
				assert.Equal(t, int64(4000000), imu.Frequency)
			}
			// Settings outside the runtime subset survive the rewrite.
			assert.Equal(t, 3, imu.VerifyAttempts)
			require.NotNil(t, imu.Watch)
			assert.Equal(t, 6, imu.Watch.Length)
			assert.Len(t, imu.Init, 2)
			assert.Equal(t, "json", conf.Logging.Format)
		})
	}
}

func TestConfigHandler_MethodNotAllowed(t *testing.T) {
	handler := ConfigHandler(writeConfig(t, fullConfig))
	req := httptest.NewRequest(http.MethodDelete, "/api/config", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
