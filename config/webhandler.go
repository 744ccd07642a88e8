package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigHandler routes API requests for /api/config to the appropriate handler
// based on the HTTP method.
func ConfigHandler(cfile string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			getConfigHandler(w, r, cfile)
		case http.MethodPost:
			setConfigHandler(w, r, cfile)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// getConfigHandler reads the current config file and returns the
// runtime-safe part as JSON.
func getConfigHandler(w http.ResponseWriter, r *http.Request, cfile string) {
	slog.Info("Handling GET /api/config request")
	fullConfig, err := ReadConfig(cfile)
	if err != nil {
		slog.Error("Failed to read config file for API", "error", err)
		http.Error(w, "Failed to read configuration", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(fullConfig.Runtime()); err != nil {
		slog.Error("Failed to encode runtime config to JSON", "error", err)
		http.Error(w, "Failed to serialize configuration", http.StatusInternalServerError)
	}
}

// setConfigHandler merges posted runtime settings into the config file.
// Writing the file is what makes a running instance pick them up.
func setConfigHandler(w http.ResponseWriter, r *http.Request, cfile string) {
	slog.Info("Handling POST /api/config request")
	defer r.Body.Close()

	var newRuntimeConfig RuntimeConfig
	if err := json.NewDecoder(r.Body).Decode(&newRuntimeConfig); err != nil {
		slog.Error("Failed to decode incoming JSON", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	fullConfig, err := ReadConfig(cfile)
	if err != nil {
		slog.Error("Failed to read existing config for update", "error", err)
		http.Error(w, "Failed to read configuration", http.StatusInternalServerError)
		return
	}

	for name, rc := range newRuntimeConfig.Devices {
		dev, ok := fullConfig.Devices[name]
		if !ok {
			http.Error(w, fmt.Sprintf("Invalid configuration: unknown device %s", name), http.StatusBadRequest)
			return
		}
		dev.Frequency = rc.Frequency
		fullConfig.Devices[name] = dev
	}

	if err := fullConfig.Validate(); err != nil {
		slog.Error("Validation failed for new config", "error", err)
		http.Error(w, fmt.Sprintf("Invalid configuration: %v", err), http.StatusBadRequest)
		return
	}

	yamlData, err := yaml.Marshal(&fullConfig)
	if err != nil {
		slog.Error("Failed to marshal merged config to YAML", "error", err)
		http.Error(w, "Failed to prepare configuration for saving", http.StatusInternalServerError)
		return
	}

	if err := os.WriteFile(cfile, yamlData, 0o644); err != nil {
		slog.Error("Failed to write updated config file", "error", err)
		http.Error(w, "Failed to save configuration", http.StatusInternalServerError)
		return
	}

	slog.Info("Successfully updated config file, running devices will reload.")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "Configuration updated successfully.")
}
