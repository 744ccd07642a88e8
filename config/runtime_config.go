package config

// RuntimeConfig defines the subset of the configuration that can be
// safely modified at runtime through the web API. Bus wiring, modes and
// word sizes need a restart and are left out.
type RuntimeConfig struct {
	Devices map[string]RuntimeDeviceConfig `yaml:"Devices" json:"Devices"`
}

type RuntimeDeviceConfig struct {
	Frequency int64 `yaml:"Frequency" json:"Frequency"`
}

// Runtime extracts the runtime-safe settings of c.
func (c Config) Runtime() RuntimeConfig {
	rc := RuntimeConfig{Devices: make(map[string]RuntimeDeviceConfig, len(c.Devices))}
	for name, dev := range c.Devices {
		rc.Devices[name] = RuntimeDeviceConfig{Frequency: dev.Frequency}
	}
	return rc
}
