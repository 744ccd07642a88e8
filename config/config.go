package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
	"lautenbacher.net/regbus/transport"
)

const CONFILE = "config.yml"

// Bus clock limits in Hz, as accepted by the periph sysfs driver.
const (
	MinFrequency = 100
	MaxFrequency = 1000000000
)

// Known transport backends.
var Transports = []string{"periph", "rpio", "sim"}

type Config struct {
	Configfile string                  `yaml:"-"`
	Logging    LoggingConfig           `yaml:"Logging"`
	Monitor    MonitorConfig           `yaml:"Monitor"`
	Devices    map[string]DeviceConfig `yaml:"Devices"`
}

type LoggingConfig struct {
	Level  string `yaml:"Level"`
	Format string `yaml:"Format"`
	File   string `yaml:"File"`
}

type MonitorConfig struct {
	PollDelay time.Duration `yaml:"PollDelay"`
	History   int           `yaml:"History"`
}

type DeviceConfig struct {
	Transport      string       `yaml:"Transport"`
	Bus            string       `yaml:"Bus"`
	Mode           int          `yaml:"Mode"`
	BitsPerWord    int          `yaml:"BitsPerWord"`
	LSBFirst       bool         `yaml:"LSBFirst"`
	Frequency      int64        `yaml:"Frequency"`
	VerifyAttempts int          `yaml:"VerifyAttempts"`
	LogTransfers   bool         `yaml:"LogTransfers"`
	Init           []InitWrite  `yaml:"Init"`
	Watch          *WatchConfig `yaml:"Watch,omitempty"`
}

// InitWrite is a register write applied right after the device started.
type InitWrite struct {
	Address int  `yaml:"Address"`
	Value   int  `yaml:"Value"`
	Verify  bool `yaml:"Verify"`
}

// WatchConfig is the register window polled by the monitor.
type WatchConfig struct {
	Address int `yaml:"Address"`
	Length  int `yaml:"Length"`
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
		Monitor: MonitorConfig{
			PollDelay: 250 * time.Millisecond,
			History:   200,
		},
	}
}

func defaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		Transport:      "periph",
		Mode:           int(transport.DefaultMode),
		BitsPerWord:    transport.DefaultBitsPerWord,
		Frequency:      transport.DefaultFrequency,
		VerifyAttempts: 5,
	}
}

// UnmarshalYAML fills in the defaults for keys missing in the file.
func (d *DeviceConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain DeviceConfig
	p := plain(defaultDeviceConfig())
	if err := value.Decode(&p); err != nil {
		return err
	}
	*d = DeviceConfig(p)
	return nil
}

// BusConfig returns the transport settings of the device.
func (d DeviceConfig) BusConfig() transport.BusConfig {
	order := transport.MSBFirst
	if d.LSBFirst {
		order = transport.LSBFirst
	}
	return transport.BusConfig{
		Mode:        transport.Mode(d.Mode),
		BitsPerWord: d.BitsPerWord,
		BitOrder:    order,
		Frequency:   d.Frequency,
	}
}

// DeviceNames returns the configured device names in sorted order.
func (c Config) DeviceNames() []string {
	names := make([]string, 0, len(c.Devices))
	for name := range c.Devices {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func ReadConfig(cfile string) (Config, error) {
	f, err := os.Open(cfile)
	if err != nil {
		return Config{}, fmt.Errorf("can't find config file %s: %w", cfile, err)
	}
	defer f.Close()

	conf := defaultConfig()
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&conf); err != nil {
		return Config{}, fmt.Errorf("can't decode config file %s: %w", cfile, err)
	}
	conf.Configfile = cfile

	if err := conf.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config file %s: %w", cfile, err)
	}
	return conf, nil
}

// Validate checks the whole configuration and returns the first problem.
func (c Config) Validate() error {
	switch strings.ToUpper(c.Logging.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("Logging.Level %q must be one of DEBUG, INFO, WARN, ERROR", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("Logging.Format %q must be text or json", c.Logging.Format)
	}

	if c.Monitor.PollDelay <= 0 {
		return fmt.Errorf("Monitor.PollDelay must be positive, got %s", c.Monitor.PollDelay)
	}
	if c.Monitor.History < 1 || c.Monitor.History > 10000 {
		return fmt.Errorf("Monitor.History must be between 1 and 10000, got %d", c.Monitor.History)
	}

	if len(c.Devices) == 0 {
		return fmt.Errorf("at least one device must be configured")
	}
	for _, name := range c.DeviceNames() {
		if err := c.Devices[name].validate(); err != nil {
			return fmt.Errorf("device %s: %w", name, err)
		}
	}
	return nil
}

func (d DeviceConfig) validate() error {
	if !slices.Contains(Transports, d.Transport) {
		return fmt.Errorf("Transport %q must be one of %s", d.Transport, strings.Join(Transports, ", "))
	}
	if d.Mode < 0 || d.Mode > 3 {
		return fmt.Errorf("Mode must be between 0 and 3, got %d", d.Mode)
	}
	if d.BitsPerWord < 1 || d.BitsPerWord > 32 {
		return fmt.Errorf("BitsPerWord must be between 1 and 32, got %d", d.BitsPerWord)
	}
	if d.Transport == "rpio" && (d.BitsPerWord != 8 || d.LSBFirst) {
		return fmt.Errorf("the rpio transport supports 8 bit MSB first words only")
	}
	if d.Frequency < MinFrequency || d.Frequency > MaxFrequency {
		return fmt.Errorf("Frequency must be between %d and %d, got %d", MinFrequency, MaxFrequency, d.Frequency)
	}
	if d.VerifyAttempts < 1 || d.VerifyAttempts > 100 {
		return fmt.Errorf("VerifyAttempts must be between 1 and 100, got %d", d.VerifyAttempts)
	}
	for i, w := range d.Init {
		if err := checkAddress(w.Address); err != nil {
			return fmt.Errorf("Init[%d]: %w", i, err)
		}
		if w.Value < 0 || w.Value > 0xff {
			return fmt.Errorf("Init[%d]: Value must be between 0 and 255, got %d", i, w.Value)
		}
	}
	if d.Watch != nil {
		if err := checkAddress(d.Watch.Address); err != nil {
			return fmt.Errorf("Watch: %w", err)
		}
		if d.Watch.Length < 1 || d.Watch.Length > 64 {
			return fmt.Errorf("Watch: Length must be between 1 and 64, got %d", d.Watch.Length)
		}
	}
	return nil
}

func checkAddress(addr int) error {
	if addr < 0 || addr > 0x7f {
		return fmt.Errorf("Address must be between 0 and 127, got %d", addr)
	}
	return nil
}
