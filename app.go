package main

import (
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/multierr"
	"lautenbacher.net/regbus/config"
	"lautenbacher.net/regbus/device"
	"lautenbacher.net/regbus/monitor"
	"lautenbacher.net/regbus/registry"
	"lautenbacher.net/regbus/transport"
)

// App owns the registry built from a config file.
type App struct {
	mu      sync.Mutex
	conf    config.Config
	reg     *registry.Registry
	handles map[string]registry.Handle
}

// NewApp registers the named devices of conf, or all of them when no
// names are given. Nothing is opened until Start.
func NewApp(conf config.Config, openers transport.Openers, names ...string) (*App, error) {
	if len(names) == 0 {
		names = conf.DeviceNames()
	}
	a := &App{
		conf:    conf,
		reg:     registry.New(),
		handles: make(map[string]registry.Handle, len(names)),
	}
	for _, name := range names {
		dc, ok := conf.Devices[name]
		if !ok {
			return nil, fmt.Errorf("unknown device %s", name)
		}
		opener, err := openers.Get(dc.Transport)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", name, err)
		}
		if dc.LogTransfers {
			opener = transport.LoggedOpener(opener, slog.Default().With("device", name), slog.LevelDebug, transport.LogAll)
		}
		dev := device.New(name, opener, device.Config{
			Bus:            dc.Bus,
			BusConfig:      dc.BusConfig(),
			VerifyAttempts: dc.VerifyAttempts,
		}, slog.Default())
		h, err := a.reg.Register(dev)
		if err != nil {
			return nil, err
		}
		a.handles[name] = h
	}
	return a, nil
}

func (a *App) Registry() *registry.Registry {
	return a.reg
}

// Handle returns the handle of a registered device.
func (a *App) Handle(name string) (registry.Handle, error) {
	h, ok := a.handles[name]
	if !ok {
		return 0, fmt.Errorf("device %s is not registered", name)
	}
	return h, nil
}

// Start opens all devices and applies their init writes. On failure
// everything started so far is stopped again.
func (a *App) Start() error {
	if err := a.reg.StartAll(); err != nil {
		return multierr.Append(err, a.reg.StopAll())
	}
	if err := a.applyInit(); err != nil {
		return multierr.Append(err, a.reg.StopAll())
	}
	slog.Info("Devices started", "devices", a.reg.Names())
	return nil
}

func (a *App) Stop() error {
	slog.Info("Stopping devices", "devices", a.reg.Names())
	return a.reg.StopAll()
}

func (a *App) applyInit() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, name := range a.reg.Names() {
		h := a.handles[name]
		for _, w := range a.conf.Devices[name].Init {
			addr, value := byte(w.Address), byte(w.Value)
			var err error
			if w.Verify {
				err = a.reg.WriteRegisterVerified(h, addr, value)
			} else {
				err = a.reg.WriteRegister(h, addr, value)
			}
			if err != nil {
				return fmt.Errorf("init %s register 0x%02x: %w", name, addr, err)
			}
			slog.Debug("Init write applied", "device", name, "address", addr, "value", value, "verified", w.Verify)
		}
	}
	return nil
}

// Windows returns the monitor windows of all registered devices that
// have a Watch entry.
func (a *App) Windows() []monitor.Window {
	a.mu.Lock()
	defer a.mu.Unlock()

	var windows []monitor.Window
	for _, name := range a.reg.Names() {
		watch := a.conf.Devices[name].Watch
		if watch == nil {
			continue
		}
		windows = append(windows, monitor.Window{
			Device:  name,
			Handle:  a.handles[name],
			Address: byte(watch.Address),
			Length:  watch.Length,
		})
	}
	return windows
}

// Reload applies the runtime settings of a changed config. Everything
// else needs a restart and is only reported.
func (a *App) Reload(conf config.Config, err error) {
	if err != nil {
		slog.Error("Ignoring invalid config change", "error", err)
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, name := range conf.DeviceNames() {
		h, ok := a.handles[name]
		if !ok {
			slog.Warn("Device not running, restart to add it", "device", name)
			continue
		}
		old := a.conf.Devices[name]
		updated := conf.Devices[name]
		if updated.Frequency == old.Frequency {
			continue
		}
		if err := a.reg.SetBusFrequency(h, updated.Frequency); err != nil {
			slog.Error("Failed to change bus frequency", "device", name, "error", err)
			continue
		}
		slog.Info("Bus frequency changed", "device", name, "from", old.Frequency, "to", updated.Frequency)
		old.Frequency = updated.Frequency
		a.conf.Devices[name] = old
	}
}
