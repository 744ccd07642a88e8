package transport

import (
	"testing"

	"github.com/stianeikeland/go-rpio/v4"
	"github.com/stretchr/testify/assert"
)

func TestDefaultBusConfig(t *testing.T) {
	cfg := DefaultBusConfig()
	assert.Equal(t, Mode3, cfg.Mode)
	assert.Equal(t, 8, cfg.BitsPerWord)
	assert.Equal(t, MSBFirst, cfg.BitOrder)
	assert.Equal(t, int64(1000000), cfg.Frequency)
	assert.Equal(t, "mode3/8bit/msb-first/1000000Hz", cfg.String())
}

func TestOpenersGet(t *testing.T) {
	openers := DefaultOpeners()
	for _, name := range []string{"periph", "rpio", "sim"} {
		op, err := openers.Get(name)
		assert.NoError(t, err, name)
		assert.NotNil(t, op, name)
	}
	_, err := openers.Get("mraa")
	assert.ErrorContains(t, err, `unknown transport "mraa"`)
}

func TestParseRpioBus(t *testing.T) {
	tests := []struct {
		bus  string
		dev  rpio.SpiDev
		chip uint8
		err  bool
	}{
		{bus: "0", dev: rpio.Spi0, chip: 0},
		{bus: "0.1", dev: rpio.Spi0, chip: 1},
		{bus: "SPI1.2", dev: rpio.Spi1, chip: 2},
		{bus: "spi2", dev: rpio.Spi2, chip: 0},
		{bus: "3.0", err: true},
		{bus: "0.3", err: true},
		{bus: "x", err: true},
	}
	for _, tt := range tests {
		dev, chip, err := parseRpioBus(tt.bus)
		if tt.err {
			assert.Error(t, err, tt.bus)
			continue
		}
		assert.NoError(t, err, tt.bus)
		assert.Equal(t, tt.dev, dev, tt.bus)
		assert.Equal(t, tt.chip, chip, tt.bus)
	}
}

func TestRpioConfigureRejectsUnsupported(t *testing.T) {
	c := &rpioConn{cfg: DefaultBusConfig()}

	cfg := DefaultBusConfig()
	cfg.BitsPerWord = 16
	assert.Error(t, c.Configure(cfg))

	cfg = DefaultBusConfig()
	cfg.BitOrder = LSBFirst
	assert.Error(t, c.Configure(cfg))

	cfg = DefaultBusConfig()
	cfg.Mode = Mode0
	cfg.Frequency = 500000
	assert.NoError(t, c.Configure(cfg))
	assert.Equal(t, cfg, c.cfg)
}
