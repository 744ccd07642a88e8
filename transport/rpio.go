package transport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"
	"go.uber.org/multierr"
)

// Rpio drives the BCM283x SPI controllers through go-rpio. The bus
// identifier has the form "<dev>.<chip>" with an optional "spi" prefix,
// e.g. "0.0" or "spi0.1".
//
// go-rpio keeps the controller settings globally, so every transfer
// re-applies the settings of its conn under one package lock.
type Rpio struct{}

var (
	rpioMutex sync.Mutex
	rpioUsers int
	rpioBegun = map[rpio.SpiDev]int{}
)

var rpioDevs = map[int]rpio.SpiDev{
	0: rpio.Spi0,
	1: rpio.Spi1,
	2: rpio.Spi2,
}

func parseRpioBus(bus string) (rpio.SpiDev, uint8, error) {
	s := strings.TrimPrefix(strings.ToLower(bus), "spi")
	devStr, chipStr, found := strings.Cut(s, ".")
	if !found {
		chipStr = "0"
	}
	devNum, err := strconv.Atoi(devStr)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid rpio bus %q: %w", bus, err)
	}
	dev, ok := rpioDevs[devNum]
	if !ok {
		return 0, 0, fmt.Errorf("invalid rpio bus %q: device must be between 0 and 2", bus)
	}
	chip, err := strconv.ParseUint(chipStr, 10, 8)
	if err != nil || chip > 2 {
		return 0, 0, fmt.Errorf("invalid rpio bus %q: chip select must be between 0 and 2", bus)
	}
	return dev, uint8(chip), nil
}

func (r *Rpio) Open(bus string) (Conn, error) {
	dev, chip, err := parseRpioBus(bus)
	if err != nil {
		return nil, err
	}

	rpioMutex.Lock()
	defer rpioMutex.Unlock()

	if rpioUsers == 0 {
		if err := rpio.Open(); err != nil {
			return nil, fmt.Errorf("failed to open rpio: %w", err)
		}
	}
	if rpioBegun[dev] == 0 {
		if err := rpio.SpiBegin(dev); err != nil {
			if rpioUsers == 0 {
				err = multierr.Append(err, rpio.Close())
			}
			return nil, fmt.Errorf("failed to begin spi: %w", err)
		}
	}
	rpioUsers++
	rpioBegun[dev]++
	return &rpioConn{dev: dev, chip: chip, cfg: DefaultBusConfig()}, nil
}

type rpioConn struct {
	dev    rpio.SpiDev
	chip   uint8
	cfg    BusConfig
	closed bool
}

func (c *rpioConn) Configure(cfg BusConfig) error {
	if cfg.BitsPerWord != 8 {
		return fmt.Errorf("rpio supports 8 bits per word only, got %d", cfg.BitsPerWord)
	}
	if cfg.BitOrder != MSBFirst {
		return errors.New("rpio supports msb-first bit order only")
	}
	if cfg.Mode > Mode3 {
		return fmt.Errorf("spi mode must be between 0 and 3, got %d", cfg.Mode)
	}
	c.cfg = cfg
	return nil
}

func (c *rpioConn) SetFrequency(hz int64) error {
	c.cfg.Frequency = hz
	return nil
}

func (c *rpioConn) Transfer(tx, rx []byte) error {
	if err := checkLengths(tx, rx); err != nil {
		return err
	}
	rpioMutex.Lock()
	defer rpioMutex.Unlock()

	if c.closed {
		return errors.New("rpio conn is closed")
	}
	rpio.SpiChipSelect(c.chip)
	rpio.SpiMode(uint8(c.cfg.Mode>>1), uint8(c.cfg.Mode&1))
	rpio.SpiSpeed(int(c.cfg.Frequency))

	// SpiExchange works in place.
	copy(rx, tx)
	rpio.SpiExchange(rx)
	return nil
}

func (c *rpioConn) Close() error {
	rpioMutex.Lock()
	defer rpioMutex.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	rpioBegun[c.dev]--
	if rpioBegun[c.dev] == 0 {
		rpio.SpiEnd(c.dev)
	}
	rpioUsers--
	if rpioUsers == 0 {
		return rpio.Close()
	}
	return nil
}
