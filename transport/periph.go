package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

var (
	hostOnce sync.Once
	hostErr  error
)

// Periph opens SPI ports through the periph.io port registry. The bus
// identifier is passed to spireg.Open, so both "/dev/spidev0.0" and
// "SPI0.0" work, and "" selects the first port found.
type Periph struct{}

func (p *Periph) Open(bus string) (Conn, error) {
	hostOnce.Do(func() {
		_, hostErr = host.Init()
	})
	if hostErr != nil {
		return nil, fmt.Errorf("failed to init periph: %w", hostErr)
	}
	port, err := spireg.Open(bus)
	if err != nil {
		return nil, fmt.Errorf("failed to open spi %q: %w", bus, err)
	}
	slog.Debug("Opened spi port", "bus", bus, "port", port.String())
	return newPeriphConn(bus, port), nil
}

func newPeriphConn(bus string, port spi.PortCloser) *periphConn {
	return &periphConn{bus: bus, port: port}
}

type periphConn struct {
	bus  string
	port spi.PortCloser
	conn spi.Conn
}

// Configure connects at the port ceiling and sets the clock through
// LimitSpeed. periph clocks at the lower of the two rates, so a rate fixed
// at Connect could never be raised again.
func (c *periphConn) Configure(cfg BusConfig) error {
	if c.conn != nil {
		return errors.New("periph spi port can only be configured once")
	}
	mode := spi.Mode(cfg.Mode)
	if cfg.BitOrder == LSBFirst {
		mode |= spi.LSBFirst
	}
	conn, err := c.port.Connect(physic.GigaHertz, mode, cfg.BitsPerWord)
	if err != nil {
		return fmt.Errorf("failed to connect to spi device %q: %w", c.bus, err)
	}
	c.conn = conn
	return c.SetFrequency(cfg.Frequency)
}

func (c *periphConn) SetFrequency(hz int64) error {
	if err := c.port.LimitSpeed(physic.Frequency(hz) * physic.Hertz); err != nil {
		return fmt.Errorf("failed to set spi speed to %dHz: %w", hz, err)
	}
	return nil
}

func (c *periphConn) Transfer(tx, rx []byte) error {
	if err := checkLengths(tx, rx); err != nil {
		return err
	}
	if c.conn == nil {
		return errors.New("spi conn used before Configure")
	}
	return c.conn.Tx(tx, rx)
}

func (c *periphConn) Close() error {
	c.conn = nil
	return c.port.Close()
}
