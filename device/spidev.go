// Package device implements the SPI driver object and the register
// access engine built on a single duplex transfer primitive.
package device

import (
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/multierr"
	"lautenbacher.net/regbus/transport"
)

// Wire convention of the peripheral family: the first byte of every
// transfer is the register address combined with a direction flag.
const (
	DirRead  byte = 0x80
	DirWrite byte = 0x00

	MaxAddress byte = 0x7f

	DefaultVerifyAttempts = 5
)

// Config describes how a device reaches its bus.
type Config struct {
	Bus            string
	BusConfig      transport.BusConfig
	VerifyAttempts int
}

// DefaultConfig returns the default bus settings with the default
// verify budget.
func DefaultConfig(bus string) Config {
	return Config{
		Bus:            bus,
		BusConfig:      transport.DefaultBusConfig(),
		VerifyAttempts: DefaultVerifyAttempts,
	}
}

// SPIDevice is one peripheral attached to one bus. It owns its transport
// connection between Start and Stop. All operations are serialized on
// the device, a verified write holds the lock for its whole retry loop.
type SPIDevice struct {
	name   string
	opener transport.Opener
	logger *slog.Logger

	mu   sync.Mutex
	cfg  Config
	conn transport.Conn
}

// New returns a stopped device. A VerifyAttempts below one is replaced
// with DefaultVerifyAttempts and a nil logger with slog.Default().
func New(name string, opener transport.Opener, cfg Config, logger *slog.Logger) *SPIDevice {
	if cfg.VerifyAttempts < 1 {
		cfg.VerifyAttempts = DefaultVerifyAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SPIDevice{
		name:   name,
		opener: opener,
		logger: logger.With("device", name),
		cfg:    cfg,
	}
}

// Name returns "" on a nil device so that registering one fails cleanly.
func (d *SPIDevice) Name() string {
	if d == nil {
		return ""
	}
	return d.name
}

// Config returns the current configuration including frequency changes
// made through SetBusFrequency.
func (d *SPIDevice) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

func (d *SPIDevice) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn != nil
}

// Start opens and configures the bus.
func (d *SPIDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn != nil {
		return ErrAlreadyStarted
	}
	conn, err := d.opener.Open(d.cfg.Bus)
	if err != nil {
		return fmt.Errorf("%w: open %q: %w", ErrTransportFailure, d.cfg.Bus, err)
	}
	if err := conn.Configure(d.cfg.BusConfig); err != nil {
		err = multierr.Append(err, conn.Close())
		return fmt.Errorf("%w: configure %q: %w", ErrTransportFailure, d.cfg.Bus, err)
	}
	d.conn = conn
	d.logger.Info("Started SPI device", "bus", d.cfg.Bus, "config", d.cfg.BusConfig.String())
	return nil
}

// Stop releases the bus. Stopping a stopped device is a no-op.
func (d *SPIDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	if err != nil {
		return fmt.Errorf("%w: close %q: %w", ErrTransportFailure, d.cfg.Bus, err)
	}
	d.logger.Info("Stopped SPI device", "bus", d.cfg.Bus)
	return nil
}

// ReadRegister returns the value of a single register.
func (d *SPIDevice) ReadRegister(addr byte) (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ready(addr); err != nil {
		return 0, err
	}
	return d.readReg(addr)
}

// WriteRegister writes a single register without verification.
func (d *SPIDevice) WriteRegister(addr, value byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ready(addr); err != nil {
		return err
	}
	return d.writeReg(addr, value)
}

// WriteRegisters writes payload to consecutive registers starting at addr
// in a single transfer.
func (d *SPIDevice) WriteRegisters(addr byte, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ready(addr); err != nil {
		return err
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidArgument)
	}
	return d.writeRegs(addr, payload)
}

// WriteRegisterVerified writes value and reads it back, retrying until
// the read back matches or VerifyAttempts write+read pairs were spent.
func (d *SPIDevice) WriteRegisterVerified(addr, value byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ready(addr); err != nil {
		return err
	}

	var lastErr error
	var readback byte
	haveReadback := false
	for attempt := 1; attempt <= d.cfg.VerifyAttempts; attempt++ {
		if err := d.writeReg(addr, value); err != nil {
			lastErr = err
			continue
		}
		got, err := d.readReg(addr)
		if err != nil {
			lastErr = err
			continue
		}
		readback, haveReadback = got, true
		if got == value {
			if attempt > 1 {
				d.logger.Debug("SPI write verified after retry", "address", hex(addr), "attempts", attempt)
			}
			return nil
		}
		lastErr = fmt.Errorf("read back %s, want %s", hex(got), hex(value))
	}

	attrs := []any{"address", hex(addr), "value", hex(value)}
	// Without a successful read there is no read back to report.
	if haveReadback {
		attrs = append(attrs, "readback", hex(readback))
	}
	attrs = append(attrs, "attempts", d.cfg.VerifyAttempts, "error", lastErr)
	d.logger.Error("SPI write verify failed", attrs...)
	return fmt.Errorf("%w: register %s after %d attempts: %v", ErrVerificationFailed, hex(addr), d.cfg.VerifyAttempts, lastErr)
}

// BulkRead reads length consecutive registers starting at addr in a
// single transfer.
func (d *SPIDevice) BulkRead(addr byte, length int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ready(addr); err != nil {
		return nil, err
	}
	if length < 1 {
		return nil, fmt.Errorf("%w: length %d must be at least 1", ErrInvalidArgument, length)
	}
	tx, rx := frame(length + 1)
	tx[0] = addr | DirRead
	if err := d.xfer(tx, rx); err != nil {
		return nil, fmt.Errorf("bulk read %s: %w", hex(addr), err)
	}
	// rx[0] is the command echo.
	return rx[1:], nil
}

// ModifyRegister clears the bits of clearMask and sets the bits of
// setMask. Nothing is written when the read fails.
func (d *SPIDevice) ModifyRegister(addr, clearMask, setMask byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ready(addr); err != nil {
		return err
	}
	val, err := d.readReg(addr)
	if err != nil {
		return err
	}
	val &^= clearMask
	val |= setMask
	return d.writeReg(addr, val)
}

// Transfer exchanges the first length bytes of w and r as they are, for
// commands that do not follow the register framing.
func (d *SPIDevice) Transfer(w, r []byte, length int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return ErrNotStarted
	}
	if length < 1 || len(w) < length || len(r) < length {
		return fmt.Errorf("%w: length %d with buffers of %d and %d bytes", ErrInvalidArgument, length, len(w), len(r))
	}
	return d.xfer(w[:length], r[:length])
}

// SetBusFrequency changes the clock rate for subsequent transfers.
func (d *SPIDevice) SetBusFrequency(hz int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return ErrNotStarted
	}
	if hz <= 0 {
		return fmt.Errorf("%w: frequency %dHz", ErrInvalidArgument, hz)
	}
	if err := d.conn.SetFrequency(hz); err != nil {
		return fmt.Errorf("%w: %w", ErrTransportFailure, err)
	}
	d.cfg.BusConfig.Frequency = hz
	return nil
}

// SetLoopbackMode always fails: loopback self test needs hardware support
// the SPI binding does not have.
func (d *SPIDevice) SetLoopbackMode(enable bool) error {
	d.logger.Error("Attempt to set loopback mode in software fails", "enable", enable)
	return fmt.Errorf("%w: loopback mode", ErrUnsupportedOperation)
}

func (d *SPIDevice) ready(addr byte) error {
	if d.conn == nil {
		return ErrNotStarted
	}
	if addr > MaxAddress {
		return fmt.Errorf("%w: address %s above %s", ErrInvalidArgument, hex(addr), hex(MaxAddress))
	}
	return nil
}

func (d *SPIDevice) readReg(addr byte) (byte, error) {
	tx, rx := frame(2)
	tx[0] = addr | DirRead
	if err := d.xfer(tx, rx); err != nil {
		return 0, fmt.Errorf("read register %s: %w", hex(addr), err)
	}
	return rx[1], nil
}

func (d *SPIDevice) writeReg(addr, value byte) error {
	tx, rx := frame(2)
	tx[0] = addr | DirWrite
	tx[1] = value
	if err := d.xfer(tx, rx); err != nil {
		return fmt.Errorf("write register %s: %w", hex(addr), err)
	}
	return nil
}

func (d *SPIDevice) writeRegs(addr byte, payload []byte) error {
	tx, rx := frame(len(payload) + 1)
	tx[0] = addr | DirWrite
	copy(tx[1:], payload)
	if err := d.xfer(tx, rx); err != nil {
		return fmt.Errorf("write registers %s: %w", hex(addr), err)
	}
	return nil
}

func (d *SPIDevice) xfer(tx, rx []byte) error {
	if err := d.conn.Transfer(tx, rx); err != nil {
		return fmt.Errorf("%w: %w", ErrTransportFailure, err)
	}
	return nil
}

// frame returns the tx and rx halves of one n+n byte buffer.
func frame(n int) (tx, rx []byte) {
	buf := make([]byte, 2*n)
	return buf[:n:n], buf[n:]
}

func hex(b byte) string {
	return fmt.Sprintf("0x%02x", b)
}
