package transport

import (
	"errors"
	"fmt"
	"sync"
)

// SimRegisters is the size of the simulated register file.
const SimRegisters = 128

var (
	// ErrSimFault is returned by a simulated transfer that was told to fail.
	ErrSimFault = errors.New("simulated bus fault")
	// ErrBusy is returned when a simulated bus is opened twice.
	ErrBusy = errors.New("bus already open")
	// ErrClosed is returned on use of a closed conn.
	ErrClosed = errors.New("bus closed")
)

// SimStats counts what a simulated peripheral has seen.
type SimStats struct {
	Transfers  int
	Reads      int
	Writes     int
	Failed     int
	Corrupted  int
	Configured BusConfig
	Frequency  int64
}

// SimDevice is an in-memory peripheral that follows the register wire
// convention: the first byte is address|0x80 for reads and address for
// writes, the first received byte echoes the command and the address
// auto-increments over the remaining bytes.
type SimDevice struct {
	mu            sync.Mutex
	regs          [SimRegisters]byte
	readOnly      [SimRegisters]bool
	corruptWrites int
	failTransfers int
	open          bool
	stats         SimStats
}

// NewSimDevice returns a simulated peripheral with all registers zero.
// It can be used as an Opener directly, ignoring the bus name.
func NewSimDevice() *SimDevice {
	return &SimDevice{}
}

func (d *SimDevice) Open(string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return nil, ErrBusy
	}
	d.open = true
	return &simConn{dev: d}, nil
}

// Poke sets a register without a bus transfer.
func (d *SimDevice) Poke(addr, value byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs[addr%SimRegisters] = value
}

// Peek returns a register without a bus transfer.
func (d *SimDevice) Peek(addr byte) byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs[addr%SimRegisters]
}

// CorruptWrites makes the next n write transfers store the inverted payload.
func (d *SimDevice) CorruptWrites(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.corruptWrites = n
}

// FailTransfers makes the next n transfers return ErrSimFault.
func (d *SimDevice) FailTransfers(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failTransfers = n
}

// SetReadOnly makes writes to addr have no effect.
func (d *SimDevice) SetReadOnly(addr byte, ro bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readOnly[addr%SimRegisters] = ro
}

// IsOpen reports whether a conn currently owns the device.
func (d *SimDevice) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *SimDevice) Stats() SimStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// ResetStats zeroes the counters but keeps the last configuration.
func (d *SimDevice) ResetStats() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats = SimStats{Configured: d.stats.Configured, Frequency: d.stats.Frequency}
}

func (d *SimDevice) transfer(tx, rx []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats.Transfers++
	if d.failTransfers > 0 {
		d.failTransfers--
		d.stats.Failed++
		return ErrSimFault
	}
	if len(tx) == 0 {
		return nil
	}

	cmd := tx[0]
	addr := int(cmd & 0x7f)
	rx[0] = cmd
	if cmd&0x80 != 0 {
		d.stats.Reads++
		for i := 1; i < len(tx); i++ {
			rx[i] = d.regs[(addr+i-1)%SimRegisters]
		}
		return nil
	}

	d.stats.Writes++
	corrupt := false
	if d.corruptWrites > 0 {
		d.corruptWrites--
		d.stats.Corrupted++
		corrupt = true
	}
	for i := 1; i < len(tx); i++ {
		reg := (addr + i - 1) % SimRegisters
		rx[i] = 0
		if d.readOnly[reg] {
			continue
		}
		v := tx[i]
		if corrupt {
			v = ^v
		}
		d.regs[reg] = v
	}
	return nil
}

type simConn struct {
	dev    *SimDevice
	closed bool
}

func (c *simConn) Configure(cfg BusConfig) error {
	if c.closed {
		return ErrClosed
	}
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	c.dev.stats.Configured = cfg
	c.dev.stats.Frequency = cfg.Frequency
	return nil
}

func (c *simConn) SetFrequency(hz int64) error {
	if c.closed {
		return ErrClosed
	}
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	c.dev.stats.Frequency = hz
	return nil
}

func (c *simConn) Transfer(tx, rx []byte) error {
	if c.closed {
		return ErrClosed
	}
	if err := checkLengths(tx, rx); err != nil {
		return err
	}
	return c.dev.transfer(tx, rx)
}

func (c *simConn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	c.dev.open = false
	return nil
}

// SimHub hands out one simulated peripheral per bus name.
type SimHub struct {
	mu      sync.Mutex
	devices map[string]*SimDevice
}

func NewSimHub() *SimHub {
	return &SimHub{devices: make(map[string]*SimDevice)}
}

// Device returns the peripheral attached to bus, creating it if needed.
func (h *SimHub) Device(bus string) *SimDevice {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.devices[bus]
	if !ok {
		d = NewSimDevice()
		h.devices[bus] = d
	}
	return d
}

func (h *SimHub) Open(bus string) (Conn, error) {
	conn, err := h.Device(bus).Open(bus)
	if err != nil {
		return nil, fmt.Errorf("sim bus %q: %w", bus, err)
	}
	return conn, nil
}
