// Package transport defines the blocking duplex-transfer primitive the
// register engine is built on, plus the bus backends that provide it.
package transport

import (
	"errors"
	"fmt"
)

// Mode is the SPI clock mode. CPOL is the high order bit, CPHA the low
// order bit.
type Mode uint8

const (
	Mode0 Mode = iota
	Mode1
	Mode2
	Mode3
)

// BitOrder is the bit justification of each transferred word.
type BitOrder uint8

const (
	MSBFirst BitOrder = iota
	LSBFirst
)

func (o BitOrder) String() string {
	if o == LSBFirst {
		return "lsb-first"
	}
	return "msb-first"
}

// Default bus settings of the supported peripheral family.
const (
	DefaultMode        = Mode3
	DefaultBitsPerWord = 8
	DefaultFrequency   = 1000000
)

// ErrLengthMismatch is returned when tx and rx of a transfer differ in size.
var ErrLengthMismatch = errors.New("tx and rx buffers differ in length")

// BusConfig holds the parameters applied to a bus when it is configured.
type BusConfig struct {
	Mode        Mode
	BitsPerWord int
	BitOrder    BitOrder
	Frequency   int64 // Hz
}

// DefaultBusConfig returns mode 3, 8 bit words, MSB first at 1MHz.
func DefaultBusConfig() BusConfig {
	return BusConfig{
		Mode:        DefaultMode,
		BitsPerWord: DefaultBitsPerWord,
		BitOrder:    MSBFirst,
		Frequency:   DefaultFrequency,
	}
}

func (c BusConfig) String() string {
	return fmt.Sprintf("mode%d/%dbit/%s/%dHz", c.Mode, c.BitsPerWord, c.BitOrder, c.Frequency)
}

// Opener opens the bus identified by bus. The meaning of the identifier
// is backend specific (a spidev path, "0" for SPI0, a simulator name).
type Opener interface {
	Open(bus string) (Conn, error)
}

// Conn is an open duplex transport owned by exactly one driver object.
type Conn interface {
	// Configure applies mode, word size, bit order and clock frequency.
	Configure(cfg BusConfig) error

	// SetFrequency changes the clock rate for subsequent transfers.
	SetFrequency(hz int64) error

	// Transfer clocks out tx and fills rx with the bytes clocked in.
	// len(tx) must equal len(rx).
	Transfer(tx, rx []byte) error

	// Close releases the bus.
	Close() error
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(bus string) (Conn, error)

func (f OpenerFunc) Open(bus string) (Conn, error) {
	return f(bus)
}

// Openers maps backend names as used in the config file to openers.
type Openers map[string]Opener

// DefaultOpeners returns the hardware backends and a fresh simulator hub.
func DefaultOpeners() Openers {
	return Openers{
		"periph": &Periph{},
		"rpio":   &Rpio{},
		"sim":    NewSimHub(),
	}
}

// Get returns the opener registered under name.
func (o Openers) Get(name string) (Opener, error) {
	op, ok := o[name]
	if !ok {
		return nil, fmt.Errorf("unknown transport %q", name)
	}
	return op, nil
}

func checkLengths(tx, rx []byte) error {
	if len(tx) != len(rx) {
		return fmt.Errorf("%w: tx %d, rx %d", ErrLengthMismatch, len(tx), len(rx))
	}
	return nil
}
