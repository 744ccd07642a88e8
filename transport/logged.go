package transport

import (
	"context"
	"log/slog"
)

// LogOption is a bitmask selecting which transfers are logged.
type LogOption uint8

const (
	LogRead LogOption = 1 << iota
	LogWrite

	LogNone LogOption = 0
	LogAll            = LogRead | LogWrite
)

// NewLoggedConn wraps inner and logs selected transfers at level. Errors
// are always logged at error level. Reads and writes are told apart by
// the direction bit of the command byte.
func NewLoggedConn(inner Conn, logger *slog.Logger, level slog.Level, opts LogOption) Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &loggedConn{
		inner:  inner,
		logger: logger,
		level:  level,
		opts:   opts,
	}
}

type loggedConn struct {
	inner  Conn
	logger *slog.Logger
	level  slog.Level
	opts   LogOption
}

func (l *loggedConn) wants(tx []byte) bool {
	if len(tx) == 0 {
		return false
	}
	if tx[0]&0x80 != 0 {
		return l.opts&LogRead != 0
	}
	return l.opts&LogWrite != 0
}

func (l *loggedConn) Configure(cfg BusConfig) error {
	err := l.inner.Configure(cfg)
	if err != nil {
		l.logger.Error("spi configure error", "config", cfg.String(), "error", err)
	} else {
		l.logger.Log(context.Background(), l.level, "spi configure", "config", cfg.String())
	}
	return err
}

func (l *loggedConn) SetFrequency(hz int64) error {
	err := l.inner.SetFrequency(hz)
	if err != nil {
		l.logger.Error("spi set frequency error", "hz", hz, "error", err)
	} else {
		l.logger.Log(context.Background(), l.level, "spi set frequency", "hz", hz)
	}
	return err
}

func (l *loggedConn) Transfer(tx, rx []byte) error {
	err := l.inner.Transfer(tx, rx)
	if err != nil {
		l.logger.Error("spi transfer error",
			"len", len(tx),
			"tx", tx,
			"error", err,
		)
		return err
	}
	if l.wants(tx) {
		l.logger.Log(context.Background(), l.level, "spi transfer",
			"len", len(tx),
			"tx", tx,
			"rx", rx,
		)
	}
	return nil
}

func (l *loggedConn) Close() error {
	return l.inner.Close()
}

// LoggedOpener wraps every conn returned by inner with NewLoggedConn.
func LoggedOpener(inner Opener, logger *slog.Logger, level slog.Level, opts LogOption) Opener {
	if logger == nil {
		logger = slog.Default()
	}
	return OpenerFunc(func(bus string) (Conn, error) {
		conn, err := inner.Open(bus)
		if err != nil {
			return nil, err
		}
		return NewLoggedConn(conn, logger.With("bus", bus), level, opts), nil
	})
}
