package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"lautenbacher.net/regbus/config"
	"lautenbacher.net/regbus/logging"
	"lautenbacher.net/regbus/monitor"
	"lautenbacher.net/regbus/registry"
	"lautenbacher.net/regbus/transport"
	"lautenbacher.net/regbus/util"
)

const (
	flagConfig  = "config"
	flagMonitor = "monitor"
	flagHTTP    = "http"
	flagVerify  = "verify"
)

func main() {
	if err := newCLI(transport.DefaultOpeners).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "regbus:", err)
		os.Exit(1)
	}
}

// newCLI builds the command line app. openers is called once per command
// so every invocation gets fresh transports.
func newCLI(openers func() transport.Openers) *cli.App {
	return &cli.App{
		Name:  "regbus",
		Usage: "access registers of SPI peripherals",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Value:   config.CONFILE,
				Usage:   "path to the config file",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "start all devices and keep them up until interrupted",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: flagMonitor, Usage: "show the register monitor"},
					&cli.StringFlag{Name: flagHTTP, Usage: "serve the runtime config API on this address"},
				},
				Action: func(c *cli.Context) error {
					return runAction(c, openers())
				},
			},
			{
				Name:      "read",
				Usage:     "read one register",
				ArgsUsage: "DEVICE ADDR",
				Action: func(c *cli.Context) error {
					return withDevice(c, openers(), 2, func(reg *registry.Registry, h registry.Handle, args []string) error {
						addr, err := parseByte(args[1])
						if err != nil {
							return err
						}
						v, err := reg.ReadRegister(h, addr)
						if err != nil {
							return err
						}
						fmt.Fprintf(c.App.Writer, "0x%02x\n", v)
						return nil
					})
				},
			},
			{
				Name:      "write",
				Usage:     "write one register",
				ArgsUsage: "DEVICE ADDR VALUE",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: flagVerify, Usage: "read back and retry until the value sticks"},
				},
				Action: func(c *cli.Context) error {
					return withDevice(c, openers(), 3, func(reg *registry.Registry, h registry.Handle, args []string) error {
						addr, err := parseByte(args[1])
						if err != nil {
							return err
						}
						value, err := parseByte(args[2])
						if err != nil {
							return err
						}
						if c.Bool(flagVerify) {
							return reg.WriteRegisterVerified(h, addr, value)
						}
						return reg.WriteRegister(h, addr, value)
					})
				},
			},
			{
				Name:      "modify",
				Usage:     "clear and set bits of one register",
				ArgsUsage: "DEVICE ADDR CLEAR SET",
				Action: func(c *cli.Context) error {
					return withDevice(c, openers(), 4, func(reg *registry.Registry, h registry.Handle, args []string) error {
						vals := make([]byte, 3)
						for i := range vals {
							v, err := parseByte(args[i+1])
							if err != nil {
								return err
							}
							vals[i] = v
						}
						if err := reg.ModifyRegister(h, vals[0], vals[1], vals[2]); err != nil {
							return err
						}
						v, err := reg.ReadRegister(h, vals[0])
						if err != nil {
							return err
						}
						fmt.Fprintf(c.App.Writer, "0x%02x\n", v)
						return nil
					})
				},
			},
			{
				Name:      "dump",
				Usage:     "read consecutive registers",
				ArgsUsage: "DEVICE ADDR LEN",
				Action: func(c *cli.Context) error {
					return withDevice(c, openers(), 3, func(reg *registry.Registry, h registry.Handle, args []string) error {
						addr, err := parseByte(args[1])
						if err != nil {
							return err
						}
						length, err := strconv.ParseInt(args[2], 0, 32)
						if err != nil {
							return errors.Errorf("invalid length %q", args[2])
						}
						data, err := reg.BulkRead(h, addr, int(length))
						if err != nil {
							return err
						}
						fmt.Fprint(c.App.Writer, hexDump(addr, data))
						return nil
					})
				},
			},
			{
				Name:  "list",
				Usage: "list configured devices",
				Action: func(c *cli.Context) error {
					conf, err := config.ReadConfig(c.String(flagConfig))
					if err != nil {
						return err
					}
					for _, name := range conf.DeviceNames() {
						d := conf.Devices[name]
						fmt.Fprintf(c.App.Writer, "%-12s %-7s %-18s %s\n", name, d.Transport, d.Bus, d.BusConfig())
					}
					return nil
				},
			},
		},
	}
}

// setup reads the config and initialises logging.
func setup(c *cli.Context) (config.Config, error) {
	conf, err := config.ReadConfig(c.String(flagConfig))
	if err != nil {
		return config.Config{}, err
	}
	if err := logging.Init(conf.Logging); err != nil {
		return config.Config{}, errors.Wrap(err, "can't initialise logging")
	}
	return conf, nil
}

// withDevice brings up the device named by the first argument, runs fn
// and stops the device again.
func withDevice(c *cli.Context, openers transport.Openers, nargs int, fn func(*registry.Registry, registry.Handle, []string) error) (err error) {
	args := c.Args().Slice()
	if len(args) != nargs {
		return errors.Errorf("%s needs %d arguments: %s", c.Command.Name, nargs, c.Command.ArgsUsage)
	}
	conf, err := setup(c)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, logging.Close()) }()

	app, err := NewApp(conf, openers, args[0])
	if err != nil {
		return err
	}
	h, err := app.Handle(args[0])
	if err != nil {
		return err
	}
	if err := app.Start(); err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, app.Stop()) }()
	return fn(app.Registry(), h, args)
}

func runAction(c *cli.Context, openers transport.Openers) (err error) {
	showMonitor := c.Bool(flagMonitor)
	conf, err := setup(c)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, logging.Close()) }()

	app, err := NewApp(conf, openers)
	if err != nil {
		return err
	}
	if err := app.Start(); err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, app.Stop()) }()

	watcher, err := config.NewWatcher(conf.Configfile, app.Reload)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, watcher.Close()) }()

	if addr := c.String(flagHTTP); addr != "" {
		srv := startAPI(addr, conf.Configfile)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			err = multierr.Append(err, srv.Shutdown(ctx))
		}()
	}

	ossignal := make(chan os.Signal, 1)
	signal.Notify(ossignal, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(ossignal)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	if showMonitor {
		viewer := monitor.NewViewer(ossignal)
		sampler := monitor.NewSampler(app.Registry(), app.Windows(), conf.Monitor.History)
		snapshots := util.NewLatest[monitor.Snapshot]()
		// The TUI owns the terminal from here on.
		logging.Hold()
		wg.Add(3)
		go viewer.Start(stop, &wg)
		go viewer.Follow(snapshots, stop, &wg)
		go sampler.Run(conf.Monitor.PollDelay, stop, &wg, snapshots)
	}

	sig := <-ossignal
	slog.Info("Received signal, shutting down", "signal", sig.String())
	close(stop)
	wg.Wait()
	if showMonitor {
		return logging.Release(os.Stderr)
	}
	return nil
}

func startAPI(addr, cfile string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/config", config.ConfigHandler(cfile))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		slog.Info("Serving runtime config API", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Runtime config API failed", "error", err)
		}
	}()
	return srv
}

// parseByte accepts Go integer literals such as 0x6B or 107.
func parseByte(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, errors.Errorf("invalid byte value %q", s)
	}
	return byte(v), nil
}

// hexDump renders data as lines of eight registers prefixed with the
// address of the first one.
func hexDump(start byte, data []byte) string {
	var buf strings.Builder
	for i := 0; i < len(data); i += 8 {
		end := min(i+8, len(data))
		fmt.Fprintf(&buf, "0x%02x:", (int(start)+i)&0x7f)
		for _, b := range data[i:end] {
			fmt.Fprintf(&buf, " %02x", b)
		}
		buf.WriteString("\n")
	}
	return buf.String()
}
