// Speedwire emeter emulates an SMA energy meter on the local network.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/NotCoffee418/speedwire_emeter/pkg/config"
	"github.com/NotCoffee418/speedwire_emeter/pkg/emeter"
	"github.com/NotCoffee418/speedwire_emeter/pkg/localhost"
	"github.com/NotCoffee418/speedwire_emeter/pkg/logging"
	"github.com/NotCoffee418/speedwire_emeter/pkg/measurement"
	"github.com/NotCoffee418/speedwire_emeter/pkg/scheduler"
	"github.com/NotCoffee418/speedwire_emeter/pkg/statusapi"
	"github.com/NotCoffee418/speedwire_emeter/pkg/transport"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "speedwire_emeter",
		Usage: "emulate an SMA energy meter over Speedwire",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path of the TOML configuration file",
				EnvVars: []string{"SPEEDWIRE_EMETER_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error; overrides the config file",
			},
		},
		Action: runEmulator,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "send emeter packets until interrupted (default)",
				Action: runEmulator,
			},
			{
				Name:   "dump",
				Usage:  "assemble one packet from the configured source and print it",
				Action: dumpPacket,
			},
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "speedwire_emeter:", err)
		return 1
	}
	return 0
}

// env is what every command needs before it can build a packet.
type env struct {
	cfg       *config.Config
	logger    *slog.Logger
	layout    measurement.Layout
	assembler *emeter.Assembler
}

func setup(c *cli.Context) (*env, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if level := c.String("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.New(os.Stderr, cfg.Level(), cfg.LogFormat)
	layout := measurement.NewLayout(cfg.Firmware(), cfg.Packet.IncludeFrequency)
	assembler, err := emeter.NewAssembler(emeter.Options{
		Variant: cfg.Variant(),
		Size:    cfg.PacketSize(),
		Identity: emeter.Identity{
			SusyID:       cfg.Device.SusyID,
			SerialNumber: cfg.Device.SerialNumber,
		},
		Channels: layout.Channels,
	})
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, layout: layout, assembler: assembler}, nil
}

func runEmulator(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	cfg, logger := e.cfg, e.logger

	source, err := measurement.Open(c.Context, cfg, e.layout, logger)
	if err != nil {
		return err
	}
	defer source.Close()

	dst, err := cfg.DestinationAddr()
	if err != nil {
		return err
	}
	sockets, err := transport.NewFactory(transport.Options{
		Strategy:     cfg.Transport.Strategy,
		Destination:  dst,
		MulticastTTL: cfg.Transport.MulticastTTL,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer sockets.Close()
	if err := sockets.CheckPeer(); err != nil {
		logger.Warn("destination may be unreachable", "destination", dst.String(), "error", err)
	}

	lister := localhost.System{}
	if len(cfg.Transport.Interfaces) > 0 {
		lister.Accept = cfg.UsesInterface
	}

	var status *statusapi.Server
	if cfg.Status.ListenAddress != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		status = statusapi.New(e.layout.Channels, reg, logger)
	}

	opts := scheduler.Options{
		Assembler: e.assembler,
		Source:    source,
		Addresses: lister,
		Sockets:   sockets,
		Interval:  cfg.Interval(),
		Logger:    logger,
	}
	if status != nil {
		opts.Observer = status
	}
	sched, err := scheduler.New(opts)
	if err != nil {
		return err
	}

	logger.Info("emulating energy meter",
		"serial", cfg.Device.SerialNumber,
		"susy_id", cfg.Device.SusyID,
		"source", cfg.Source.Mode,
		"strategy", cfg.Transport.Strategy,
		"destination", dst.String())

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The status API has nothing left to report once the loop ends.
		defer cancel()
		return sched.Run(gctx)
	})
	if status != nil {
		g.Go(func() error {
			return status.Serve(gctx, cfg.Status.ListenAddress)
		})
	}
	return g.Wait()
}

func dumpPacket(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}

	source, err := measurement.Open(c.Context, e.cfg, e.layout, e.logger)
	if err != nil {
		return err
	}
	defer source.Close()

	snap, err := source.Next(c.Context)
	if err != nil {
		return err
	}
	if err := e.assembler.Assemble(snap, time.Now()); err != nil {
		return err
	}
	if err := e.assembler.Verify(); err != nil {
		return err
	}

	p, err := e.assembler.Dump()
	if err != nil {
		return err
	}
	w := c.App.Writer
	fmt.Fprintf(w, "size=%d protocol=0x%04x data_length=%d susy_id=%d serial=%d timestamp=%d\n",
		p.Header.Size, p.Header.ProtocolID, p.Header.DataLength,
		p.Identity.SusyID, p.Identity.SerialNumber, p.Timestamp)
	for _, el := range p.Elements {
		fmt.Fprintln(w, el)
	}
	fmt.Fprint(w, hex.Dump(e.assembler.Bytes()))
	return nil
}
