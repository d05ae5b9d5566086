// Command domed serves the W1XM dome as ASCOM Alpaca Dome and Switch devices.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/w1xm/dome_interface/alpaca"
	"github.com/w1xm/dome_interface/calib"
	"github.com/w1xm/dome_interface/dio"
	"github.com/w1xm/dome_interface/dome"
	"github.com/w1xm/dome_interface/internal/config"
	"github.com/w1xm/dome_interface/internal/logging"
	"github.com/w1xm/dome_interface/telescope"
)

func main() {
	app := &cli.App{
		Name:  "domed",
		Usage: "ASCOM Alpaca server for the W1XM dome",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration `FILE`",
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "HTTP listen address, overriding the configuration",
			},
			&cli.StringFlag{
				Name:  "calibration",
				Usage: "calibration `FILE`, overriding the configuration",
			},
			&cli.BoolFlag{
				Name:  "simulate",
				Usage: "run against a simulated dome and telescope",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "log at debug level",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := &config.Config{}
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if c.IsSet("listen") {
		cfg.Listen = c.String("listen")
	}
	if c.IsSet("calibration") {
		cfg.Calibration = c.String("calibration")
	}
	if c.Bool("simulate") {
		cfg.Board = config.BoardConfig{Simulate: true}
		if cfg.Telescope != nil {
			cfg.Telescope.Simulate = true
			cfg.Telescope.Port, cfg.Telescope.Address = "", ""
		}
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	config.Normalize(cfg)
	return cfg, nil
}

// openTelescope starts the telescope sampler if one is configured. It returns
// nil when slaving is not available.
func openTelescope(ctx context.Context, g *errgroup.Group, cfg *config.TelescopeConfig, logger *zap.SugaredLogger) (*telescope.Sampler, error) {
	if cfg == nil {
		return nil, nil
	}
	tables, err := cfg.LoadTables()
	if err != nil {
		return nil, err
	}
	var dial telescope.Dialer
	switch {
	case cfg.Simulate:
		sim := telescope.NewSimulator(logger.Named("simulator"))
		sim.Point(0, 0, telescope.PierWest)
		dial = sim.Dial()
	case cfg.Port != "":
		dial = telescope.SerialDialer(cfg.Port, cfg.Baud, cfg.Timeout())
	default:
		dial = telescope.TCPDialer(cfg.Address, cfg.Timeout())
	}
	s := telescope.NewSampler(telescope.Config{
		Dial:      dial,
		Interval:  cfg.Interval(),
		Timeout:   cfg.Timeout(),
		Longitude: cfg.Longitude,
		Tables:    tables,
	}, logger)
	g.Go(func() error {
		s.Run(ctx)
		return nil
	})
	return s, nil
}

func run(c *cli.Context) error {
	logger, err := logging.New("domed", c.Bool("debug"))
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	params, err := calib.Load(cfg.Calibration)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	// Background work outlives ctx until the dome has shut down.
	bg, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()
	bgGroup, bg := errgroup.WithContext(bg)

	board, err := dio.Open(bg, cfg.Board.DioConfig(), logger.Named("dio"))
	if err != nil {
		return fmt.Errorf("opening board: %w", err)
	}
	sampler, err := openTelescope(bg, bgGroup, cfg.Telescope, logger.Named("telescope"))
	if err != nil {
		return fmt.Errorf("opening telescope: %w", err)
	}

	var srv *alpaca.Server
	dcfg := dome.Config{
		Params:          params,
		CalibrationPath: cfg.Calibration,
		Board:           board,
		StatusCallback:  func(st dome.Status) { srv.StatusCallback(st) },
	}
	if sampler != nil {
		dcfg.Telescope = sampler
	}
	ctrl, err := dome.New(dcfg, logger.Named("dome"))
	if err != nil {
		return err
	}
	acfg := alpaca.Config{
		Name:       cfg.Name,
		Location:   cfg.Location,
		StopServer: stop,
	}
	copy(acfg.SwitchNames[:], cfg.Switches)
	srv, err = alpaca.NewServer(ctrl, acfg, logger.Named("alpaca"))
	if err != nil {
		return err
	}
	ctrl.Start()

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}
	port := ln.Addr().(*net.TCPAddr).Port
	httpSrv := &http.Server{
		Handler:      srv.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	logger.Infof("serving Alpaca on %v", ln.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.Discovery {
		pc, err := net.ListenPacket("udp", fmt.Sprintf(":%d", alpaca.DiscoveryPort))
		if err != nil {
			return fmt.Errorf("opening discovery port: %w", err)
		}
		g.Go(func() error {
			return alpaca.ServeDiscovery(gctx, pc, port, logger.Named("discovery"))
		})
	}
	if cfg.Rotctld != "" {
		rot := &rotctld{dome: ctrl, logger: logger.Named("rotctld")}
		g.Go(func() error {
			return rot.Listen(gctx, cfg.Rotctld)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return ctrl.Shutdown(sctx, func(ctx context.Context) error {
			if err := httpSrv.Shutdown(ctx); err != nil {
				httpSrv.Close()
				return err
			}
			return nil
		})
	})
	err = g.Wait()
	cancelBg()
	if werr := bgGroup.Wait(); err == nil {
		err = werr
	}
	return err
}
