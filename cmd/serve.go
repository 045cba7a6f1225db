// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/battmon/internal/i2cbus"
	"github.com/Thermoquad/battmon/internal/logging"
	"github.com/Thermoquad/battmon/pkg/ina226"
	"github.com/Thermoquad/battmon/pkg/monitor"
	"github.com/Thermoquad/battmon/pkg/settings"
)

var (
	serveSim        bool
	serveI2C        string
	serveFlash      string
	serveFlashSize  int64
	serveListen     string
	serveFirmware   string
	serveShunt      float64
	serveMaxCurrent float64
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the battery monitor",
	Long: `Run the battery monitor on a serial port, a WebSocket listener or stdin/stdout.

The sensor is an INA226 on a host I2C bus (--i2c) or a simulated one (--sim).
If the sensor cannot be initialised the monitor still starts: configuration
requests keep working and live readings answer "sensor_unavailable".

Thresholds are persisted in the last erase sector of a flash image file
(--flash), which is created erased on first use.

Transports:
  --port /dev/ttyGS0       serve on a serial port
  --listen :8080           serve WebSocket clients, one at a time
  (neither)                serve on stdin/stdout

Examples:
  battmon serve --sim
  echo '{"get":["v","pct"]}' | battmon serve --sim
  battmon serve --i2c /dev/i2c-1 --port /dev/ttyGS0`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveSim, "sim", false, "Use a simulated INA226")
	serveCmd.Flags().StringVar(&serveI2C, "i2c", "", "Host I2C bus name (e.g. /dev/i2c-1, or 1)")
	serveCmd.Flags().StringVar(&serveFlash, "flash", "", "Flash image path")
	serveCmd.Flags().Int64Var(&serveFlashSize, "flash-size", 0, "Flash image size in bytes when created")
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Serve WebSocket clients on this address")
	serveCmd.Flags().StringVar(&serveFirmware, "firmware", "", "Firmware id reported in fw (default battmon-<version>)")
	serveCmd.Flags().Float64Var(&serveShunt, "shunt", 0, "Shunt resistance in ohms")
	serveCmd.Flags().Float64Var(&serveMaxCurrent, "max-current", 0, "Expected full-scale current in amps")
}

// applyServeFlags overrides the serve section with flags that were set
func applyServeFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	s := &cfg.Serve
	if flags.Changed("sim") {
		s.Simulate = serveSim
	}
	if flags.Changed("i2c") {
		s.I2CBus = serveI2C
	}
	if flags.Changed("flash") {
		s.Flash = serveFlash
	}
	if flags.Changed("flash-size") {
		s.FlashSize = serveFlashSize
	}
	if flags.Changed("listen") {
		s.Listen = serveListen
	}
	if flags.Changed("firmware") {
		s.Firmware = serveFirmware
	}
	if flags.Changed("shunt") {
		s.ShuntOhms = serveShunt
	}
	if flags.Changed("max-current") {
		s.MaxCurrent = serveMaxCurrent
	}
	if s.Firmware == "" {
		s.Firmware = "battmon-" + Version
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	applyServeFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return err
	}
	s := cfg.Serve

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flash, err := openFlash(s.Flash, s.FlashSize, s.SectorSize)
	if err != nil {
		return err
	}
	defer flash.Close()

	store := settings.NewStore(flash, settings.StoreOptions{Logger: logging.Component(logger, "settings")})

	sensor, closeBus, available := openSensor(logging.Component(logger, "sensor"))
	defer closeBus()

	engine := monitor.NewEngine(store, sensor, monitor.Options{
		SensorAvailable: available,
		Firmware:        s.Firmware,
		Logger:          logging.Component(logger, "engine"),
	})
	srv := monitor.NewServer(engine, monitor.ServerOptions{
		PollInterval: s.PollInterval,
		Logger:       logging.Component(logger, "server"),
	})

	switch {
	case s.Listen != "":
		return listenWebSocket(ctx, s.Listen, srv)

	case cfg.Serial.Port != "":
		conn, err := OpenSerialConnection(cfg.Serial.Port, cfg.Serial.Baud)
		if err != nil {
			return err
		}
		defer conn.Close()
		logger.Info().Str("port", cfg.Serial.Port).Int("baud", cfg.Serial.Baud).Msg("serving on serial port")
		return srv.Serve(ctx, conn)

	default:
		logger.Info().Msg("serving on stdin/stdout")
		return srv.Serve(ctx, &StdioConnection{in: os.Stdin, out: os.Stdout})
	}
}

func openFlash(path string, size, sector int64) (*settings.FileFlash, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating flash directory: %w", err)
	}
	flash, err := settings.OpenFileFlash(path, size, sector)
	if err != nil {
		return nil, fmt.Errorf("opening flash image: %w", err)
	}
	return flash, nil
}

// openSensor initialises the configured INA226. A failure is logged and
// leaves the monitor in degraded mode; it never stops startup.
func openSensor(log zerolog.Logger) (monitor.Sensor, func(), bool) {
	s := cfg.Serve
	icfg := ina226.DefaultConfig()
	icfg.Address = s.Address
	icfg.ShuntOhms = s.ShuntOhms
	icfg.MaxCurrent = s.MaxCurrent
	noop := func() {}

	var (
		dev     *ina226.Device
		closeFn = noop
	)
	switch {
	case s.Simulate:
		sim := i2cbus.NewSimINA226(s.Address, s.ShuntOhms)
		sim.SetProfile(i2cbus.CycleProfile(
			settings.DefaultMinVoltage, settings.DefaultMaxVoltage,
			10*time.Minute, 0.8, 0.5,
		))
		dev = ina226.New(sim, icfg)
		log.Info().Msg("using simulated INA226")

	case s.I2CBus != "":
		bus, err := i2cbus.Open(s.I2CBus, i2cbus.DefaultSpeed)
		switch {
		case errors.Is(err, i2cbus.ErrSpeedNotApplied):
			log.Warn().Err(err).Msg("I2C bus keeps its default clock")
		case err != nil:
			log.Error().Err(err).Msg("I2C bus unavailable, live readings disabled")
			return nil, noop, false
		}
		closeFn = func() { _ = bus.Close() }
		dev = ina226.New(bus, icfg)
		log.Info().Str("bus", bus.String()).Msg("opened I2C bus")

	default:
		log.Warn().Msg("no sensor configured (--sim or --i2c), live readings disabled")
		return nil, noop, false
	}

	if err := dev.Configure(); err != nil {
		log.Error().Err(err).Uint16("address", dev.Address()).Msg("INA226 init failed, live readings disabled")
		return nil, closeFn, false
	}
	cal, _ := icfg.Calibration()
	log.Info().
		Uint16("address", dev.Address()).
		Uint16("calibration", cal).
		Float64("shunt_ohms", icfg.ShuntOhms).
		Msg("INA226 configured")
	return dev, closeFn, true
}

// newListenHandler serves one WebSocket client at a time. Other clients get
// 503 until the current one disconnects.
func newListenHandler(ctx context.Context, srv *monitor.Server, log zerolog.Logger) http.Handler {
	busy := make(chan struct{}, 1)
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case busy <- struct{}{}:
		default:
			http.Error(w, "monitor busy", http.StatusServiceUnavailable)
			return
		}
		defer func() { <-busy }()

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		conn := NewWebSocketConnection(ws)
		defer conn.Close()

		log.Info().Str("remote", r.RemoteAddr).Msg("client connected")
		if err := srv.Serve(ctx, conn); err != nil && !errors.Is(err, ErrConnectionClosed) {
			log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("client session ended")
			return
		}
		log.Info().Str("remote", r.RemoteAddr).Msg("client disconnected")
	})
}

func listenWebSocket(ctx context.Context, addr string, srv *monitor.Server) error {
	log := logging.Component(logger, "listen")
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           newListenHandler(ctx, srv, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("serving WebSocket clients")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
