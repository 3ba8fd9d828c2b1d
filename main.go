package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"i4.energy/across/espbridge/esp"
)

func main() {
	flag.String("serial-port", "/dev/ttyUSB0", "Serial port to connect to the module")
	flag.Int("baud-rate", 115200, "Baud rate for serial communication")
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("ssid", "", "WiFi access point to join")
	flag.String("password", "", "WiFi access point passphrase")
	flag.Uint("server-port", 333, "TCP port the module listens on")
	flag.Int("reset-pin", -1, "GPIO wired to the module's RST pin (-1 if not wired)")
	flag.Int("max-retries", 3, "Attempts to bring up the TCP server")
	flag.Duration("data-timeout", 500*time.Millisecond, "Wait for an inbound frame before yielding to other requests")
	flag.Bool("transcript", false, "Mirror the serial exchange to stderr")
	flag.Int("frame-history", 32, "Number of received frames kept for /frames")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(os.Stderr, config.LogLevel)

	if err := config.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	builder := esp.NewConfigBuilder().
		WithLogger(logger).
		WithTimeouts(esp.Timeouts{Data: config.DataTimeout}).
		WithDialer(esp.SerialDialer{
			PortName: config.SerialPort,
			BaudRate: config.BaudRate,
		})
	if config.Transcript {
		builder.WithDebug(os.Stderr)
	}
	if config.ResetPin >= 0 {
		line, err := esp.NewSysfsResetLine(config.ResetPin)
		if err != nil {
			logger.Error("Invalid reset pin", "error", err)
			os.Exit(1)
		}
		builder.WithResetLine(line)
	}

	espConfig, err := builder.Build()
	if err != nil {
		logger.Error("Failed to create module config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	device, err := esp.New(ctx, espConfig)
	if err != nil {
		logger.Error("Failed to open module", "error", err)
		os.Exit(1)
	}

	bridge := NewBridge(logger.With("component", "bridge"), device, BridgeConfig{
		SSID:         config.SSID,
		Password:     config.Password,
		ServerPort:   config.ServerPort,
		MaxRetries:   config.MaxRetries,
		RetryDelay:   2 * time.Second,
		FrameHistory: config.FrameHistory,
	})

	logger.Info("Starting ESP bridge", "serial_port", config.SerialPort, "ssid", config.SSID, "server_port", config.ServerPort)

	bridgeDone := make(chan error, 1)
	go func() {
		bridgeDone <- bridge.Run(ctx)
	}()

	go func() {
		select {
		case <-bridge.Ready():
			if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
				logger.Warn("Failed to notify systemd", "error", err)
			}
		case <-ctx.Done():
		}
	}()

	httpServer := &http.Server{
		Addr:    config.BindAddress,
		Handler: NewServer(logger.With("component", "server"), bridge),
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start HTTP server in a goroutine
	go func() {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	exitCode := 0
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig)
	case err := <-bridgeDone:
		logger.Error("Bridge stopped", "error", err)
		bridgeDone <- err
		exitCode = 1
	}

	daemon.SdNotify(false, daemon.SdNotifyStopping)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("Closing HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to gracefully shutdown server", "error", err)
		exitCode = 1
	}

	// The receive loop must be done with the device before it is closed.
	if err := <-bridgeDone; err != nil && !errors.Is(err, context.Canceled) && exitCode == 0 {
		logger.Error("Bridge stopped", "error", err)
		exitCode = 1
	}

	logger.Info("Closing module connection")
	if err := device.Close(); err != nil {
		logger.Error("Failed to close module", "error", err)
	}

	os.Exit(exitCode)
}
