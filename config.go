package main

import (
	"errors"
	"flag"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the HTTP server listens on (e.g. "0.0.0.0:8080")
	BindAddress string
	// SerialPort is the path to the module's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string
	// BaudRate is the baud rate for serial communication with the module (e.g. 115200)
	BaudRate int
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string
	// SSID is the WiFi access point the module joins
	SSID string
	// Password is the access point passphrase
	Password string
	// ServerPort is the TCP port the module listens on
	ServerPort uint16
	// ResetPin is the GPIO wired to the module's RST pin, -1 when not wired
	ResetPin int
	// MaxRetries is the number of attempts to bring up the TCP server
	MaxRetries int
	// DataTimeout bounds each wait for an inbound frame
	DataTimeout time.Duration
	// Transcript mirrors the serial exchange to stderr
	Transcript bool
	// FrameHistory is the number of received frames kept in memory
	FrameHistory int
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// Validate reports settings the bridge cannot run without
func (c *Config) Validate() error {
	if c.SSID == "" {
		return errors.New("an access point SSID is required")
	}
	if c.ServerPort == 0 {
		return errors.New("server port must be between 1 and 65535")
	}
	return nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 115200
		c.LogLevel = "info"
		c.ServerPort = 333
		c.ResetPin = -1
		c.MaxRetries = 3
		c.DataTimeout = 500 * time.Millisecond
		c.FrameHistory = 32
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
			c.BindAddress = addr
		}

		if serial := os.Getenv("SERIAL_PORT"); serial != "" {
			c.SerialPort = serial
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			if b, err := strconv.Atoi(baud); err == nil {
				c.BaudRate = b
			}
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if ssid := os.Getenv("WIFI_SSID"); ssid != "" {
			c.SSID = ssid
		}

		if password := os.Getenv("WIFI_PASSWORD"); password != "" {
			c.Password = password
		}

		if port := os.Getenv("SERVER_PORT"); port != "" {
			if p, err := strconv.ParseUint(port, 10, 16); err == nil {
				c.ServerPort = uint16(p)
			}
		}

		if pin := os.Getenv("RESET_PIN"); pin != "" {
			if p, err := strconv.Atoi(pin); err == nil {
				c.ResetPin = p
			}
		}

		if retries := os.Getenv("MAX_RETRIES"); retries != "" {
			if r, err := strconv.Atoi(retries); err == nil {
				c.MaxRetries = r
			}
		}

		if timeout := os.Getenv("DATA_TIMEOUT"); timeout != "" {
			if d, err := time.ParseDuration(timeout); err == nil {
				c.DataTimeout = d
			}
		}

		if transcript := os.Getenv("TRANSCRIPT"); transcript != "" {
			if t, err := strconv.ParseBool(transcript); err == nil {
				c.Transcript = t
			}
		}

		if history := os.Getenv("FRAME_HISTORY"); history != "" {
			if h, err := strconv.Atoi(history); err == nil {
				c.FrameHistory = h
			}
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		fSet.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				if b, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BaudRate = b
				}
			case "log-level":
				c.LogLevel = f.Value.String()
			case "ssid":
				c.SSID = f.Value.String()
			case "password":
				c.Password = f.Value.String()
			case "server-port":
				if p, err := strconv.ParseUint(f.Value.String(), 10, 16); err == nil {
					c.ServerPort = uint16(p)
				}
			case "reset-pin":
				if p, err := strconv.Atoi(f.Value.String()); err == nil {
					c.ResetPin = p
				}
			case "max-retries":
				if r, err := strconv.Atoi(f.Value.String()); err == nil {
					c.MaxRetries = r
				}
			case "data-timeout":
				if d, err := time.ParseDuration(f.Value.String()); err == nil {
					c.DataTimeout = d
				}
			case "transcript":
				if t, err := strconv.ParseBool(f.Value.String()); err == nil {
					c.Transcript = t
				}
			case "frame-history":
				if h, err := strconv.Atoi(f.Value.String()); err == nil {
					c.FrameHistory = h
				}
			}
		})
		return nil
	}
}
