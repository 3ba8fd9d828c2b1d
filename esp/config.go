package esp

import (
	"io"
	"log/slog"
	"time"

	"i4.energy/across/espbridge/at"
)

// Default timeouts, carried over from the module's reference firmware notes.
const (
	DefaultReceiveTimeout     = 5 * time.Second
	DefaultResetTimeout       = 5 * time.Second
	DefaultAssociateTimeout   = 15 * time.Second
	DefaultSessionIdleTimeout = 7200 * time.Second
	DefaultDataTimeout        = 7200 * time.Second

	// MaxSessionIdleTimeout is the longest server idle timeout the firmware
	// accepts (AT+CIPSTO takes at most 7200 seconds).
	MaxSessionIdleTimeout = at.MaxServerTimeout * time.Second
)

const (
	defaultDrainDelay   = 250 * time.Millisecond
	defaultBootSettle   = time.Second
	defaultWriteDelay   = 10 * time.Millisecond
	defaultPollInterval = time.Millisecond
	defaultRecvSettle   = time.Millisecond
	resetHoldTime       = 10 * time.Millisecond
)

// Timeouts groups the configurable waits of the engine. In SetTimeouts a zero
// field means "leave the current value unchanged".
type Timeouts struct {
	// Receive bounds the silence between bytes while waiting for a reply.
	Receive time.Duration
	// Reset bounds the wait for the boot banner after a reset.
	Reset time.Duration
	// Associate replaces Receive while joining an access point.
	Associate time.Duration
	// SessionIdle is handed to the module as the server-side client idle
	// timeout. Clamped to MaxSessionIdleTimeout.
	SessionIdle time.Duration
	// Data bounds the wait for the first byte of an inbound frame.
	Data time.Duration
}

// DefaultTimeouts returns the timeouts a new Device starts with.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Receive:     DefaultReceiveTimeout,
		Reset:       DefaultResetTimeout,
		Associate:   DefaultAssociateTimeout,
		SessionIdle: DefaultSessionIdleTimeout,
		Data:        DefaultDataTimeout,
	}
}

// merge applies the nonzero fields of update on top of t.
func (t Timeouts) merge(update Timeouts) Timeouts {
	if update.Receive > 0 {
		t.Receive = update.Receive
	}
	if update.Reset > 0 {
		t.Reset = update.Reset
	}
	if update.Associate > 0 {
		t.Associate = update.Associate
	}
	if update.SessionIdle > 0 {
		t.SessionIdle = min(update.SessionIdle, MaxSessionIdleTimeout)
	}
	if update.Data > 0 {
		t.Data = update.Data
	}
	return t
}

// Config holds the settings used by New. Build it with NewConfigBuilder.
type Config struct {
	dialer    Dialer
	resetLine ResetLine
	timeouts  Timeouts
	logger    *slog.Logger
	debug     io.Writer

	bootMarker   string
	drainDelay   time.Duration
	bootSettle   time.Duration
	writeDelay   time.Duration
	pollInterval time.Duration
	recvSettle   time.Duration
}

func (c *Config) validate() error {
	if c.dialer == nil {
		return ErrNoDialer
	}
	return nil
}

func (c *Config) setDefaults() {
	c.timeouts = DefaultTimeouts().merge(c.timeouts)
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.bootMarker == "" {
		c.bootMarker = at.BootBanner
	}
	if c.drainDelay == 0 {
		c.drainDelay = defaultDrainDelay
	}
	if c.bootSettle == 0 {
		c.bootSettle = defaultBootSettle
	}
	if c.writeDelay == 0 {
		c.writeDelay = defaultWriteDelay
	}
	if c.pollInterval == 0 {
		c.pollInterval = defaultPollInterval
	}
	if c.recvSettle == 0 {
		c.recvSettle = defaultRecvSettle
	}
}

// ConfigBuilder assembles a Config. Zero values fall back to defaults.
type ConfigBuilder struct {
	config Config
}

// NewConfigBuilder starts an empty configuration.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

// WithDialer sets how the transport to the module is opened. Required.
func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.dialer = d
	return b
}

// WithTimeouts overrides the nonzero fields of the default timeouts.
func (b *ConfigBuilder) WithTimeouts(t Timeouts) *ConfigBuilder {
	b.config.timeouts = b.config.timeouts.merge(t)
	return b
}

// WithResetLine wires the module's reset pin. Without it HardReset is a no-op.
func (b *ConfigBuilder) WithResetLine(l ResetLine) *ConfigBuilder {
	b.config.resetLine = l
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.logger = l
	return b
}

// WithDebug mirrors the exchange with the module to w as a human readable
// transcript.
func (b *ConfigBuilder) WithDebug(w io.Writer) *ConfigBuilder {
	b.config.debug = w
	return b
}

// WithBootMarker changes the token that signals a completed boot.
func (b *ConfigBuilder) WithBootMarker(marker string) *ConfigBuilder {
	b.config.bootMarker = marker
	return b
}

// WithDrainDelay sets how long ClearInput waits before discarding input.
func (b *ConfigBuilder) WithDrainDelay(d time.Duration) *ConfigBuilder {
	b.config.drainDelay = d
	return b
}

// WithBootSettle sets how long SoftReset waits for post-boot chatter.
func (b *ConfigBuilder) WithBootSettle(d time.Duration) *ConfigBuilder {
	b.config.bootSettle = d
	return b
}

// WithWriteDelay sets the pause before the first byte of each command.
// The module drops bytes when a command follows its last reply too closely.
func (b *ConfigBuilder) WithWriteDelay(d time.Duration) *ConfigBuilder {
	b.config.writeDelay = d
	return b
}

// WithPollInterval sets the sleep between polls of an idle transport.
func (b *ConfigBuilder) WithPollInterval(d time.Duration) *ConfigBuilder {
	b.config.pollInterval = d
	return b
}

// Build validates the configuration and fills in defaults.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	c.setDefaults()
	return c, nil
}
