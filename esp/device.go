package esp

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"

	"i4.energy/across/espbridge/at"
)

// Device drives an ESP8266 running the AT firmware.
//
// A Device is not safe for concurrent use, with the exception of State,
// Host, LocalIP and Metrics, which may be called from any goroutine.
// Callers that share a Device must serialize every other method.
type Device struct {
	// transport is the raw link returned by the Dialer
	transport Transport
	// session talks to the module through transport
	session *session
	// resetLine pulses the module's RST pin; nil disables HardReset
	resetLine ResetLine
	logger    *slog.Logger
	metrics   *Metrics

	state   stateHolder
	localIP atomic.Pointer[netip.Addr]
	// closed indicates if the device has been shut down
	closed bool

	bootMarker string
	bootSettle time.Duration
}

// New dials the module and prepares a Device in the Disconnected state.
// It does not talk to the module; call SetupTCPServer or the individual
// operations for that.
func New(ctx context.Context, config Config) (*Device, error) {
	if config.dialer == nil {
		return nil, ErrNoDialer
	}
	config.setDefaults()

	transport, err := config.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	if err := transport.SetReadTimeout(config.timeouts.Receive); err != nil {
		transport.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}

	logger := config.logger.With("component", "esp")
	config.logger = logger

	tr := newTranscript(config.debug)
	metrics := &Metrics{}
	d := &Device{
		transport:  transport,
		session:    newSession(newMirrorTransport(transport, tr), tr, metrics, config),
		resetLine:  config.resetLine,
		logger:     logger,
		metrics:    metrics,
		bootMarker: config.bootMarker,
		bootSettle: config.bootSettle,
	}
	d.state.store(Disconnected)
	return d, nil
}

// State returns the current connection state.
func (d *Device) State() State {
	return d.state.load()
}

// Host returns the host of the open client connection, or "".
func (d *Device) Host() string {
	return d.session.currentHost()
}

// LocalIP returns the station address reported during SetupTCPServer.
// The zero Addr means it is not known.
func (d *Device) LocalIP() netip.Addr {
	if ip := d.localIP.Load(); ip != nil {
		return *ip
	}
	return netip.Addr{}
}

func (d *Device) Metrics() *Metrics {
	return d.metrics
}

// Timeouts returns the timeouts currently in effect.
func (d *Device) Timeouts() Timeouts {
	return d.session.timeouts
}

// SetTimeouts updates the nonzero fields of t. SessionIdle is clamped to
// MaxSessionIdleTimeout.
func (d *Device) SetTimeouts(t Timeouts) {
	d.session.setTimeouts(t)
}

// SetDefaultTimeouts restores DefaultTimeouts.
func (d *Device) SetDefaultTimeouts() {
	d.session.setTimeouts(DefaultTimeouts())
}

// SetBootMarker changes the token awaited after a reset. An empty marker
// restores the firmware's "ready" banner.
func (d *Device) SetBootMarker(marker string) {
	if marker == "" {
		marker = at.BootBanner
	}
	d.bootMarker = marker
}

// SendCommand writes cmd followed by CR LF.
func (d *Device) SendCommand(ctx context.Context, cmd string) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.session.sendCommand(ctx, cmd)
}

// AwaitResponse consumes input until token has been received. With framing
// it first skips past the next "+IPD,<header>:" frame prefix. Verbose logs
// every chunk read.
func (d *Device) AwaitResponse(ctx context.Context, token string, framing, verbose bool) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.session.awaitResponse(ctx, token, framing, verbose)
}

// ReadLine returns the next non-blank line, without its line ending. Lines
// longer than maxLength are truncated and reported with ErrLineTooLong.
func (d *Device) ReadLine(ctx context.Context, maxLength int) ([]byte, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	return d.session.readLine(ctx, maxLength)
}

// ClearInput waits for in-flight bytes and discards all pending input.
func (d *Device) ClearInput(ctx context.Context) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.session.clearInput(ctx)
}

// HardReset pulses the reset line and waits for the boot marker. Without a
// reset line it succeeds immediately and leaves the state alone.
func (d *Device) HardReset(ctx context.Context) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if d.resetLine == nil {
		d.logger.Debug("no reset line configured, skipping hard reset")
		return nil
	}

	prev := d.state.load()
	d.state.store(Resetting)
	if err := d.hardReset(ctx); err != nil {
		d.state.store(prev)
		return fmt.Errorf("hard reset: %w", err)
	}
	d.resetDone("hard")
	return nil
}

func (d *Device) hardReset(ctx context.Context) error {
	if err := d.pulseReset(ctx); err != nil {
		return err
	}
	err := d.session.matcher.find(ctx, d.bootMarker, findOptions{timeout: d.session.timeouts.Reset})
	if drainErr := d.session.clearInput(ctx); drainErr != nil && err == nil {
		err = drainErr
	}
	return err
}

func (d *Device) pulseReset(ctx context.Context) (err error) {
	if err := d.resetLine.Assert(); err != nil {
		return fmt.Errorf("assert reset line: %w", err)
	}
	defer func() {
		if releaseErr := d.resetLine.Release(); releaseErr != nil && err == nil {
			err = fmt.Errorf("release reset line: %w", releaseErr)
		}
	}()
	return sleepCtx(ctx, resetHoldTime)
}

// SoftReset restarts the firmware with AT+RST and turns off command echo.
// The receive timeout is widened to the reset timeout while it runs.
func (d *Device) SoftReset(ctx context.Context) error {
	if err := d.checkOpen(); err != nil {
		return err
	}

	prev := d.state.load()
	d.state.store(Resetting)
	if err := d.softReset(ctx); err != nil {
		d.state.store(prev)
		return fmt.Errorf("soft reset: %w", err)
	}
	d.resetDone("soft")
	return nil
}

func (d *Device) softReset(ctx context.Context) error {
	restore := d.session.overrideReceiveTimeout(d.session.timeouts.Reset)
	err := d.restart(ctx)
	restore()

	if drainErr := d.session.clearInput(ctx); drainErr != nil && err == nil {
		err = drainErr
	}
	return err
}

func (d *Device) restart(ctx context.Context) error {
	if err := d.session.sendCommand(ctx, at.CmdReset); err != nil {
		return err
	}
	if err := d.session.awaitResponse(ctx, d.bootMarker, false, false); err != nil {
		return fmt.Errorf("boot banner: %w", err)
	}
	// The firmware prints its version and stored settings after the banner.
	if err := sleepCtx(ctx, d.bootSettle); err != nil {
		return err
	}
	if err := d.session.clearInput(ctx); err != nil {
		return err
	}
	return d.session.expectOK(ctx, at.CmdEchoOff)
}

func (d *Device) resetDone(kind string) {
	d.session.clearHost()
	d.state.store(Disconnected)
	d.metrics.incResets()
	d.logger.Info("module reset", "kind", kind)
}

// ConnectToAP joins the access point ssid in station mode and switches the
// module to single-connection mode. The receive timeout is widened to the
// associate timeout while joining.
func (d *Device) ConnectToAP(ctx context.Context, ssid, password string) error {
	if err := d.guard(Disconnected, Connected); err != nil {
		return err
	}

	d.state.store(Associating)
	if err := d.connectToAP(ctx, ssid, password); err != nil {
		d.state.store(Disconnected)
		return fmt.Errorf("connect to access point %q: %w", ssid, err)
	}
	d.state.store(Connected)
	d.logger.Info("joined access point", "ssid", ssid)
	return nil
}

func (d *Device) connectToAP(ctx context.Context, ssid, password string) error {
	if err := d.session.clearInput(ctx); err != nil {
		return err
	}
	if err := d.session.expectOK(ctx, at.CmdStationMode); err != nil {
		return err
	}

	restore := d.session.overrideReceiveTimeout(d.session.timeouts.Associate)
	err := d.session.expectOK(ctx, at.JoinAP(ssid, password))
	restore()
	if err != nil {
		return err
	}

	return d.session.expectOK(ctx, at.CmdSingleConn)
}

// CloseAP leaves the access point. The module's acknowledgment is awaited
// but a missing one is only logged.
func (d *Device) CloseAP(ctx context.Context) error {
	if err := d.guard(Connected, Listening); err != nil {
		return err
	}

	if err := d.session.sendCommand(ctx, at.CmdQuitAP); err != nil {
		return err
	}
	if err := d.session.awaitResponse(ctx, at.OK, false, false); err != nil {
		d.logger.Warn("access point quit not acknowledged", "error", err)
	}

	d.session.clearHost()
	d.state.store(Disconnected)
	return nil
}

// Close releases the transport. The Device cannot be used afterwards.
func (d *Device) Close() error {
	if d.closed {
		return ErrAlreadyClosed
	}
	d.closed = true
	d.state.store(Closed)
	d.session.clearHost()

	if d.transport != nil {
		return d.transport.Close()
	}
	return nil
}

func (d *Device) checkOpen() error {
	if d.closed {
		return ErrAlreadyClosed
	}
	if d.transport == nil || d.session == nil {
		return ErrNotInitialized
	}
	return nil
}

// guard checks that the device is open and in one of states.
func (d *Device) guard(states ...State) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if !d.state.is(states...) {
		return fmt.Errorf("%w: %s", ErrInvalidState, d.state.load())
	}
	return nil
}
