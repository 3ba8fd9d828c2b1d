package esp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"i4.energy/across/espbridge/at"
)

// localAddressLineLength bounds the AT+CIFSR reply line.
const localAddressLineLength = 64

// ConnectTCP opens a single client connection to host:port and remembers
// host for RequestURL.
func (d *Device) ConnectTCP(ctx context.Context, host string, port int) error {
	if err := d.guard(Connected); err != nil {
		return err
	}
	if err := d.session.expectOK(ctx, at.TCPStart(host, port)); err != nil {
		return fmt.Errorf("connect to %s:%d: %w", host, port, err)
	}
	d.session.setHost(host)
	d.logger.Info("client connection open", "host", host, "port", port)
	return nil
}

// AcceptTCP opens a TCP server on port. The module is switched to normal
// transfer and multi-connection mode first, and idle clients are dropped
// after the SessionIdle timeout, rounded down to whole seconds.
func (d *Device) AcceptTCP(ctx context.Context, port uint16) error {
	if err := d.guard(Connected); err != nil {
		return err
	}

	idle := int(d.session.timeouts.SessionIdle / time.Second)
	steps := []struct {
		name string
		cmd  string
	}{
		{"normal transfer mode", at.CmdNormalMode},
		{"multi-connection mode", at.CmdMultiConn},
		{"open server", at.ServerOpen(port)},
		{"server idle timeout", at.ServerTimeout(idle)},
	}
	for _, step := range steps {
		if err := d.session.expectOK(ctx, step.cmd); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrSequenceFailure, step.name, err)
		}
	}

	d.state.store(Listening)
	d.logger.Info("tcp server listening", "port", port, "idle_timeout", idle)
	return nil
}

// UnacceptTCP closes the TCP server. Closing drops connected clients, whose
// close notifications are discarded. Once the module has acknowledged the
// close, a failure to discard them is only logged.
func (d *Device) UnacceptTCP(ctx context.Context) error {
	if err := d.guard(Listening); err != nil {
		return err
	}
	if err := d.session.expectOK(ctx, at.CmdServerClose); err != nil {
		return fmt.Errorf("close server: %w", err)
	}
	d.state.store(Connected)
	if err := d.session.clearInput(ctx); err != nil {
		d.logger.Warn("discarding close notifications failed", "error", err)
	}
	return nil
}

// CloseLink closes one client connection of the TCP server. The server
// keeps listening.
func (d *Device) CloseLink(ctx context.Context, link int) error {
	if err := d.guard(Listening); err != nil {
		return err
	}
	if err := d.session.expectOK(ctx, at.CloseLink(link)); err != nil {
		return fmt.Errorf("close link %d: %w", link, err)
	}
	d.logger.Info("link closed", "link", link)
	return nil
}

// CloseTCP closes the client connection and waits for the module to
// confirm it. Host is kept so the caller can reconnect.
func (d *Device) CloseTCP(ctx context.Context) error {
	if err := d.guard(Connected, Listening); err != nil {
		return err
	}
	if err := d.session.expect(ctx, at.CmdClose, at.Unlink); err != nil {
		return fmt.Errorf("close connection: %w", err)
	}
	d.state.store(Connected)
	return nil
}

// SetupTCPServer brings the module from any state to a listening TCP server
// on port: hard reset, soft reset, join ssid, read the station address and
// open the server. It stops at the first failing step; the returned error
// wraps ErrSequenceFailure and the step's error.
func (d *Device) SetupTCPServer(ctx context.Context, ssid, password string, port uint16) error {
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"hard reset", d.HardReset},
		{"soft reset", d.SoftReset},
		{"join access point", func(ctx context.Context) error {
			return d.ConnectToAP(ctx, ssid, password)
		}},
		{"read local address", d.readLocalAddress},
		{"open server", func(ctx context.Context) error {
			return d.AcceptTCP(ctx, port)
		}},
	}

	for _, step := range steps {
		d.logger.Debug("setup step", "step", step.name)
		if err := step.run(ctx); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrSequenceFailure, step.name, err)
		}
	}
	return nil
}

// readLocalAddress asks for the station address and records it. A reply
// that does not parse is only logged; a module that does not answer at all
// fails the step.
func (d *Device) readLocalAddress(ctx context.Context) error {
	if err := d.session.sendCommand(ctx, at.CmdLocalAddress); err != nil {
		return err
	}

	line, err := d.session.readLine(ctx, localAddressLineLength)
	switch {
	case err == nil, errors.Is(err, ErrLineTooLong):
		if ip, perr := at.ParseLocalIP(string(line)); perr == nil {
			d.localIP.Store(&ip)
			d.logger.Info("station address", "ip", ip)
		} else {
			d.logger.Warn("unreadable station address", "line", string(line), "error", perr)
		}
	default:
		return fmt.Errorf("station address: %w", err)
	}

	if err := d.session.awaitResponse(ctx, at.OK, false, false); err != nil {
		d.logger.Warn("station address not acknowledged", "error", err)
	}
	return nil
}

// TCPRecv waits up to the Data timeout for an inbound frame and copies its
// payload into buf. It returns the number of bytes copied.
func (d *Device) TCPRecv(ctx context.Context, buf []byte) (int, error) {
	_, n, err := d.TCPRecvFrame(ctx, buf)
	return n, err
}

// TCPRecvFrame is TCPRecv that also returns the parsed frame header.
//
// Once the "+IPD" prefix has been consumed everything pending is copied,
// up to len(buf), pausing briefly whenever the input runs dry. Bytes past
// the frame's announced length are not held back.
func (d *Device) TCPRecvFrame(ctx context.Context, buf []byte) (at.FrameHeader, int, error) {
	var h at.FrameHeader
	if err := d.guard(Connected, Listening); err != nil {
		return h, 0, err
	}

	if err := d.session.waitBuffered(ctx, d.session.timeouts.Data); err != nil {
		return h, 0, err
	}

	h, err := d.session.matcher.readFrame(ctx, "", true, findOptions{timeout: d.session.timeouts.Receive})
	if err != nil {
		return h, 0, err
	}

	n, err := d.session.readAvailable(ctx, buf)
	d.metrics.addFrame(n)
	if err != nil {
		return h, n, err
	}
	if h.Length > 0 && n != h.Length {
		d.logger.Debug("payload size differs from header", "link", h.LinkID, "announced", h.Length, "read", n)
	}
	return h, n, nil
}

// RequestURL sends an HTTP GET for path over the open client connection.
// The response is left pending for TCPRecv.
func (d *Device) RequestURL(ctx context.Context, path string) error {
	if err := d.guard(Connected); err != nil {
		return err
	}
	host := d.session.currentHost()
	if host == "" {
		return ErrNoHost
	}

	req := at.HTTPGet(path, host)
	if err := d.session.expect(ctx, at.Send(len(req)), at.Prompt); err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	if err := d.session.sendRaw(ctx, []byte(req)); err != nil {
		return err
	}
	if err := d.session.awaitResponse(ctx, at.OK, false, false); err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	return nil
}

// TCPSend writes data to link. A negative link addresses the single client
// connection; otherwise link is a server-side connection id.
func (d *Device) TCPSend(ctx context.Context, link int, data []byte) error {
	if err := d.guard(Connected, Listening); err != nil {
		return err
	}

	cmd := at.Send(len(data))
	if link >= 0 {
		cmd = at.SendLink(link, len(data))
	}
	if err := d.session.expect(ctx, cmd, at.Prompt); err != nil {
		return fmt.Errorf("send to link %d: %w", link, err)
	}
	if err := d.session.sendRaw(ctx, data); err != nil {
		return err
	}
	if err := d.session.awaitResponse(ctx, at.SendOK, false, false); err != nil {
		return fmt.Errorf("send to link %d: %w", link, err)
	}
	return nil
}
