package esp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"i4.energy/across/espbridge/at"
)

// maxDrainBytes bounds a single ClearInput so a module that never stops
// talking cannot hold it forever.
const maxDrainBytes = 64 << 10

// session owns the conversation with the module: it writes commands, waits
// for replies, reads lines and throws away stale input. It also keeps the
// host of the last client connection it opened.
type session struct {
	// transport is the link to the module, already wrapped for the transcript
	transport Transport
	// matcher waits for reply tokens on transport
	matcher *matcher
	// transcript tracks the write epoch shared with matcher
	transcript *transcript
	metrics    *Metrics
	logger     *slog.Logger

	// timeouts are the current waits; Receive is mirrored into the transport
	timeouts Timeouts
	// host is the remote host of the current client connection, or ""
	host atomic.Pointer[string]

	writeDelay   time.Duration
	drainDelay   time.Duration
	pollInterval time.Duration
	recvSettle   time.Duration
}

func newSession(transport Transport, tr *transcript, metrics *Metrics, config Config) *session {
	return &session{
		transport:  transport,
		transcript: tr,
		metrics:    metrics,
		logger:     config.logger,
		timeouts:   config.timeouts,
		matcher: &matcher{
			transport:    transport,
			transcript:   tr,
			metrics:      metrics,
			logger:       config.logger,
			pollInterval: config.pollInterval,
		},
		writeDelay:   config.writeDelay,
		drainDelay:   config.drainDelay,
		pollInterval: config.pollInterval,
		recvSettle:   config.recvSettle,
	}
}

// sendCommand writes cmd terminated by CR LF.
func (s *session) sendCommand(ctx context.Context, cmd string) error {
	if err := s.write(ctx, []byte(cmd+at.CRLF)); err != nil {
		return fmt.Errorf("write command %q: %w", commandName(cmd), err)
	}
	s.metrics.incCommandsSent()
	s.logger.Debug("command sent", "command", commandName(cmd))
	return nil
}

// sendRaw writes payload bytes as they are, e.g. after a "> " prompt.
func (s *session) sendRaw(ctx context.Context, p []byte) error {
	if err := s.write(ctx, p); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// write opens a write epoch if none is open, pausing first so the module has
// finished with its previous reply, and then writes all of p.
func (s *session) write(ctx context.Context, p []byte) error {
	if !s.transcript.writing {
		if err := sleepCtx(ctx, s.writeDelay); err != nil {
			return err
		}
		s.transcript.beginWrite()
	}

	for len(p) > 0 {
		n, err := s.transport.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// awaitResponse waits for token with the receive timeout.
func (s *session) awaitResponse(ctx context.Context, token string, framing, verbose bool) error {
	_, err := s.matcher.readFrame(ctx, token, framing, findOptions{
		timeout: s.timeouts.Receive,
		verbose: verbose,
	})
	return err
}

// expect sends cmd and waits for token.
func (s *session) expect(ctx context.Context, cmd, token string) error {
	if err := s.sendCommand(ctx, cmd); err != nil {
		return err
	}
	if err := s.awaitResponse(ctx, token, false, false); err != nil {
		return fmt.Errorf("%s: %w", commandName(cmd), err)
	}
	return nil
}

func (s *session) expectOK(ctx context.Context, cmd string) error {
	return s.expect(ctx, cmd, at.OK)
}

// readLine returns the next non-blank line without its line ending. A line
// that reaches maxLength bytes is returned truncated together with
// ErrLineTooLong; the rest of it stays pending.
func (s *session) readLine(ctx context.Context, maxLength int) ([]byte, error) {
	s.transcript.endWrite()
	for {
		line, err := s.readUntil(ctx, '\n', maxLength)
		if err != nil && !errors.Is(err, ErrLineTooLong) {
			return nil, err
		}
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 && err == nil {
			continue
		}
		s.transcript.line(line)
		return line, err
	}
}

// readUntil reads single bytes until term, which is consumed but not
// returned. The receive timeout bounds the silence between bytes.
func (s *session) readUntil(ctx context.Context, term byte, maxLength int) ([]byte, error) {
	var (
		line     []byte
		one      [1]byte
		deadline = time.Now().Add(s.timeouts.Receive)
	)
	for len(line) < maxLength {
		if err := ctx.Err(); err != nil {
			return line, err
		}
		if s.transport.Buffered() > 0 {
			n, err := s.transport.Read(one[:])
			if err != nil && !isReadTimeout(err) {
				return line, fmt.Errorf("read: %w", err)
			}
			if n == 1 {
				deadline = time.Now().Add(s.timeouts.Receive)
				if one[0] == term {
					return line, nil
				}
				line = append(line, one[0])
				continue
			}
		}

		// Nothing was buffered or the read came back empty.
		if time.Now().After(deadline) {
			return line, fmt.Errorf("%w: waiting for line", ErrTimeout)
		}
		if err := sleepCtx(ctx, s.pollInterval); err != nil {
			return line, err
		}
	}
	return line, ErrLineTooLong
}

// clearInput lets in-flight bytes arrive and then discards everything
// pending, logging each discarded line.
func (s *session) clearInput(ctx context.Context) error {
	s.transcript.endWrite()
	if err := sleepCtx(ctx, s.drainDelay); err != nil {
		return err
	}

	var (
		drained bytes.Buffer
		chunk   [64]byte
	)
	for drained.Len() < maxDrainBytes {
		avail := s.transport.Buffered()
		if avail == 0 {
			break
		}
		n, err := s.transport.Read(chunk[:min(avail, len(chunk))])
		drained.Write(chunk[:n])
		if err != nil && !isReadTimeout(err) {
			return fmt.Errorf("drain: %w", err)
		}
		if n == 0 {
			break
		}
	}

	if drained.Len() > 0 {
		s.logDiscarded(drained.Bytes())
	}
	return nil
}

func (s *session) logDiscarded(p []byte) {
	scanner := bufio.NewScanner(bytes.NewReader(p))
	scanner.Split(at.Splitter)
	for scanner.Scan() {
		token := scanner.Text()
		if token == "" {
			continue
		}
		s.transcript.line([]byte(token))
		s.logger.Debug("discarded", "line", token, "type", at.Classify(token).String())
	}
}

// waitBuffered blocks until at least one byte is pending or timeout passes.
func (s *session) waitBuffered(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for s.transport.Buffered() == 0 {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: no data within %s", ErrTimeout, timeout)
		}
		if err := sleepCtx(ctx, s.pollInterval); err != nil {
			return err
		}
	}
	return nil
}

// readAvailable copies pending bytes into buf until buf is full, nothing
// arrives within the settle delay or a read returns no bytes.
func (s *session) readAvailable(ctx context.Context, buf []byte) (int, error) {
	pos := 0
	for pos < len(buf) {
		avail := s.transport.Buffered()
		if avail == 0 {
			if err := sleepCtx(ctx, s.recvSettle); err != nil {
				return pos, err
			}
			if avail = s.transport.Buffered(); avail == 0 {
				break
			}
		}
		n, err := s.transport.Read(buf[pos : pos+min(avail, len(buf)-pos)])
		pos += n
		if err != nil && !isReadTimeout(err) {
			return pos, fmt.Errorf("read: %w", err)
		}
		// An empty read despite buffered bytes ends the frame like an
		// empty buffer would.
		if n == 0 {
			break
		}
	}
	return pos, nil
}

// setTimeouts applies the nonzero fields of update.
func (s *session) setTimeouts(update Timeouts) {
	merged := s.timeouts.merge(update)
	receive := merged.Receive
	merged.Receive = s.timeouts.Receive
	s.timeouts = merged
	s.setReceiveTimeout(receive)
}

// overrideReceiveTimeout switches the receive timeout to d and returns a
// function restoring the previous value.
func (s *session) overrideReceiveTimeout(d time.Duration) (restore func()) {
	saved := s.timeouts.Receive
	s.setReceiveTimeout(d)
	return func() { s.setReceiveTimeout(saved) }
}

func (s *session) setReceiveTimeout(d time.Duration) {
	if d == s.timeouts.Receive {
		return
	}
	s.timeouts.Receive = d
	if err := s.transport.SetReadTimeout(d); err != nil {
		s.logger.Warn("could not update transport read timeout", "timeout", d, "error", err)
	}
}

func (s *session) currentHost() string {
	if h := s.host.Load(); h != nil {
		return *h
	}
	return ""
}

func (s *session) setHost(host string) {
	s.host.Store(&host)
}

func (s *session) clearHost() {
	s.host.Store(nil)
}

// commandName strips the arguments from cmd so credentials never reach the
// logs.
func commandName(cmd string) string {
	name, _, _ := strings.Cut(cmd, "=")
	return strings.TrimSpace(name)
}
