package esp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	defaultBaudRate = 115200
	// pumpReadTimeout bounds each blocking read of the port so the pump
	// notices Close promptly.
	pumpReadTimeout = 50 * time.Millisecond
	pumpChunkSize   = 256
)

// SerialDialer opens the module over a serial port using go.bug.st/serial.
type SerialDialer struct {
	// PortName is the device path, e.g. "/dev/ttyUSB0".
	PortName string
	// BaudRate is used when Mode is nil. Defaults to 115200.
	BaudRate int
	// Mode overrides the line settings. Nil means 8N1 at BaudRate.
	Mode *serial.Mode
}

// Dial opens the port and starts reading it in the background so that the
// number of pending bytes is always known.
func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if d.PortName == "" {
		return nil, errors.New("esp: serial port name is required")
	}
	if ctx == nil {
		return nil, errors.New("esp: context is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := d.Mode
	if mode == nil {
		baud := d.BaudRate
		if baud == 0 {
			baud = defaultBaudRate
		}
		mode = &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
	}

	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("esp: open %s: %w", d.PortName, err)
	}
	if err := port.SetReadTimeout(pumpReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("esp: set read timeout on %s: %w", d.PortName, err)
	}
	// Stale bytes from before the open belong to nobody.
	_ = port.ResetInputBuffer()

	return newSerialTransport(port), nil
}

// serialTransport buffers everything the port delivers so Buffered can be
// answered without blocking.
type serialTransport struct {
	port serial.Port

	mu          sync.Mutex
	pending     bytes.Buffer
	readErr     error
	readTimeout time.Duration

	arrived   chan struct{}
	closed    chan struct{}
	pumpDone  chan struct{}
	closeOnce sync.Once
}

func newSerialTransport(port serial.Port) *serialTransport {
	t := &serialTransport{
		port:        port,
		readTimeout: DefaultReceiveTimeout,
		arrived:     make(chan struct{}, 1),
		closed:      make(chan struct{}),
		pumpDone:    make(chan struct{}),
	}
	go t.pump()
	return t
}

func (t *serialTransport) pump() {
	defer close(t.pumpDone)

	chunk := make([]byte, pumpChunkSize)
	for {
		n, err := t.port.Read(chunk)

		t.mu.Lock()
		if n > 0 {
			t.pending.Write(chunk[:n])
		}
		if err != nil {
			t.readErr = err
		}
		t.mu.Unlock()

		if n > 0 || err != nil {
			select {
			case t.arrived <- struct{}{}:
			default:
			}
		}
		if err != nil {
			return
		}

		select {
		case <-t.closed:
			return
		default:
		}
	}
}

func (t *serialTransport) Buffered() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending.Len()
}

func (t *serialTransport) SetReadTimeout(d time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readTimeout = d
	return nil
}

// Read returns buffered bytes, waiting up to the read timeout when none are
// pending. It returns os.ErrDeadlineExceeded when the wait expires.
func (t *serialTransport) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	t.mu.Lock()
	deadline := time.Now().Add(t.readTimeout)
	t.mu.Unlock()

	for {
		t.mu.Lock()
		if t.pending.Len() > 0 {
			n, _ := t.pending.Read(p)
			t.mu.Unlock()
			return n, nil
		}
		err := t.readErr
		t.mu.Unlock()

		if err != nil {
			return 0, err
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return 0, os.ErrDeadlineExceeded
		}

		timer := time.NewTimer(wait)
		select {
		case <-t.arrived:
		case <-timer.C:
		case <-t.closed:
			timer.Stop()
			return 0, ErrAlreadyClosed
		}
		timer.Stop()
	}
}

func (t *serialTransport) Write(p []byte) (int, error) {
	return t.port.Write(p)
}

func (t *serialTransport) Close() error {
	err := ErrAlreadyClosed
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.port.Close()
		<-t.pumpDone
	})
	return err
}
