package esp

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"go.bug.st/serial"
	"go.uber.org/mock/gomock"
)

func TestSerialDialer_Dial_EmptyPortName(t *testing.T) {
	dialer := SerialDialer{
		PortName: "",
	}

	ctx := context.Background()
	transport, err := dialer.Dial(ctx)

	if err == nil {
		t.Fatal("expected error for empty port name")
	}
	if transport != nil {
		t.Error("expected nil transport for empty port name")
	}
	if err.Error() != "esp: serial port name is required" {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestSerialDialer_Dial_NilContext(t *testing.T) {
	dialer := SerialDialer{
		PortName: "/dev/ttyUSB0",
	}

	transport, err := dialer.Dial(nil)

	if err == nil {
		t.Fatal("expected error for nil context")
	}
	if transport != nil {
		t.Error("expected nil transport for nil context")
	}
	if err.Error() != "esp: context is nil" {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestSerialDialer_Dial_ContextCanceled(t *testing.T) {
	dialer := SerialDialer{
		PortName: "/dev/nonexistent", // Port that should fail to open
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	transport, err := dialer.Dial(ctx)

	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
	if transport != nil {
		t.Error("expected nil transport for canceled context")
	}
}

func TestSerialDialer_Dial_WithMode(t *testing.T) {
	dialer := SerialDialer{
		PortName: "/dev/nonexistent", // This will fail, but we test the path
		Mode: &serial.Mode{
			BaudRate: 115200,
			Parity:   serial.NoParity,
			DataBits: 8,
			StopBits: serial.OneStopBit,
		},
	}

	transport, err := dialer.Dial(context.Background())

	// Since we're using a non-existent port, expect an error
	if err == nil {
		t.Error("expected error for non-existent port")
	}
	if transport != nil {
		t.Error("expected nil transport for non-existent port")
	}
}

func TestSerialDialer_Dial_DefaultMode(t *testing.T) {
	dialer := SerialDialer{
		PortName: "/dev/nonexistent", // This will fail, but we test the path
		// Mode is nil - should use defaults
	}

	transport, err := dialer.Dial(context.Background())

	if err == nil {
		t.Error("expected error for non-existent port")
	}
	if transport != nil {
		t.Error("expected nil transport for non-existent port")
	}
}

// fakePort stands in for an open serial port. Methods the transport does not
// use are left to the nil embedded interface.
type fakePort struct {
	serial.Port
	data   chan []byte
	closed chan struct{}
}

func newFakePort() *fakePort {
	return &fakePort{data: make(chan []byte, 4), closed: make(chan struct{})}
}

func (p *fakePort) Read(b []byte) (int, error) {
	select {
	case d := <-p.data:
		return copy(b, d), nil
	case <-p.closed:
		return 0, errors.New("port closed")
	case <-time.After(5 * time.Millisecond):
		// A serial read timeout yields no bytes and no error.
		return 0, nil
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	return len(b), nil
}

func (p *fakePort) Close() error {
	close(p.closed)
	return nil
}

func TestSerialTransport(t *testing.T) {
	t.Run("Buffers what the port delivers", func(t *testing.T) {
		port := newFakePort()
		transport := newSerialTransport(port)
		defer transport.Close()

		port.data <- []byte("OK\r\n")

		deadline := time.Now().Add(time.Second)
		for transport.Buffered() < 4 {
			if time.Now().After(deadline) {
				t.Fatalf("expected 4 bytes buffered, got %d", transport.Buffered())
			}
			time.Sleep(time.Millisecond)
		}

		buf := make([]byte, 8)
		n, err := transport.Read(buf)
		if err != nil {
			t.Fatalf("unexpected read error: %v", err)
		}
		if string(buf[:n]) != "OK\r\n" {
			t.Errorf("expected OK\\r\\n, got %q", buf[:n])
		}
	})

	t.Run("Read waits for late bytes", func(t *testing.T) {
		port := newFakePort()
		transport := newSerialTransport(port)
		defer transport.Close()

		time.AfterFunc(10*time.Millisecond, func() { port.data <- []byte("ready\r\n") })

		buf := make([]byte, 16)
		n, err := transport.Read(buf)
		if err != nil {
			t.Fatalf("unexpected read error: %v", err)
		}
		if string(buf[:n]) != "ready\r\n" {
			t.Errorf("unexpected bytes %q", buf[:n])
		}
	})

	t.Run("Read times out", func(t *testing.T) {
		transport := newSerialTransport(newFakePort())
		defer transport.Close()

		if err := transport.SetReadTimeout(5 * time.Millisecond); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		_, err := transport.Read(make([]byte, 4))
		if !errors.Is(err, os.ErrDeadlineExceeded) {
			t.Errorf("expected os.ErrDeadlineExceeded, got: %v", err)
		}
	})

	t.Run("Close twice", func(t *testing.T) {
		transport := newSerialTransport(newFakePort())

		if err := transport.Close(); err != nil {
			t.Errorf("unexpected error from Close(): %v", err)
		}
		if err := transport.Close(); err != ErrAlreadyClosed {
			t.Errorf("expected ErrAlreadyClosed, got: %v", err)
		}
	})
}

func TestTestTransport_Reply(t *testing.T) {
	transport := NewTestTransport()
	transport.Reply("AT\r\n", "OK\r\n")
	transport.Reply("AT\r\n", "ERROR\r\n")

	transport.Write([]byte("AT\r\n"))
	if transport.Pending() != "OK\r\n" {
		t.Errorf("expected first reply, got %q", transport.Pending())
	}
	transport.Write([]byte("AT\r\n"))
	if transport.Pending() != "OK\r\nERROR\r\n" {
		t.Errorf("expected second reply queued, got %q", transport.Pending())
	}
	transport.Write([]byte("AT\r\n"))
	if transport.Pending() != "OK\r\nERROR\r\n" {
		t.Errorf("replies should fire once, got %q", transport.Pending())
	}
}

// Test the interface compliance
func TestTransportInterface(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTransport := NewMockTransport(ctrl)

	var _ Transport = mockTransport
	var _ Transport = (*serialTransport)(nil)
	var _ Transport = (*TestTransport)(nil)

	data := []byte("test")
	mockTransport.EXPECT().Write(data).Return(len(data), nil)
	mockTransport.EXPECT().Buffered().Return(4)
	mockTransport.EXPECT().Read(gomock.Any()).Return(4, nil)
	mockTransport.EXPECT().Close().Return(nil)

	n, err := mockTransport.Write(data)
	if err != nil {
		t.Errorf("unexpected write error: %v", err)
	}
	if n != len(data) {
		t.Errorf("expected %d bytes written, got %d", len(data), n)
	}

	if got := mockTransport.Buffered(); got != 4 {
		t.Errorf("expected 4 bytes buffered, got %d", got)
	}

	buf := make([]byte, 10)
	n, err = mockTransport.Read(buf)
	if err != nil {
		t.Errorf("unexpected read error: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 bytes read, got %d", n)
	}

	if err := mockTransport.Close(); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
}

func TestDialerInterface(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDialer := NewMockDialer(ctrl)
	mockTransport := NewMockTransport(ctrl)

	var _ Dialer = mockDialer
	var _ Dialer = SerialDialer{}

	ctx := context.Background()
	mockDialer.EXPECT().Dial(ctx).Return(mockTransport, nil)

	transport, err := mockDialer.Dial(ctx)
	if err != nil {
		t.Errorf("unexpected dial error: %v", err)
	}
	if transport != mockTransport {
		t.Error("expected mock transport to be returned")
	}
}

func TestDialerInterface_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDialer := NewMockDialer(ctrl)
	dialError := errors.New("dial failed")

	ctx := context.Background()
	mockDialer.EXPECT().Dial(ctx).Return(nil, dialError)

	transport, err := mockDialer.Dial(ctx)
	if err != dialError {
		t.Errorf("expected dial error, got: %v", err)
	}
	if transport != nil {
		t.Error("expected nil transport on dial error")
	}
}
