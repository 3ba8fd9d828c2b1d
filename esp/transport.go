package esp

//go:generate go tool mockgen -source=transport.go -destination=mock_transport.go -package=esp

import (
	"context"
	"io"
	"time"
)

// Transport represents an established, bidirectional byte stream to an
// ESP8266 module.
//
// A Transport is assumed to be already connected and ready for use. Besides
// the io.ReadWriteCloser primitives the engine needs to know how many bytes
// are waiting without blocking, because every wait is a poll against a
// deadline. Typical implementations include serial ports and in-memory fakes
// used for testing.
//
// A Transport is used by one caller at a time.
type Transport interface {
	io.ReadWriteCloser

	// Buffered reports how many bytes can be read without blocking.
	Buffered() int

	// SetReadTimeout sets how long Read waits when nothing is buffered.
	SetReadTimeout(d time.Duration) error
}

// Dialer opens a Transport to an ESP8266 module.
//
// Dialer abstracts how the connection is created (for example, via a serial
// port or test double) and is intended to be used during Device construction
// only. Once a Transport is obtained, the Dialer is no longer needed.
type Dialer interface {
	// Dial is responsible for creating and returning a connected Transport. It may
	// perform blocking operations and should respect cancellation and deadlines
	// provided by the context. Dial returns an error if the transport cannot be
	// established.
	Dial(ctx context.Context) (Transport, error)
}
