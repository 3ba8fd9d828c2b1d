package esp

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// TestTransport is an in-memory Transport for tests. Inbound bytes are queued
// with Feed, or scripted with Reply to answer what the Device writes, much
// like the module would.
type TestTransport struct {
	mu          sync.Mutex
	inbound     []byte
	written     bytes.Buffer
	replies     []*testReply
	readTimeout time.Duration
	arrived     chan struct{}
	closed      bool
}

type testReply struct {
	trigger  string
	response string
	fired    bool
}

// NewTestTransport creates a new test transport for testing.
// Exported for use in tests.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		readTimeout: 10 * time.Millisecond,
		arrived:     make(chan struct{}, 1),
	}
}

// Feed queues data to be read by the transport.
// This simulates receiving data from the module.
func (t *TestTransport) Feed(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.feedLocked(data)
}

// FeedAfter queues data once d has passed.
func (t *TestTransport) FeedAfter(d time.Duration, data string) {
	time.AfterFunc(d, func() { t.Feed(data) })
}

// Reply makes the transport queue the concatenated responses the first time
// the written bytes end with trigger. Replies fire once, in the order they
// were registered.
func (t *TestTransport) Reply(trigger string, responses ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replies = append(t.replies, &testReply{trigger: trigger, response: strings.Join(responses, "")})
}

// Written returns everything written so far.
func (t *TestTransport) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written.String()
}

// Pending returns the queued inbound bytes that have not been read.
func (t *TestTransport) Pending() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.inbound)
}

func (t *TestTransport) Buffered() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inbound)
}

func (t *TestTransport) SetReadTimeout(d time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readTimeout = d
	return nil
}

func (t *TestTransport) Read(p []byte) (int, error) {
	t.mu.Lock()
	deadline := time.Now().Add(t.readTimeout)
	t.mu.Unlock()

	for {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return 0, io.EOF
		}
		if len(t.inbound) > 0 {
			n := copy(p, t.inbound)
			t.inbound = t.inbound[n:]
			t.mu.Unlock()
			return n, nil
		}
		t.mu.Unlock()

		wait := time.Until(deadline)
		if wait <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
		select {
		case <-t.arrived:
		case <-time.After(wait):
		}
	}
}

func (t *TestTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.ErrClosedPipe
	}
	t.written.Write(p)

	for _, r := range t.replies {
		if !r.fired && bytes.HasSuffix(t.written.Bytes(), []byte(r.trigger)) {
			r.fired = true
			t.feedLocked(r.response)
			break
		}
	}
	return len(p), nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *TestTransport) feedLocked(data string) {
	if t.closed || data == "" {
		return
	}
	t.inbound = append(t.inbound, data...)
	select {
	case t.arrived <- struct{}{}:
	default:
	}
}

// TestDialer hands out a fixed Transport.
type TestDialer struct {
	Transport Transport
}

func (d TestDialer) Dial(ctx context.Context) (Transport, error) {
	return d.Transport, nil
}
