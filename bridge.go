package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/puzpuzpuz/xsync/v3"

	"i4.energy/across/espbridge/at"
	"i4.energy/across/espbridge/esp"
)

// Device is the part of *esp.Device the bridge drives.
type Device interface {
	SetupTCPServer(ctx context.Context, ssid, password string, port uint16) error
	TCPRecvFrame(ctx context.Context, buf []byte) (at.FrameHeader, int, error)
	TCPSend(ctx context.Context, link int, data []byte) error
	CloseLink(ctx context.Context, link int) error
	Timeouts() esp.Timeouts
	State() esp.State
	Host() string
	LocalIP() netip.Addr
	Metrics() *esp.Metrics
}

// BridgeConfig holds the settings of a Bridge.
type BridgeConfig struct {
	SSID       string
	Password   string
	ServerPort uint16
	// MaxRetries is the number of SetupTCPServer attempts before Run gives up.
	MaxRetries int
	// RetryDelay is the pause between setup attempts.
	RetryDelay time.Duration
	// FrameHistory is the number of received frames kept for /frames.
	FrameHistory int
	// BufferSize bounds the payload read per frame.
	BufferSize int
}

// Frame is a payload received from a client of the module's TCP server.
type Frame struct {
	LinkID     int       `json:"link"`
	RemoteIP   string    `json:"remote_ip,omitempty"`
	RemotePort int       `json:"remote_port,omitempty"`
	Data       string    `json:"data"`
	Received   time.Time `json:"received"`
}

// LinkStats summarizes the traffic seen on one link id.
type LinkStats struct {
	Frames   uint64    `json:"frames"`
	Bytes    uint64    `json:"bytes"`
	LastSeen time.Time `json:"last_seen"`
}

type linkStats struct {
	frames   atomic.Uint64
	bytes    atomic.Uint64
	lastSeen atomic.Int64
}

// Status is the snapshot served by /status.
type Status struct {
	State    string            `json:"state"`
	Host     string            `json:"host,omitempty"`
	LocalIP  string            `json:"local_ip,omitempty"`
	Timeouts map[string]string `json:"timeouts,omitempty"`
	Metrics  esp.Snapshot      `json:"metrics"`
	Links    map[int]LinkStats `json:"links"`
}

// Bridge keeps the module serving TCP and exposes what it receives.
//
// The Device is not safe for concurrent use; every call into it goes
// through mu. Run holds mu for at most one Data timeout at a time so that
// Send can interleave with the receive loop.
type Bridge struct {
	logger *slog.Logger
	device Device
	config BridgeConfig

	mu sync.Mutex

	framesMu sync.Mutex
	frames   *queue.Queue
	links    *xsync.MapOf[int, *linkStats]

	timeouts  atomic.Pointer[esp.Timeouts]
	ready     chan struct{}
	readyOnce sync.Once
}

func NewBridge(logger *slog.Logger, device Device, config BridgeConfig) *Bridge {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 1
	}
	if config.FrameHistory <= 0 {
		config.FrameHistory = 32
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 2048
	}
	return &Bridge{
		logger: logger,
		device: device,
		config: config,
		frames: queue.New(),
		links:  xsync.NewMapOf[int, *linkStats](),
		ready:  make(chan struct{}),
	}
}

// Ready is closed once the TCP server is listening.
func (b *Bridge) Ready() <-chan struct{} {
	return b.ready
}

// Run brings up the TCP server and then receives frames until ctx is done
// or the device fails. Receive timeouts are the normal idle case.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.setup(ctx); err != nil {
		return err
	}

	buf := make([]byte, b.config.BufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		b.mu.Lock()
		h, n, err := b.device.TCPRecvFrame(ctx, buf)
		b.mu.Unlock()

		switch {
		case err == nil:
			b.record(h, buf[:n])
		case errors.Is(err, esp.ErrTimeout):
			continue
		case errors.Is(err, esp.ErrMalformedHeader):
			b.logger.Warn("dropped frame", "error", err)
			continue
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			return fmt.Errorf("receive: %w", err)
		}
	}
}

func (b *Bridge) setup(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= b.config.MaxRetries; attempt++ {
		b.mu.Lock()
		err = b.device.SetupTCPServer(ctx, b.config.SSID, b.config.Password, b.config.ServerPort)
		timeouts := b.device.Timeouts()
		b.mu.Unlock()

		if err == nil {
			b.timeouts.Store(&timeouts)
			b.logger.Info("tcp server ready",
				"port", b.config.ServerPort,
				"local_ip", b.device.LocalIP(),
				"attempt", attempt)
			b.readyOnce.Do(func() { close(b.ready) })
			return nil
		}

		b.logger.Warn("tcp server setup failed", "attempt", attempt, "max", b.config.MaxRetries, "error", err)
		if errors.Is(err, esp.ErrAlreadyClosed) || ctx.Err() != nil {
			break
		}
		if attempt < b.config.MaxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.config.RetryDelay):
			}
		}
	}
	return fmt.Errorf("setup tcp server: %w", err)
}

func (b *Bridge) record(h at.FrameHeader, payload []byte) {
	now := time.Now()
	frame := Frame{
		LinkID:     h.LinkID,
		RemotePort: h.RemotePort,
		Data:       string(payload),
		Received:   now,
	}
	if h.RemoteIP.IsValid() {
		frame.RemoteIP = h.RemoteIP.String()
	}

	b.framesMu.Lock()
	for b.frames.Length() >= b.config.FrameHistory {
		b.frames.Remove()
	}
	b.frames.Add(frame)
	b.framesMu.Unlock()

	stats, _ := b.links.LoadOrCompute(h.LinkID, func() *linkStats { return &linkStats{} })
	stats.frames.Add(1)
	stats.bytes.Add(uint64(len(payload)))
	stats.lastSeen.Store(now.UnixNano())

	b.logger.Debug("frame received", "link", h.LinkID, "bytes", len(payload))
}

// Send writes data to link through the module.
func (b *Bridge) Send(ctx context.Context, link int, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.device.TCPSend(ctx, link, data)
}

// CloseLink drops one client of the TCP server and forgets its statistics.
func (b *Bridge) CloseLink(ctx context.Context, link int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.device.CloseLink(ctx, link); err != nil {
		return err
	}
	b.links.Delete(link)
	return nil
}

// Frames returns the retained frames, oldest first.
func (b *Bridge) Frames() []Frame {
	b.framesMu.Lock()
	defer b.framesMu.Unlock()

	frames := make([]Frame, 0, b.frames.Length())
	for i := 0; i < b.frames.Length(); i++ {
		frames = append(frames, b.frames.Get(i).(Frame))
	}
	return frames
}

// Status reports the device state without waiting for the receive loop.
func (b *Bridge) Status() Status {
	s := Status{
		State:   b.device.State().String(),
		Host:    b.device.Host(),
		Metrics: b.device.Metrics().Snapshot(),
		Links:   make(map[int]LinkStats),
	}
	if ip := b.device.LocalIP(); ip.IsValid() {
		s.LocalIP = ip.String()
	}
	if t := b.timeouts.Load(); t != nil {
		s.Timeouts = map[string]string{
			"receive":      t.Receive.String(),
			"reset":        t.Reset.String(),
			"associate":    t.Associate.String(),
			"session_idle": t.SessionIdle.String(),
			"data":         t.Data.String(),
		}
	}

	b.links.Range(func(id int, stats *linkStats) bool {
		s.Links[id] = LinkStats{
			Frames:   stats.frames.Load(),
			Bytes:    stats.bytes.Load(),
			LastSeen: time.Unix(0, stats.lastSeen.Load()),
		}
		return true
	})
	return s
}
