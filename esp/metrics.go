package esp

import (
	"sync/atomic"
)

// Metrics contains atomic counters for a Device. They may be read
// concurrently with the Device's own operations.
type Metrics struct {
	// CommandsSent indicates the number of commands written to the module.
	CommandsSent atomic.Uint64
	// MatchesFound indicates the number of awaited tokens that arrived.
	MatchesFound atomic.Uint64
	// MatchTimeouts indicates the number of waits that ended in a timeout.
	MatchTimeouts atomic.Uint64
	// ShortReads indicates the number of reads that returned fewer bytes than buffered.
	ShortReads atomic.Uint64
	// FramesReceived indicates the number of +IPD frames consumed by TCPRecv.
	FramesReceived atomic.Uint64
	// BytesReceived indicates the number of payload bytes returned by TCPRecv.
	BytesReceived atomic.Uint64
	// Resets indicates the number of successful hard and soft resets.
	Resets atomic.Uint64
}

// Snapshot is a plain copy of Metrics.
type Snapshot struct {
	CommandsSent   uint64 `json:"commands_sent"`
	MatchesFound   uint64 `json:"matches_found"`
	MatchTimeouts  uint64 `json:"match_timeouts"`
	ShortReads     uint64 `json:"short_reads"`
	FramesReceived uint64 `json:"frames_received"`
	BytesReceived  uint64 `json:"bytes_received"`
	Resets         uint64 `json:"resets"`
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		CommandsSent:   m.CommandsSent.Load(),
		MatchesFound:   m.MatchesFound.Load(),
		MatchTimeouts:  m.MatchTimeouts.Load(),
		ShortReads:     m.ShortReads.Load(),
		FramesReceived: m.FramesReceived.Load(),
		BytesReceived:  m.BytesReceived.Load(),
		Resets:         m.Resets.Load(),
	}
}

func (m *Metrics) incCommandsSent() {
	m.CommandsSent.Add(1)
}

func (m *Metrics) incMatchesFound() {
	m.MatchesFound.Add(1)
}

func (m *Metrics) incMatchTimeouts() {
	m.MatchTimeouts.Add(1)
}

func (m *Metrics) incShortReads() {
	m.ShortReads.Add(1)
}

func (m *Metrics) addFrame(n int) {
	m.FramesReceived.Add(1)
	m.BytesReceived.Add(uint64(n))
}

func (m *Metrics) incResets() {
	m.Resets.Add(1)
}
