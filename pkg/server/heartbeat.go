package server

import (
	"sync/atomic"
	"time"
)

// HeartbeatRecord tracks liveness probes on one connection. It is used for
// observability only; a missed acknowledgement never closes a connection.
type HeartbeatRecord struct {
	lastSent     atomic.Int64
	lastAcked    atomic.Int64
	lastReceived atomic.Int64
	missed       atomic.Uint64
}

func (h *HeartbeatRecord) sent(t time.Time)     { h.lastSent.Store(t.UnixNano()) }
func (h *HeartbeatRecord) acked(t time.Time)    { h.lastAcked.Store(t.UnixNano()) }
func (h *HeartbeatRecord) received(t time.Time) { h.lastReceived.Store(t.UnixNano()) }

// pending reports whether the last probe is still unacknowledged.
func (h *HeartbeatRecord) pending() bool {
	sent := h.lastSent.Load()
	return sent != 0 && sent > h.lastAcked.Load()
}

// LastSent returns when the server last sent a probe.
func (h *HeartbeatRecord) LastSent() time.Time { return unixNano(h.lastSent.Load()) }

// LastAcked returns when the client last acknowledged a probe.
func (h *HeartbeatRecord) LastAcked() time.Time { return unixNano(h.lastAcked.Load()) }

// LastReceived returns when the client last sent its own heartbeat.
func (h *HeartbeatRecord) LastReceived() time.Time { return unixNano(h.lastReceived.Load()) }

// Missed returns how many probes went unacknowledged.
func (h *HeartbeatRecord) Missed() uint64 { return h.missed.Load() }

func unixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
