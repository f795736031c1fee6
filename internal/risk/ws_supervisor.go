package risk

import (
	"sync"
	"time"

	"arb-engine/pkg/types"
)

// WsSupervisor tracks per-venue WS connectivity and idle timeout.
type WsSupervisor struct {
	mu            sync.Mutex
	idleTimeoutMs int64
	states        map[types.Venue]*types.WsState
}

// NewWsSupervisor builds a supervisor with the given idle timeout.
func NewWsSupervisor(idleTimeoutSec int) *WsSupervisor {
	return &WsSupervisor{
		idleTimeoutMs: int64(idleTimeoutSec) * 1000,
		states:        make(map[types.Venue]*types.WsState),
	}
}

func (s *WsSupervisor) stateLocked(venue types.Venue) *types.WsState {
	st, ok := s.states[venue]
	if !ok {
		st = &types.WsState{Venue: venue}
		s.states[venue] = st
	}
	return st
}

// MarkConnected records that venue's WS is up and just delivered a message.
func (s *WsSupervisor) MarkConnected(venue types.Venue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stateLocked(venue)
	st.Connected = true
	st.LastMessageMs = time.Now().UnixMilli()
}

// MarkMessage records liveness for venue and marks it connected.
func (s *WsSupervisor) MarkMessage(venue types.Venue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stateLocked(venue)
	st.Connected = true
	st.LastMessageMs = time.Now().UnixMilli()
}

// MarkDisconnected records a disconnection and bumps the reconnect counter.
func (s *WsSupervisor) MarkDisconnected(venue types.Venue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stateLocked(venue)
	st.Connected = false
	st.ReconnectCount++
	st.LastDisconnectMs = time.Now().UnixMilli()
}

// IsOK reports whether every registered venue is connected and has not gone
// idle beyond the timeout. False if no venue has been registered.
func (s *WsSupervisor) IsOK() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.states) == 0 {
		return false
	}
	now := time.Now().UnixMilli()
	for _, st := range s.states {
		if !st.Connected {
			return false
		}
		if st.LastMessageMs != 0 && now-st.LastMessageMs > s.idleTimeoutMs {
			return false
		}
	}
	return true
}

// Snapshot returns a copy of every tracked venue's WS state.
func (s *WsSupervisor) Snapshot() map[types.Venue]types.WsState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[types.Venue]types.WsState, len(s.states))
	for v, st := range s.states {
		out[v] = *st
	}
	return out
}
