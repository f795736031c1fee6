package engine

import (
	"sync"

	"arb-engine/pkg/types"
)

// atomicStatus is a mutex-guarded EngineStatus, safe for concurrent
// Start/Stop calls racing with dashboard reads.
type atomicStatus struct {
	mu sync.RWMutex
	v  types.EngineStatus
}

func (s *atomicStatus) set(v types.EngineStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v = v
}

func (s *atomicStatus) get() types.EngineStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v
}
