package spread

import (
	"sync"

	"arb-engine/pkg/types"
)

// ModeController holds the active StrategyMode per symbol, defaulting to
// normal. Switching modes is operator-driven (dashboard RPC) and takes
// effect on the next Signal call.
type ModeController struct {
	mu    sync.RWMutex
	modes map[string]types.StrategyMode
}

// NewModeController builds a controller with no symbols registered; Mode
// defaults every unregistered symbol to normal.
func NewModeController() *ModeController {
	return &ModeController{modes: make(map[string]types.StrategyMode)}
}

// Mode returns symbol's active mode, defaulting to ModeNormal.
func (c *ModeController) Mode(symbol string) types.StrategyMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.modes[symbol]; ok {
		return m
	}
	return types.ModeNormal
}

// SetMode switches symbol into m.
func (c *ModeController) SetMode(symbol string, m types.StrategyMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modes[symbol] = m
}
