// state/state.go
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tierbot/logs"
	"tierbot/position"
	"tierbot/profit"
	"tierbot/risk"
)

// StateManagerInterface is what the orchestrator needs from durable storage.
type StateManagerInterface interface {
	// GetFullState returns a copy of the last saved state for startup reconciliation.
	GetFullState() AppState
	// Save replaces the stored state and writes it to disk.
	Save(st AppState) error
}

// AppState is the top-level structure persisted to state.json.
type AppState struct {
	TradingDay string              `json:"trading_day"`
	SavedAt    time.Time           `json:"saved_at"`
	Risk       *risk.State         `json:"risk,omitempty"`
	Positions  []position.Position `json:"positions"`
	Profit     *profit.Summary     `json:"profit,omitempty"`
}

func (s AppState) clone() AppState {
	out := s
	if s.Risk != nil {
		r := *s.Risk
		out.Risk = &r
	}
	if s.Profit != nil {
		p := *s.Profit
		out.Profit = &p
	}
	out.Positions = make([]position.Position, len(s.Positions))
	for i, p := range s.Positions {
		if p.Pending != nil {
			pe := *p.Pending
			p.Pending = &pe
		}
		p.Tiers = append([]int(nil), p.Tiers...)
		out.Positions[i] = p
	}
	return out
}

// StateManager is the file implementation of StateManagerInterface.
type StateManager struct {
	mu       sync.RWMutex
	filePath string
	state    AppState
}

// NewStateManager loads existing state, or starts empty when the file does not exist yet.
func NewStateManager(filePath string) (*StateManager, error) {
	sm := &StateManager{filePath: filePath}

	if err := sm.load(); err != nil {
		if os.IsNotExist(err) {
			logs.Infof("[State] State file not found at %s. Starting with a fresh state.", filePath)
			if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create state directory: %w", err)
			}
			return sm, nil
		}
		return nil, fmt.Errorf("failed to load initial state: %w", err)
	}
	logs.Infof("[State] Loaded state for trading day %q with %d saved positions", sm.state.TradingDay, len(sm.state.Positions))
	return sm, nil
}

// save writes atomically through a temp file. The caller must hold the lock.
func (sm *StateManager) save() error {
	data, err := json.MarshalIndent(sm.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state for saving: %w", err)
	}

	tmpFilePath := sm.filePath + ".tmp"
	if err := os.WriteFile(tmpFilePath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write to temporary state file: %w", err)
	}
	return os.Rename(tmpFilePath, sm.filePath)
}

func (sm *StateManager) load() error {
	data, err := os.ReadFile(sm.filePath)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	var st AppState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("corrupt state file %s: %w", sm.filePath, err)
	}
	sm.state = st
	return nil
}

func (sm *StateManager) GetFullState() AppState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state.clone()
}

func (sm *StateManager) Save(st AppState) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.state = st.clone()
	return sm.save()
}
