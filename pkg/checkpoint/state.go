package checkpoint

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"igcrawler/pkg/logger"
	"igcrawler/pkg/models"
)

// StateManager persists the hashtag scan progress as JSON.
type StateManager struct {
	path   string
	logger logger.Logger
	now    func() time.Time
}

// NewStateManager creates a manager for the scan state at path.
func NewStateManager(path string, log logger.Logger) *StateManager {
	if log == nil {
		log = logger.GetLogger()
	}
	return &StateManager{
		path:   path,
		logger: logger.ForComponent(log, "scan_state"),
		now:    time.Now,
	}
}

func (m *StateManager) Path() string { return m.path }

// Load returns the saved state, or nil when none exists.
func (m *StateManager) Load() (*models.ScanState, error) {
	file, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open scan state file: %w", err)
	}
	defer file.Close()

	var state models.ScanState
	if err := json.NewDecoder(file).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode scan state: %w", err)
	}

	m.logger.InfoWithFields("Scan state loaded", map[string]interface{}{
		"run_id":           state.RunID,
		"tags_processed":   len(state.TagsProcessed),
		"discovered_count": state.DiscoveredCount,
		"updated_at":       state.LastTimestamp,
	})
	return &state, nil
}

// Save writes state atomically.
func (m *StateManager) Save(state *models.ScanState) error {
	state.LastTimestamp = m.now()

	err := writeAtomic(m.path, func(w io.Writer) error {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(state); err != nil {
			return fmt.Errorf("failed to encode scan state: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.DebugWithFields("Scan state saved", map[string]interface{}{
		"last_tag":         state.LastTag,
		"discovered_count": state.DiscoveredCount,
	})
	return nil
}

// MarkTag records a finished tag and saves the state.
func (m *StateManager) MarkTag(state *models.ScanState, tag string, discovered int) error {
	if !state.HasTag(tag) {
		state.TagsProcessed = append(state.TagsProcessed, tag)
	}
	state.LastTag = tag
	state.DiscoveredCount = discovered
	return m.Save(state)
}

func (m *StateManager) Delete() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete scan state: %w", err)
	}
	m.logger.Info("Scan state deleted")
	return nil
}

func (m *StateManager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}
