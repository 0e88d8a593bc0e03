package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/logging"
	"github.com/therealutkarshpriyadarshi/jsonmessage/pkg/types"
)

const positionsFile = "positions.json"

// Manager persists how far each tailed file has been read
type Manager struct {
	mu            sync.RWMutex
	saveMu        sync.Mutex
	checkpointDir string
	positions     map[string]*types.FilePosition
	interval      time.Duration
	logger        *logging.Logger
	stopCh        chan struct{}
	saveCh        chan struct{}
	stopOnce      sync.Once
}

// NewManager creates a checkpoint manager writing under checkpointDir
func NewManager(checkpointDir string, interval time.Duration, logger *logging.Logger) (*Manager, error) {
	if err := os.MkdirAll(checkpointDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &Manager{
		checkpointDir: checkpointDir,
		positions:     make(map[string]*types.FilePosition),
		interval:      interval,
		logger:        logger.WithComponent("checkpoint"),
		stopCh:        make(chan struct{}),
		saveCh:        make(chan struct{}, 1),
	}, nil
}

// Start starts the periodic checkpoint saving
func (m *Manager) Start() {
	go m.saveLoop()
}

// Stop ends periodic saving and writes the final positions
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		if err := m.Save(); err != nil {
			m.logger.Error().Err(err).Msg("Failed to save final checkpoint")
		}
	})
}

// UpdatePosition records the read offset for a file and requests a save
func (m *Manager) UpdatePosition(path string, offset int64, inode uint64) {
	m.mu.Lock()
	m.positions[path] = &types.FilePosition{
		Path:   path,
		Offset: offset,
		Inode:  inode,
	}
	m.mu.Unlock()

	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

// GetPosition retrieves the position for a file
func (m *Manager) GetPosition(path string) (types.FilePosition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pos, ok := m.positions[path]
	if !ok {
		return types.FilePosition{}, false
	}
	return *pos, true
}

// Load loads checkpoints from disk. A missing file is not an error.
func (m *Manager) Load() error {
	data, err := os.ReadFile(filepath.Join(m.checkpointDir, positionsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var positions map[string]*types.FilePosition
	if err := json.Unmarshal(data, &positions); err != nil {
		return fmt.Errorf("failed to unmarshal checkpoint data: %w", err)
	}
	if positions == nil {
		positions = make(map[string]*types.FilePosition)
	}

	m.mu.Lock()
	m.positions = positions
	m.mu.Unlock()

	m.logger.Info().Int("files", len(positions)).Msg("Loaded checkpoints")
	return nil
}

// Save writes all positions to disk atomically
func (m *Manager) Save() error {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.RLock()
	data, err := json.MarshalIndent(m.positions, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint data: %w", err)
	}

	checkpointFile := filepath.Join(m.checkpointDir, positionsFile)
	tmpFile := checkpointFile + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}

	if err := os.Rename(tmpFile, checkpointFile); err != nil {
		return fmt.Errorf("failed to rename checkpoint file: %w", err)
	}

	return nil
}

// saveLoop saves on every tick and whenever a position changed, at most
// once per interval
func (m *Manager) saveLoop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	dirty := false
	for {
		select {
		case <-m.saveCh:
			dirty = true
		case <-ticker.C:
			if !dirty {
				continue
			}
			dirty = false
			if err := m.Save(); err != nil {
				m.logger.Error().Err(err).Msg("Failed to save checkpoint")
			}
		case <-m.stopCh:
			return
		}
	}
}
