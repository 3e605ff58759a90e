package checkpoint

import (
	"log/slog"
)

// Manager orchestrates checkpoint writes for one run directory.
type Manager struct {
	config *Config
	runDir string
}

// NewManager creates a checkpoint Manager rooted at runDir.
func NewManager(cfg *Config, runDir string) *Manager {
	if cfg == nil {
		cfg = &Config{}
		cfg.SetDefaults()
	}
	return &Manager{config: cfg, runDir: runDir}
}

// IsEnabled returns whether checkpointing is enabled.
func (m *Manager) IsEnabled() bool {
	return m.config.IsEnabled()
}

// Config returns the checkpoint configuration.
func (m *Manager) Config() *Config {
	return m.config
}

// RunDir returns the run directory the manager writes under.
func (m *Manager) RunDir() string {
	return m.runDir
}

// ShouldCheckpointAtIteration returns whether to checkpoint at the given
// iteration.
func (m *Manager) ShouldCheckpointAtIteration(iteration int) bool {
	return m.config.ShouldCheckpointAtIteration(iteration)
}

// ShouldCheckpointOnEvent returns whether event checkpoints are enabled.
func (m *Manager) ShouldCheckpointOnEvent() bool {
	return m.config.ShouldCheckpointOnEvent()
}

// Save persists state and prunes files beyond KeepLast. Saves are skipped
// while checkpointing is disabled.
func (m *Manager) Save(state *State) error {
	if !m.IsEnabled() {
		return nil
	}

	path, err := Save(m.runDir, state)
	if err != nil {
		return err
	}
	slog.Info("Saved checkpoint", "path", path, "iter", state.Iter)

	if err := prune(m.runDir, m.config.KeepLast); err != nil {
		slog.Warn("Failed to prune old checkpoints",
			"run_dir", m.runDir,
			"error", err)
	}
	return nil
}

// LoadLatest loads the newest checkpoint of the manager's run.
func (m *Manager) LoadLatest() (*State, error) {
	path, err := Latest(m.runDir)
	if err != nil {
		return nil, err
	}
	return Load(path)
}
