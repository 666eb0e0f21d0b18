// Package health tracks downstream server health. State transitions follow
// the supervisor's budget: N consecutive errors mark a server unhealthy, M
// cumulative errors quarantine it (disabled). Disabled state persists across
// restarts via per-server snapshots under <dataDir>/health.
package health

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/atomicfile"
)

// State is the health state of a downstream server.
type State string

const (
	StateUnknown   State = "unknown"
	StateHealthy   State = "healthy"
	StateUnhealthy State = "unhealthy"
	StateDisabled  State = "disabled"
)

// Snapshot is the persisted health record of one server.
type Snapshot struct {
	ServerName        string    `json:"server_name"`
	State             State     `json:"state"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	TotalErrors       int       `json:"total_errors"`
	LastError         string    `json:"last_error,omitempty"`
	LastCheckAt       time.Time `json:"last_check_at"`
	DisabledReason    string    `json:"disabled_reason,omitempty"`
}

// Store tracks health snapshots for all servers of the active profile.
// A single-writer mutex guards mutation; readers receive copies.
type Store struct {
	mu     sync.Mutex
	dir    string
	logger *zap.Logger

	unhealthyAfter int // N consecutive errors
	disableAfter   int // M cumulative errors

	servers map[string]*Snapshot
}

// NewStore loads existing snapshots from <dataDir>/health.
func NewStore(dataDir string, unhealthyAfter, disableAfter int, logger *zap.Logger) (*Store, error) {
	dir := filepath.Join(dataDir, "health")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create health directory: %w", err)
	}

	s := &Store{
		dir:            dir,
		logger:         logger,
		unhealthyAfter: unhealthyAfter,
		disableAfter:   disableAfter,
		servers:        make(map[string]*Snapshot),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read health directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var snap Snapshot
		if err := atomicfile.ReadJSON(filepath.Join(dir, entry.Name()), &snap); err != nil {
			logger.Warn("Skipping unreadable health snapshot",
				zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		if snap.ServerName != "" {
			s.servers[snap.ServerName] = &snap
		}
	}

	return s, nil
}

// StateOf returns the current state of a server (unknown if never seen).
func (s *Store) StateOf(serverName string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap, ok := s.servers[serverName]; ok {
		return snap.State
	}
	return StateUnknown
}

// SnapshotOf returns a copy of a server's health snapshot.
func (s *Store) SnapshotOf(serverName string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap, ok := s.servers[serverName]; ok {
		return *snap
	}
	return Snapshot{ServerName: serverName, State: StateUnknown}
}

// All returns copies of all known snapshots.
func (s *Store) All() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Snapshot, 0, len(s.servers))
	for _, snap := range s.servers {
		out = append(out, *snap)
	}
	return out
}

// MarkHealthy records a successful probe or call. A healthy observation
// clears the consecutive error count; quarantined servers stay disabled
// until explicitly enabled.
func (s *Store) MarkHealthy(serverName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.get(serverName)
	if snap.State == StateDisabled {
		return
	}
	snap.State = StateHealthy
	snap.ConsecutiveErrors = 0
	snap.LastError = ""
	snap.LastCheckAt = time.Now().UTC()
	s.persist(snap)
}

// MarkUnhealthy records a failed probe or call, applying the error budget.
func (s *Store) MarkUnhealthy(serverName string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.get(serverName)
	if snap.State == StateDisabled {
		return
	}

	snap.ConsecutiveErrors++
	snap.TotalErrors++
	if err != nil {
		snap.LastError = err.Error()
	}
	snap.LastCheckAt = time.Now().UTC()

	if snap.TotalErrors >= s.disableAfter {
		snap.State = StateDisabled
		snap.DisabledReason = fmt.Sprintf("quarantined after %d errors: %s", snap.TotalErrors, snap.LastError)
		s.logger.Warn("Server quarantined",
			zap.String("server", serverName),
			zap.Int("total_errors", snap.TotalErrors),
			zap.String("last_error", snap.LastError))
	} else if snap.ConsecutiveErrors >= s.unhealthyAfter {
		snap.State = StateUnhealthy
	}
	s.persist(snap)
}

// Enable manually resets a server to unknown, clearing the error budget.
// This is the only way out of the disabled state.
func (s *Store) Enable(serverName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.get(serverName)
	snap.State = StateUnknown
	snap.ConsecutiveErrors = 0
	snap.TotalErrors = 0
	snap.LastError = ""
	snap.DisabledReason = ""
	snap.LastCheckAt = time.Now().UTC()
	s.persist(snap)

	s.logger.Info("Server re-enabled", zap.String("server", serverName))
}

// Remove drops the snapshot for a server removed from the profile.
func (s *Store) Remove(serverName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.servers, serverName)
	if err := os.Remove(s.path(serverName)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("Failed to remove health snapshot",
			zap.String("server", serverName), zap.Error(err))
	}
}

func (s *Store) get(serverName string) *Snapshot {
	snap, ok := s.servers[serverName]
	if !ok {
		snap = &Snapshot{ServerName: serverName, State: StateUnknown}
		s.servers[serverName] = snap
	}
	return snap
}

func (s *Store) persist(snap *Snapshot) {
	if err := atomicfile.WriteJSON(s.path(snap.ServerName), snap); err != nil {
		s.logger.Error("Failed to persist health snapshot",
			zap.String("server", snap.ServerName), zap.Error(err))
	}
}

func (s *Store) path(serverName string) string {
	return filepath.Join(s.dir, sanitizeName(serverName)+".json")
}

// sanitizeName keeps snapshot filenames filesystem-safe.
func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}
