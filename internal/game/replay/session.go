package replay

import (
	"sync"

	"go.uber.org/zap"

	"github.com/magefree/tactics-server-go/internal/game/snapshot"
)

// Session steps through the snapshots of a replayed game.
type Session struct {
	mu        sync.RWMutex
	gameID    string
	snapshots []*snapshot.Snapshot
	index     int
	logger    *zap.Logger
}

// NewSession constructs a session positioned before the first snapshot.
func NewSession(gameID string, snapshots []*snapshot.Snapshot, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		gameID:    gameID,
		snapshots: snapshots,
		logger:    logger.With(zap.String("game_id", gameID)),
	}
}

// Start rewinds to the beginning.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.index = 0
	s.logger.Debug("replay session rewound", zap.Int("snapshots", len(s.snapshots)))
}

// Next returns the snapshot at the cursor and advances it, or nil at the end.
func (s *Session) Next() *snapshot.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index < len(s.snapshots) {
		snap := s.snapshots[s.index]
		s.index++
		return snap
	}
	return nil
}

// Previous moves the cursor back and returns the snapshot there, or nil at the start.
func (s *Session) Previous() *snapshot.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index > 0 {
		s.index--
		return s.snapshots[s.index]
	}
	return nil
}

// Skip moves the cursor by count, clamped to the recorded range.
func (s *Session) Skip(count int) *snapshot.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.index + count
	if idx >= len(s.snapshots) {
		idx = len(s.snapshots) - 1
	}
	if idx < 0 {
		idx = 0
	}
	s.index = idx
	if s.index < len(s.snapshots) {
		return s.snapshots[s.index]
	}
	return nil
}

// Size returns the number of snapshots.
func (s *Session) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.snapshots)
}

// At returns the snapshot at index.
func (s *Session) At(index int) *snapshot.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if index >= 0 && index < len(s.snapshots) {
		return s.snapshots[index]
	}
	return nil
}

// DiffAt returns the change from the snapshot before index to the one at
// index. The first snapshot diffs against an empty state.
func (s *Session) DiffAt(index int) *snapshot.Diff {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if index < 0 || index >= len(s.snapshots) {
		return nil
	}
	cur := s.snapshots[index]
	var prev snapshot.State
	var from uint64
	if index > 0 {
		prev = s.snapshots[index-1].State
		from = s.snapshots[index-1].ID
	}
	d := snapshot.DiffStates(prev, cur.State)
	d.From, d.To = from, cur.ID
	d.Events = cur.Events
	return d
}
