package window

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/restypanel/restywatch/internal/kv"
	"github.com/restypanel/restywatch/pkg/types"
)

// DefaultKey is the kv key the window is persisted under.
const DefaultKey = "restywatch_raw_data"

// ErrPersistence wraps every load or save failure.
var ErrPersistence = errors.New("window: persistence")

// MaxPoints returns ceil(timeRange / sampleInterval), never less than 1.
func MaxPoints(timeRange, sampleInterval time.Duration) int {
	if sampleInterval <= 0 || timeRange <= 0 {
		return 1
	}
	n := int(math.Ceil(float64(timeRange) / float64(sampleInterval)))
	if n < 1 {
		return 1
	}
	return n
}

// Store is the sliding window. All methods are safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	points    []types.Snapshot
	maxPoints int
	backend   kv.Store
	key       string
	failing   bool // last save failed
}

// New returns an empty window with capacity maxPoints persisted to backend
// under DefaultKey. A nil backend keeps the window in memory only.
func New(backend kv.Store, maxPoints int) *Store {
	if maxPoints < 1 {
		maxPoints = 1
	}
	return &Store{
		maxPoints: maxPoints,
		backend:   backend,
		key:       DefaultKey,
	}
}

// Append adds snap at the tail, evicts from the head while over capacity,
// then persists. A persistence error is returned for logging only: the
// in-memory window has already been updated.
func (s *Store) Append(ctx context.Context, snap types.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.points = append(s.points, snap.Clone())
	s.trim()
	return s.save(ctx)
}

// SetCapacity changes maxPoints, truncating from the head when it shrinks.
func (s *Store) SetCapacity(ctx context.Context, maxPoints int) error {
	if maxPoints < 1 {
		maxPoints = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.maxPoints = maxPoints
	s.trim()
	return s.save(ctx)
}

// Load replaces the window with the persisted buffer, truncated to the
// current capacity. On a read error or corrupt data the window starts empty.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.points = nil
	if s.backend == nil {
		return nil
	}

	raw, ok, err := s.backend.Get(ctx, s.key)
	if err != nil {
		slog.Warn("window: load failed, starting empty", "key", s.key, "err", err)
		return fmt.Errorf("%w: load: %w", ErrPersistence, err)
	}
	if !ok || raw == "" {
		return nil
	}

	var pts []types.Snapshot
	if err := json.Unmarshal([]byte(raw), &pts); err != nil {
		slog.Warn("window: stored data is corrupt, discarding", "key", s.key, "err", err)
		return fmt.Errorf("%w: decode: %w", ErrPersistence, err)
	}
	s.points = pts
	s.trim()
	slog.Info("window: restored", "points", len(s.points), "max_points", s.maxPoints)
	return nil
}

// Save writes the full buffer to the backend.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx)
}

// Clear empties the window and persists the empty state.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = nil
	return s.save(ctx)
}

// Points returns a copy of the window, oldest first.
func (s *Store) Points() []types.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Snapshot, len(s.points))
	for i, p := range s.points {
		out[i] = p.Clone()
	}
	return out
}

// Latest returns the newest snapshot.
func (s *Store) Latest() (types.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.points) == 0 {
		return types.Snapshot{}, false
	}
	return s.points[len(s.points)-1].Clone(), true
}

// Len returns the number of snapshots held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.points)
}

// Capacity returns the current maxPoints.
func (s *Store) Capacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxPoints
}

// --- internal ---------------------------------------------------------------

// trim evicts from the head until len <= maxPoints. Caller holds mu.
func (s *Store) trim() {
	if over := len(s.points) - s.maxPoints; over > 0 {
		kept := make([]types.Snapshot, s.maxPoints)
		copy(kept, s.points[over:])
		s.points = kept
	}
}

// save persists the buffer. Caller holds mu.
func (s *Store) save(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	pts := s.points
	if pts == nil {
		pts = []types.Snapshot{}
	}
	data, err := json.Marshal(pts)
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrPersistence, err)
	}
	if err := s.backend.Set(ctx, s.key, string(data)); err != nil {
		if !s.failing {
			slog.Warn("window: save failed, continuing in memory", "key", s.key, "err", err)
		}
		s.failing = true
		return fmt.Errorf("%w: save: %w", ErrPersistence, err)
	}
	if s.failing {
		slog.Info("window: persistence recovered", "key", s.key, "points", len(s.points))
		s.failing = false
	}
	return nil
}
