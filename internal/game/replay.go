package game

import (
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

const replayVersion = 1

func init() {
	// Action metadata decoded from JSON can carry nested values.
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// ReplayFrame is one recorded step: the action that was applied (nil for the
// opening frame) and the sealed snapshot of the state after it.
type ReplayFrame struct {
	Sequence int
	Action   *Action
	Snapshot []byte
	Checksum string
	At       time.Time
}

// State decodes the frame's snapshot.
func (f *ReplayFrame) State() (*GameState, error) {
	return DecodeSnapshot(f.Snapshot)
}

// Replay is the ordered frame history of one room.
type Replay struct {
	RoomCode string
	GameID   string
	Frames   []*ReplayFrame
	mu       sync.RWMutex
}

// NewReplay creates an empty replay for a room.
func NewReplay(roomCode, gameID string) *Replay {
	return &Replay{
		RoomCode: roomCode,
		GameID:   gameID,
		Frames:   make([]*ReplayFrame, 0),
	}
}

// Record seals the state and appends it as the next frame.
func (r *Replay) Record(s *GameState, action *Action) (*ReplayFrame, error) {
	data, err := EncodeSnapshot(s)
	if err != nil {
		return nil, err
	}
	sum, err := ComputeChecksum(s)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	frame := &ReplayFrame{
		Sequence: len(r.Frames),
		Snapshot: data,
		Checksum: sum.Hash,
		At:       time.Now().UTC(),
	}
	if action != nil {
		frame.Action = cloneAction(*action)
	}
	r.Frames = append(r.Frames, frame)
	return frame, nil
}

// Size returns the number of recorded frames.
func (r *Replay) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.Frames)
}

// FrameAt returns the frame at index, or nil.
func (r *Replay) FrameAt(index int) *ReplayFrame {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if index >= 0 && index < len(r.Frames) {
		return r.Frames[index]
	}
	return nil
}

// Verify decodes every frame and checks it against its recorded checksum.
func (r *Replay) Verify() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, f := range r.Frames {
		s, err := f.State()
		if err != nil {
			return fmt.Errorf("frame %d: %w", f.Sequence, err)
		}
		sum, err := ComputeChecksum(s)
		if err != nil {
			return fmt.Errorf("frame %d: %w", f.Sequence, err)
		}
		if sum.Hash != f.Checksum {
			return corrupt("frame %d checksum mismatch", f.Sequence)
		}
	}
	return nil
}

type replayMetadata struct {
	RoomCode   string
	GameID     string
	Timestamp  time.Time
	Version    int
	FrameCount int
}

func replayPath(directory, roomCode string) string {
	return filepath.Join(directory, fmt.Sprintf("%s.replay", roomCode))
}

// SaveToFile writes the replay as a gzipped gob stream named after the room.
func (r *Replay) SaveToFile(directory string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := os.MkdirAll(directory, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.Create(replayPath(directory, r.RoomCode))
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	gz := gzip.NewWriter(file)
	defer gz.Close()
	enc := gob.NewEncoder(gz)

	meta := replayMetadata{
		RoomCode:   r.RoomCode,
		GameID:     r.GameID,
		Timestamp:  time.Now(),
		Version:    replayVersion,
		FrameCount: len(r.Frames),
	}
	if err := enc.Encode(&meta); err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	for i, f := range r.Frames {
		if err := enc.Encode(f); err != nil {
			return fmt.Errorf("failed to encode frame %d: %w", i, err)
		}
	}
	return nil
}

// LoadReplayFromFile reads a replay written by SaveToFile.
func LoadReplayFromFile(directory, roomCode string) (*Replay, error) {
	file, err := os.Open(replayPath(directory, roomCode))
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()
	dec := gob.NewDecoder(gz)

	var meta replayMetadata
	if err := dec.Decode(&meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if meta.Version != replayVersion {
		return nil, fmt.Errorf("unsupported replay version: %d", meta.Version)
	}

	replay := NewReplay(meta.RoomCode, meta.GameID)
	for i := 0; i < meta.FrameCount; i++ {
		var f ReplayFrame
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("failed to decode frame %d: %w", i, err)
		}
		replay.Frames = append(replay.Frames, &f)
	}
	return replay, nil
}

// ReplayRecorder keeps a replay per room while recording is on.
type ReplayRecorder struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	replays map[string]*Replay // roomCode -> Replay
	enabled map[string]bool
	saveDir string
}

// NewReplayRecorder creates a recorder that saves under saveDir.
func NewReplayRecorder(logger *zap.Logger, saveDir string) *ReplayRecorder {
	return &ReplayRecorder{
		logger:  logger,
		replays: make(map[string]*Replay),
		enabled: make(map[string]bool),
		saveDir: saveDir,
	}
}

// StartRecording begins a fresh replay for the room.
func (rr *ReplayRecorder) StartRecording(roomCode, gameID string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	rr.replays[roomCode] = NewReplay(roomCode, gameID)
	rr.enabled[roomCode] = true

	if rr.logger != nil {
		rr.logger.Info("started replay recording",
			zap.String("room_code", roomCode),
			zap.String("game_id", gameID),
		)
	}
}

// StopRecording keeps the replay in memory but ignores further frames.
func (rr *ReplayRecorder) StopRecording(roomCode string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	rr.enabled[roomCode] = false

	if rr.logger != nil {
		rr.logger.Info("stopped replay recording", zap.String("room_code", roomCode))
	}
}

// Record appends a frame if the room is being recorded.
func (rr *ReplayRecorder) Record(s *GameState, action *Action) {
	rr.mu.RLock()
	enabled := rr.enabled[s.RoomCode]
	replay := rr.replays[s.RoomCode]
	rr.mu.RUnlock()

	if !enabled || replay == nil {
		return
	}
	if _, err := replay.Record(s, action); err != nil {
		if rr.logger != nil {
			rr.logger.Warn("failed to record replay frame",
				zap.String("room_code", s.RoomCode),
				zap.Error(err),
			)
		}
		return
	}

	if rr.logger != nil {
		rr.logger.Debug("recorded replay frame",
			zap.String("room_code", s.RoomCode),
			zap.Int("frame_count", replay.Size()),
		)
	}
}

// GetReplay returns the in-memory replay for a room.
func (rr *ReplayRecorder) GetReplay(roomCode string) (*Replay, bool) {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	replay, ok := rr.replays[roomCode]
	return replay, ok
}

// SaveReplay writes the room's replay to disk and drops it from memory.
func (rr *ReplayRecorder) SaveReplay(roomCode string) error {
	rr.mu.Lock()
	replay, ok := rr.replays[roomCode]
	if !ok {
		rr.mu.Unlock()
		return fmt.Errorf("no replay found for room %s", roomCode)
	}
	delete(rr.replays, roomCode)
	delete(rr.enabled, roomCode)
	rr.mu.Unlock()

	if rr.saveDir == "" {
		return nil
	}
	if err := replay.SaveToFile(rr.saveDir); err != nil {
		return fmt.Errorf("failed to save replay: %w", err)
	}

	if rr.logger != nil {
		rr.logger.Info("saved replay to disk",
			zap.String("room_code", roomCode),
			zap.Int("frame_count", replay.Size()),
			zap.String("directory", rr.saveDir),
		)
	}
	return nil
}

// LoadReplay reads a saved replay from disk.
func (rr *ReplayRecorder) LoadReplay(roomCode string) (*Replay, error) {
	replay, err := LoadReplayFromFile(rr.saveDir, roomCode)
	if err != nil {
		return nil, err
	}
	if rr.logger != nil {
		rr.logger.Info("loaded replay from disk",
			zap.String("room_code", roomCode),
			zap.Int("frame_count", replay.Size()),
		)
	}
	return replay, nil
}

// ClearReplay drops a replay without saving.
func (rr *ReplayRecorder) ClearReplay(roomCode string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	delete(rr.replays, roomCode)
	delete(rr.enabled, roomCode)
}

// IsRecording reports whether frames for the room are being kept.
func (rr *ReplayRecorder) IsRecording(roomCode string) bool {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	return rr.enabled[roomCode]
}
