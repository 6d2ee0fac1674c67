package ha

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"

	"github.com/fenwick-robotics/rtstack/internal/rterrors"
)

// Checkpoint is a serialized snapshot of a recoverable process's state.
type Checkpoint struct {
	ID                    string    `json:"checkpoint_id"`
	ProcessName           string    `json:"process_name"`
	Timestamp             time.Time `json:"timestamp"`
	RTState               string    `json:"rt_state"` // base64-encoded protobuf message
	DataStoreSnapshot     string    `json:"datastore_snapshot"`
	EventBusQueueSnapshot []string  `json:"eventbus_queue_snapshot"`
	SizeBytes             int       `json:"checkpoint_size_bytes"`
	IsComplete            bool      `json:"is_complete"`
}

// CheckpointStore persists checkpoints as one JSON file per UUID under a
// configured directory, enforcing a maximum count and a retention age.
type CheckpointStore struct {
	dir            string
	maxCheckpoints int
	retention      time.Duration
}

// NewCheckpointStore constructs a store rooted at dir.
func NewCheckpointStore(dir string, maxCheckpoints int, retention time.Duration) *CheckpointStore {
	return &CheckpointStore{dir: dir, maxCheckpoints: maxCheckpoints, retention: retention}
}

// New creates a fresh, incomplete checkpoint with a new UUID.
func (s *CheckpointStore) New(processName string) Checkpoint {
	return Checkpoint{
		ID:          uuid.NewString(),
		ProcessName: processName,
		Timestamp:   time.Now().UTC(),
		IsComplete:  false,
	}
}

// EncodeRTState marshals a protobuf message into the checkpoint's
// base64-encoded rt_state field.
func EncodeRTState(msg proto.Message) (string, error) {
	b, err := proto.Marshal(msg)
	if err != nil {
		return "", rterrors.Wrap(rterrors.ErrPolicyInvalid, "ha: marshal rt_state: "+err.Error())
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodeRTState unmarshals a checkpoint's rt_state field into msg.
func DecodeRTState(encoded string, msg proto.Message) error {
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return rterrors.Wrap(rterrors.ErrPolicyInvalid, "ha: decode rt_state: "+err.Error())
	}
	return proto.Unmarshal(b, msg)
}

func (s *CheckpointStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save serializes cp to disk and enforces MaxCheckpoints by deleting the
// oldest files first.
func (s *CheckpointStore) Save(cp Checkpoint) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return rterrors.Wrap(rterrors.ErrTransientIO, "ha: mkdir checkpoint dir: "+err.Error())
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return rterrors.Wrap(rterrors.ErrPolicyInvalid, "ha: marshal checkpoint: "+err.Error())
	}
	if err := os.WriteFile(s.path(cp.ID), data, 0o644); err != nil {
		return rterrors.Wrap(rterrors.ErrTransientIO, "ha: write checkpoint: "+err.Error())
	}
	return s.enforceMaxCheckpoints()
}

// Load deserializes the checkpoint with the given UUID.
func (s *CheckpointStore) Load(id string) (Checkpoint, error) {
	var cp Checkpoint
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return cp, rterrors.Wrap(rterrors.ErrNotFound, "ha: checkpoint "+id)
	}
	if err := json.Unmarshal(data, &cp); err != nil {
		return cp, rterrors.Wrap(rterrors.ErrPolicyInvalid, "ha: corrupt checkpoint "+id)
	}
	return cp, nil
}

// List returns every stored checkpoint's UUID, oldest-first by file mtime.
func (s *CheckpointStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, rterrors.Wrap(rterrors.ErrTransientIO, "ha: list checkpoints: "+err.Error())
	}

	type fileInfo struct {
		id    string
		mtime time.Time
	}
	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		id := e.Name()
		id = id[:len(id)-len(filepath.Ext(id))]
		files = append(files, fileInfo{id: id, mtime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mtime.Before(files[j].mtime) })

	ids := make([]string, len(files))
	for i, f := range files {
		ids[i] = f.id
	}
	return ids, nil
}

// CleanupExpired deletes every checkpoint older than the store's retention.
func (s *CheckpointStore) CleanupExpired(now time.Time) (int, error) {
	ids, err := s.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		cp, err := s.Load(id)
		if err != nil {
			continue
		}
		if now.Sub(cp.Timestamp) > s.retention {
			if err := os.Remove(s.path(id)); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// Verify reports whether a checkpoint file exists, parses, and contains
// the required fields. A size mismatch is not a verification failure.
func (s *CheckpointStore) Verify(id string) bool {
	cp, err := s.Load(id)
	if err != nil {
		return false
	}
	return cp.ID != "" && cp.ProcessName != "" && !cp.Timestamp.IsZero()
}

func (s *CheckpointStore) enforceMaxCheckpoints() error {
	if s.maxCheckpoints <= 0 {
		return nil
	}
	ids, err := s.List()
	if err != nil {
		return err
	}
	for len(ids) > s.maxCheckpoints {
		_ = os.Remove(s.path(ids[0]))
		ids = ids[1:]
	}
	return nil
}
