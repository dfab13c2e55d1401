package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oceanbase/agentmem-go/pkg/core"
)

// ErrCheckpointNotFound is returned by Load for unknown threads.
var ErrCheckpointNotFound = errors.New("planner: checkpoint not found")

// Phase is where a thread's plan stands.
type Phase string

const (
	PhaseDrafting         Phase = "drafting"
	PhaseAwaitingApproval Phase = "awaiting_approval"
	PhaseRevising         Phase = "revising"
	PhaseApproved         Phase = "approved"
	PhaseAbandoned        Phase = "abandoned"
)

// Checkpoint is the persisted planning state of one thread. A thread in
// PhaseAwaitingApproval is suspended until Resume is called, possibly by
// another process.
type Checkpoint struct {
	ThreadID  string    `json:"thread_id"`
	Phase     Phase     `json:"phase"`
	Task      string    `json:"task"`
	Plan      string    `json:"plan"`
	Revision  int       `json:"revision"`
	Feedback  []string  `json:"feedback,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckpointStore persists checkpoints by thread id. Implementations must be
// safe for concurrent use.
type CheckpointStore interface {
	// Save overwrites the checkpoint of cp.ThreadID.
	Save(ctx context.Context, cp *Checkpoint) error

	// Load returns ErrCheckpointNotFound for unknown threads.
	Load(ctx context.Context, threadID string) (*Checkpoint, error)

	// Delete is a no-op for unknown threads.
	Delete(ctx context.Context, threadID string) error

	// List returns the stored thread ids, sorted.
	List(ctx context.Context) ([]string, error)
}

// NewCheckpointStore builds the store named by cfg.CheckpointStore:
// "memory" (default), "file" or "redis".
func NewCheckpointStore(cfg core.PlannerConfig) (CheckpointStore, error) {
	switch cfg.CheckpointStore {
	case "", "memory":
		return NewMemoryCheckpointStore(), nil
	case "file":
		dir := cfg.CheckpointDir
		if dir == "" {
			dir = "./checkpoints"
		}
		return NewFileCheckpointStore(dir)
	case "redis":
		return NewRedisCheckpointStore(NewRedisClient(cfg), ""), nil
	default:
		return nil, fmt.Errorf("planner: unsupported checkpoint store: %s", cfg.CheckpointStore)
	}
}

// NewRedisClient builds a client from cfg. RedisAddr may be host:port or a
// redis:// URL.
func NewRedisClient(cfg core.PlannerConfig) *redis.Client {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	if strings.Contains(addr, "://") {
		if opts, err := redis.ParseURL(addr); err == nil {
			if cfg.RedisPassword != "" {
				opts.Password = cfg.RedisPassword
			}
			return redis.NewClient(opts)
		}
		if u, err := url.Parse(addr); err == nil && u.Host != "" {
			addr = u.Host
		}
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func cloneCheckpoint(cp *Checkpoint) *Checkpoint {
	c := *cp
	c.Feedback = append([]string(nil), cp.Feedback...)
	return &c
}

// MemoryCheckpointStore keeps checkpoints in process memory.
type MemoryCheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*Checkpoint
}

// NewMemoryCheckpointStore returns an empty store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{checkpoints: make(map[string]*Checkpoint)}
}

func (m *MemoryCheckpointStore) Save(_ context.Context, cp *Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[cp.ThreadID] = cloneCheckpoint(cp)
	return nil
}

func (m *MemoryCheckpointStore) Load(_ context.Context, threadID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.checkpoints[threadID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, threadID)
	}
	return cloneCheckpoint(cp), nil
}

func (m *MemoryCheckpointStore) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, threadID)
	return nil
}

func (m *MemoryCheckpointStore) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.checkpoints))
	for id := range m.checkpoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// FileCheckpointStore writes one JSON file per thread.
type FileCheckpointStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileCheckpointStore creates dir if needed.
func NewFileCheckpointStore(dir string) (*FileCheckpointStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileCheckpointStore{dir: dir}, nil
}

func (f *FileCheckpointStore) path(threadID string) string {
	return filepath.Join(f.dir, url.PathEscape(threadID)+".json")
}

// Save writes to a temporary file and renames it over the old checkpoint.
func (f *FileCheckpointStore) Save(_ context.Context, cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	tmp := f.path(cp.ThreadID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, f.path(cp.ThreadID)); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

func (f *FileCheckpointStore) Load(_ context.Context, threadID string) (*Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path(threadID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", threadID, err)
	}
	return &cp, nil
}

func (f *FileCheckpointStore) Delete(_ context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(f.path(threadID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (f *FileCheckpointStore) List(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id, err := url.PathUnescape(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// RedisCheckpointStore keeps checkpoints as JSON strings under a key prefix
// and indexes thread ids in a set.
type RedisCheckpointStore struct {
	client *redis.Client
	prefix string
}

// NewRedisCheckpointStore uses prefix (default "agentmem:planner:").
func NewRedisCheckpointStore(client *redis.Client, prefix string) *RedisCheckpointStore {
	if prefix == "" {
		prefix = "agentmem:planner:"
	}
	return &RedisCheckpointStore{client: client, prefix: prefix}
}

func (r *RedisCheckpointStore) key(threadID string) string {
	return r.prefix + "checkpoint:" + threadID
}

func (r *RedisCheckpointStore) index() string {
	return r.prefix + "threads"
}

func (r *RedisCheckpointStore) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(cp.ThreadID), data, 0)
		pipe.SAdd(ctx, r.index(), cp.ThreadID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (r *RedisCheckpointStore) Load(ctx context.Context, threadID string) (*Checkpoint, error) {
	data, err := r.client.Get(ctx, r.key(threadID)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", threadID, err)
	}
	return &cp, nil
}

func (r *RedisCheckpointStore) Delete(ctx context.Context, threadID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key(threadID))
		pipe.SRem(ctx, r.index(), threadID)
		return nil
	})
	return err
}

func (r *RedisCheckpointStore) List(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, r.index()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// Close closes the redis client.
func (r *RedisCheckpointStore) Close() error {
	return r.client.Close()
}
