// Package cache is a content-keyed, TTL-scoped store for expensive remote
// lookups. It is a best-effort accelerator: every caller must produce a
// correct result when the cache is empty, stale, or disabled.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Partition separates cached data by kind. Each partition has its own TTL.
type Partition string

const (
	PartitionPapers       Partition = "papers"
	PartitionRepositories Partition = "repositories"
	PartitionAnalysis     Partition = "analysis"
)

// Partitions lists every partition in a stable order.
var Partitions = []Partition{PartitionPapers, PartitionRepositories, PartitionAnalysis}

// ttls maps each partition to how long its entries stay valid.
var ttls = map[Partition]time.Duration{
	PartitionPapers:       30 * 24 * time.Hour,
	PartitionRepositories: 7 * 24 * time.Hour,
	PartitionAnalysis:     7 * 24 * time.Hour,
}

// TTL returns the time-to-live for a partition.
func TTL(p Partition) time.Duration {
	return ttls[p]
}

// entry is the on-disk record shape: one JSON file per (partition, key).
type entry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store is a persistent key-value cache partitioned by data kind. A Store
// may be shared by concurrent sessions: every entry is independently
// addressed and written atomically, so no cross-key locking is needed.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore creates a Store rooted at dir, creating partition directories
// as needed.
func NewStore(dir string) (*Store, error) {
	for _, p := range Partitions {
		if err := os.MkdirAll(filepath.Join(dir, string(p)), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir cache partition %s: %w", p, err)
		}
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// SetClock overrides the store's clock (for testing TTL expiry).
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Dir returns the cache root directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) entryPath(p Partition, key string) string {
	return filepath.Join(s.dir, string(p), Fingerprint(key)+".json")
}

// Get looks up a cached value and decodes it into v. It returns false on a
// miss; an expired entry is a miss indistinguishable from "never cached",
// and is evicted on the way out.
func (s *Store) Get(p Partition, key string, v interface{}) (bool, error) {
	path := s.entryPath(p, key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read cache entry: %w", err)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		// Corrupt entry: treat as a miss and drop it.
		os.Remove(path)
		return false, nil
	}

	if s.now().Sub(e.CreatedAt) >= ttls[p] {
		os.Remove(path)
		return false, nil
	}

	if err := json.Unmarshal(e.Value, v); err != nil {
		return false, fmt.Errorf("decode cache value for %s/%s: %w", p, key, err)
	}
	return true, nil
}

// Set upserts a value under (partition, key), resetting the TTL clock to
// now. The write is atomic per key.
func (s *Store) Set(p Partition, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s/%s: %w", p, key, err)
	}

	e := entry{
		Key:       key,
		Value:     raw,
		CreatedAt: s.now().UTC(),
	}
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	path := s.entryPath(p, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir cache partition %s: %w", p, err)
	}
	return writeAtomic(path, data)
}

// Clear removes every entry in a partition.
func (s *Store) Clear(p Partition) error {
	dir := filepath.Join(s.dir, string(p))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read cache partition %s: %w", p, err)
	}
	for _, ent := range entries {
		if ent.IsDir() || filepath.Ext(ent.Name()) != ".json" {
			continue
		}
		if err := os.Remove(filepath.Join(dir, ent.Name())); err != nil {
			return fmt.Errorf("remove cache entry %s: %w", ent.Name(), err)
		}
	}
	return nil
}

// ClearAll removes every entry in every partition.
func (s *Store) ClearAll() error {
	for _, p := range Partitions {
		if err := s.Clear(p); err != nil {
			return err
		}
	}
	return nil
}

// PartitionStats summarizes one partition.
type PartitionStats struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

// Stats returns entry counts and sizes per partition.
func (s *Store) Stats() (map[Partition]PartitionStats, error) {
	stats := make(map[Partition]PartitionStats, len(Partitions))
	for _, p := range Partitions {
		dir := filepath.Join(s.dir, string(p))
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				stats[p] = PartitionStats{}
				continue
			}
			return nil, fmt.Errorf("read cache partition %s: %w", p, err)
		}
		var ps PartitionStats
		for _, ent := range entries {
			if ent.IsDir() || filepath.Ext(ent.Name()) != ".json" {
				continue
			}
			info, err := ent.Info()
			if err != nil {
				continue
			}
			ps.Entries++
			ps.Bytes += info.Size()
		}
		stats[p] = ps
	}
	return stats, nil
}

// writeAtomic writes data via temp file + rename in the entry's directory.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", tmpName, path, err)
	}
	tmpName = ""
	return nil
}
