// Package manifest records compaction checkpoints so prior ts-compact
// runs can be audited. Adapted from the teacher FlashDB's
// internal/snapshot package, which serialized full key-value snapshots
// with gob; here each Manifest instead describes one completed
// compaction of a single series (the series name, the compacted file's
// size before and after, and the record count written).
package manifest

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Manifest is the full serialisable record of one compaction run.
type Manifest struct {
	ID          string
	Series      string
	CreatedAt   time.Time
	RecordCount int
	OldBytes    int64
	NewBytes    int64
}

// Meta describes a manifest without loading the full record.
type Meta struct {
	ID        string    `json:"id"`
	Series    string    `json:"series"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
	FilePath  string    `json:"file_path"`
}

// Manager handles manifest CRUD backed by a directory on disk.
type Manager struct {
	dir string
}

// NewManager creates a Manager that stores manifests in dir.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("manifest: mkdir %s: %w", dir, err)
	}
	return &Manager{dir: dir}, nil
}

// Create serialises m to disk and returns its metadata.
func (mgr *Manager) Create(m *Manifest) (Meta, error) {
	if m.ID == "" {
		m.ID = fmt.Sprintf("compact-%d", time.Now().UnixMilli())
	}
	m.CreatedAt = time.Now()

	filename := m.ID + ".manifest"
	path := filepath.Join(mgr.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return Meta{}, fmt.Errorf("manifest: create file: %w", err)
	}
	defer f.Close()

	enc := gob.NewEncoder(f)
	if err := enc.Encode(m); err != nil {
		return Meta{}, fmt.Errorf("manifest: encode: %w", err)
	}

	info, _ := f.Stat()
	return Meta{
		ID:        m.ID,
		Series:    m.Series,
		CreatedAt: m.CreatedAt,
		SizeBytes: info.Size(),
		FilePath:  path,
	}, nil
}

// List returns metadata for all manifests, sorted newest first.
func (mgr *Manager) List() ([]Meta, error) {
	entries, err := os.ReadDir(mgr.dir)
	if err != nil {
		return nil, fmt.Errorf("manifest: list dir: %w", err)
	}

	var metas []Meta
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".manifest") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".manifest")
		m, err := mgr.Load(id)
		series := ""
		if err == nil {
			series = m.Series
		}
		metas = append(metas, Meta{
			ID:        id,
			Series:    series,
			CreatedAt: info.ModTime(),
			SizeBytes: info.Size(),
			FilePath:  filepath.Join(mgr.dir, e.Name()),
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}

// Load reads and decodes a manifest from disk by ID.
func (mgr *Manager) Load(id string) (*Manifest, error) {
	path := filepath.Join(mgr.dir, id+".manifest")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: open %s: %w", id, err)
	}
	defer f.Close()

	var m Manifest
	dec := gob.NewDecoder(f)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("manifest: decode %s: %w", id, err)
	}
	return &m, nil
}

// Delete removes a manifest file by ID.
func (mgr *Manager) Delete(id string) error {
	path := filepath.Join(mgr.dir, id+".manifest")
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("manifest: delete %s: %w", id, err)
	}
	return nil
}
