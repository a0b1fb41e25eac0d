// Package session manages reproduction session directories. Each
// session owns one directory named after the paper, holding the clone,
// the environment, the checkpoint file, and the final report. Sessions
// are never auto-deleted; cleanup is an explicit user action.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lucasnoah/reprofactory/internal/checkpoint"
)

// MetaFileName is the session metadata file inside each session dir.
const MetaFileName = "session.json"

const slugLimit = 50

// Meta identifies one reproduction session.
type Meta struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager creates and lists session directories under a base dir.
type Manager struct {
	baseDir string
	now     func() time.Time
}

// NewManager returns a Manager rooted at baseDir, creating it if
// needed.
func NewManager(baseDir string) (*Manager, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &Manager{baseDir: baseDir, now: time.Now}, nil
}

// SetClock overrides the time source, used by tests for stable IDs.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Create makes a new session directory. The ID combines the paper
// title slug, a timestamp, and a ulid suffix so concurrent sessions
// for the same paper never collide.
func (m *Manager) Create(source, title string) (string, Meta, error) {
	name := title
	if name == "" {
		name = source
	}

	ts := m.now().UTC()
	id := fmt.Sprintf("%s_%s_%s", Slug(name), ts.Format("20060102_150405"), strings.ToLower(ulid.Make().String()))

	dir := filepath.Join(m.baseDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", Meta{}, fmt.Errorf("create session dir: %w", err)
	}

	meta := Meta{ID: id, Source: source, Title: title, CreatedAt: ts}
	if err := checkpoint.WriteJSON(filepath.Join(dir, MetaFileName), meta); err != nil {
		return "", Meta{}, fmt.Errorf("write session metadata: %w", err)
	}
	return dir, meta, nil
}

// Load reads the metadata of an existing session directory.
func Load(dir string) (Meta, error) {
	var meta Meta
	if err := checkpoint.ReadJSON(filepath.Join(dir, MetaFileName), &meta); err != nil {
		return Meta{}, fmt.Errorf("read session metadata: %w", err)
	}
	return meta, nil
}

// List returns all sessions under the base dir, newest first.
// Directories without metadata (partially created, or foreign) are
// skipped.
func (m *Manager) List() ([]Meta, error) {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}

	var sessions []Meta
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := Load(filepath.Join(m.baseDir, e.Name()))
		if err != nil {
			continue
		}
		sessions = append(sessions, meta)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// Dir returns the directory for a session ID.
func (m *Manager) Dir(id string) string {
	return filepath.Join(m.baseDir, id)
}

// Remove deletes one session directory by ID. The ID must name a
// direct child of the base dir; path traversal is rejected.
func (m *Manager) Remove(id string) error {
	if id == "" || id != filepath.Base(id) {
		return errors.New("invalid session id")
	}
	dir := filepath.Join(m.baseDir, id)
	if _, err := os.Stat(filepath.Join(dir, MetaFileName)); err != nil {
		return fmt.Errorf("not a session directory: %s", id)
	}
	return os.RemoveAll(dir)
}

var slugStripRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slug normalizes a paper title into a filesystem-safe directory
// prefix, truncated so the full session ID stays manageable.
func Slug(s string) string {
	slug := slugStripRe.ReplaceAllString(strings.ToLower(s), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "session"
	}
	if len(slug) > slugLimit {
		slug = strings.Trim(slug[:slugLimit], "-")
	}
	return slug
}
