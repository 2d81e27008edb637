package bundle

import (
	"io/fs"
	"sync/atomic"
	"time"
)

var noBundle = Snapshot{Source: SourceUnknown}

// Manager holds the active client bundle. Readers never block; a swap
// replaces the whole snapshot at once.
type Manager struct {
	active atomic.Pointer[Snapshot]
}

func NewManager() *Manager { return &Manager{} }

// Set activates a copy of s, stamping LoadedAt when unset.
func (m *Manager) Set(s Snapshot) {
	if s.LoadedAt.IsZero() {
		s.LoadedAt = time.Now().UTC()
	}
	m.active.Store(&s)
}

// Get returns the active snapshot. ok is false until a snapshot with a
// filesystem has been set.
func (m *Manager) Get() (*Snapshot, bool) {
	s := m.active.Load()
	return s, s != nil && s.FS != nil
}

func (m *Manager) current() *Snapshot {
	if s := m.active.Load(); s != nil {
		return s
	}
	return &noBundle
}

// FS serves the active bundle to the static stages.
func (m *Manager) FS() (fs.FS, bool) {
	s := m.current()
	return s.FS, s.FS != nil
}

// BundleVersion and BundleHash feed the X-Client-Bundle-* headers.
func (m *Manager) BundleVersion() string { return m.current().Version }
func (m *Manager) BundleHash() string    { return m.current().Hash }

func (m *Manager) Source() Source      { return m.current().Source }
func (m *Manager) LoadedAt() time.Time { return m.current().LoadedAt }
