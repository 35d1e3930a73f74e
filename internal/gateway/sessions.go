package gateway

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/holdboard/holdboard/internal/overlay"
	"github.com/holdboard/holdboard/internal/storage"
)

const sessionCookie = "hb_session"

// session is one browser session's engine: its overlay store, recorder
// and committer. Staged edits live here, keyed by the session cookie, so
// a tab reload re-attaches and reconstructs the exact pre-reload state.
type session struct {
	id        string
	store     *overlay.Store
	recorder  *overlay.Recorder
	committer *overlay.Committer

	mu       sync.Mutex
	lastSeen time.Time
}

func (s *session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// sessionManager creates, resolves and expires sessions.
type sessionManager struct {
	mu       sync.Mutex
	sessions map[string]*session

	ttl      time.Duration
	dataDir  string // empty means in-memory overlays only
	pageSize int
	backend  storage.Backend
	metrics  *Metrics
	onChange func(bucket string)
}

func newSessionManager(ttl time.Duration, dataDir string, pageSize int, backend storage.Backend, metrics *Metrics) *sessionManager {
	return &sessionManager{
		sessions: make(map[string]*session),
		ttl:      ttl,
		dataDir:  dataDir,
		pageSize: pageSize,
		backend:  backend,
		metrics:  metrics,
	}
}

// resolve returns the request's session, creating one (and setting the
// cookie) if none exists yet.
func (m *sessionManager) resolve(w http.ResponseWriter, r *http.Request) *session {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		m.mu.Lock()
		if sess, ok := m.sessions[cookie.Value]; ok {
			m.mu.Unlock()
			sess.touch(time.Now())
			return sess
		}
		m.mu.Unlock()
		// Unknown ID: the session expired or the gateway restarted.
		// Re-attach to any persisted overlay state under the same ID.
		if isValidSessionID(cookie.Value) {
			return m.create(cookie.Value)
		}
	}

	sess := m.create(uuid.New().String())
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sess
}

func isValidSessionID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (m *sessionManager) create(id string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[id]; ok {
		return sess
	}

	var kv overlay.KV
	if m.dataDir != "" {
		dir := filepath.Join(m.dataDir, "sessions", id)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("session dir unavailable, staged edits held in memory only")
			kv = overlay.NewMemoryKV()
		} else {
			kv = overlay.NewFileKV(osfs.New(dir))
		}
	} else {
		kv = overlay.NewMemoryKV()
	}

	store := overlay.NewStore(kv)
	recorder := overlay.NewRecorder(store, m.pageSize)
	if m.onChange != nil {
		recorder.SetOnChange(m.onChange)
	}

	sess := &session{
		id:        id,
		store:     store,
		recorder:  recorder,
		committer: overlay.NewCommitter(store, m.backend),
		lastSeen:  time.Now(),
	}
	m.sessions[id] = sess
	m.metrics.ActiveSessions.Set(float64(len(m.sessions)))
	return sess
}

// run sweeps idle sessions until ctx is done.
func (m *sessionManager) run(ctx context.Context) {
	interval := m.ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(time.Now())
		}
	}
}

func (m *sessionManager) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, sess := range m.sessions {
		if now.Sub(sess.idleSince()) > m.ttl {
			delete(m.sessions, id)
			log.Debug().Str("session", id).Msg("session expired")
		}
	}
	m.metrics.ActiveSessions.Set(float64(len(m.sessions)))
}
