package motion

import (
	"sync"
	"time"
)

type session struct {
	tracker  *Tracker
	lastSeen time.Time
}

// Registry holds one Tracker per capture session. Sessions idle for longer
// than the TTL are dropped, and the least recently seen session is evicted
// when the registry is full.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session
	maxSize  int
	ttl      time.Duration
	now      func() time.Time
}

// NewRegistry creates a registry holding at most maxSize sessions, each
// expiring after ttl of inactivity.
func NewRegistry(maxSize int, ttl time.Duration) *Registry {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Registry{
		sessions: make(map[string]*session),
		maxSize:  maxSize,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Observe records a snapshot for sessionID and returns the updated assessment.
func (r *Registry) Observe(sessionID string, trackingID *int, s Snapshot) Assessment {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.expireLocked(now)

	sess, ok := r.sessions[sessionID]
	if !ok {
		if len(r.sessions) >= r.maxSize {
			r.evictOldestLocked()
		}
		sess = &session{tracker: NewTracker()}
		r.sessions[sessionID] = sess
	}
	sess.lastSeen = now
	sess.tracker.Observe(trackingID, s)

	return sess.tracker.Assess()
}

// Assess returns the current assessment for sessionID and whether the
// session is known.
func (r *Registry) Assess(sessionID string) (Assessment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.expireLocked(r.now())
	sess, ok := r.sessions[sessionID]
	if !ok {
		return Assessment{}, false
	}
	return sess.tracker.Assess(), true
}

// Forget drops sessionID.
func (r *Registry) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) expireLocked(now time.Time) {
	if r.ttl <= 0 {
		return
	}
	for id, sess := range r.sessions {
		if now.Sub(sess.lastSeen) > r.ttl {
			delete(r.sessions, id)
		}
	}
}

func (r *Registry) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, sess := range r.sessions {
		if oldestID == "" || sess.lastSeen.Before(oldest) {
			oldestID, oldest = id, sess.lastSeen
		}
	}
	delete(r.sessions, oldestID)
}
