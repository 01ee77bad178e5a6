package net

// SessionStore indexes live sessions by peer id. It is owned by the
// game loop goroutine exclusively; sessions hand their frames over
// through channels, so no locking is needed here.
type SessionStore struct {
	sessions map[uint16]*Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[uint16]*Session)}
}

func (st *SessionStore) Add(sess *Session) {
	st.sessions[sess.Peer] = sess
}

func (st *SessionStore) Remove(peer uint16) {
	delete(st.sessions, peer)
}

func (st *SessionStore) Get(peer uint16) *Session {
	return st.sessions[peer]
}

func (st *SessionStore) Count() int {
	return len(st.sessions)
}

// Raw exposes the underlying map for iteration from the game loop.
func (st *SessionStore) Raw() map[uint16]*Session {
	return st.sessions
}

func (st *SessionStore) ForEach(fn func(sess *Session)) {
	for _, sess := range st.sessions {
		fn(sess)
	}
}
