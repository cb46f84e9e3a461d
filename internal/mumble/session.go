package mumble

// Session is a server-assigned positive ID identifying one connected user
// for the life of one connection. 0 is not a valid session and means
// "unknown/absent".
type Session uint32

// Valid reports whether s is a usable session ID.
func (s Session) Valid() bool { return s != 0 }

// Sessions is a pool of session IDs. IDs 1..=max are preallocated in
// reverse order so Get hands out 1 first. Callers must only Return IDs they
// received from Get.
type Sessions struct {
	free []Session
}

// NewSessions builds a pool of n session IDs.
func NewSessions(n int) *Sessions {
	free := make([]Session, 0, n)
	for i := n; i >= 1; i-- {
		free = append(free, Session(i))
	}
	return &Sessions{free: free}
}

// Get pops a session from the pool. The second return is false when the
// pool is exhausted.
func (p *Sessions) Get() (Session, bool) {
	if len(p.free) == 0 {
		return 0, false
	}
	s := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return s, true
}

// Return pushes a session back into the pool.
func (p *Sessions) Return(s Session) {
	p.free = append(p.free, s)
}

// Free reports how many sessions remain in the pool.
func (p *Sessions) Free() int { return len(p.free) }
