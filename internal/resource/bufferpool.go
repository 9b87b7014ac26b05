package resource

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// BufferPool bounds the read buffers used while decoding stored documents.
//
// Segments are grouped into coarse scopes (one per backing directory). A
// query session takes at most one slot per scope; slots released by finished
// sessions stay warm for reuse until the pool exceeds its byte limit, at
// which point the least recently used idle buffers are dropped.
type BufferPool struct {
	limit int64

	mu     sync.Mutex
	scopes map[string]*Scope
	idle   *list.List // of *Slot, front = most recently used
	used   int64

	reclaimed atomic.Int64
}

// Scope is a group of segments sharing one mutex and one slot list.
type Scope struct {
	name string
	pool *BufferPool

	// mu serializes mutations of the segments in the scope.
	mu sync.Mutex

	free []*Slot
}

// Slot is one reusable buffer bound to a scope.
type Slot struct {
	scope *Scope
	buf   []byte
	elem  *list.Element
}

// NewBufferPool returns a pool holding at most limit bytes of idle buffers.
// A limit of 0 disables reclamation.
func NewBufferPool(limit int64) *BufferPool {
	return &BufferPool{
		limit:  limit,
		scopes: make(map[string]*Scope),
		idle:   list.New(),
	}
}

// Scope returns the named scope, creating it on first use.
func (p *BufferPool) Scope(name string) *Scope {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.scopes[name]
	if !ok {
		s = &Scope{name: name, pool: p}
		p.scopes[name] = s
	}
	return s
}

// Name returns the scope name.
func (s *Scope) Name() string { return s.name }

// Lock takes the scope mutex.
func (s *Scope) Lock() { s.mu.Lock() }

// Unlock releases the scope mutex.
func (s *Scope) Unlock() { s.mu.Unlock() }

// Used is the number of bytes held by slot buffers.
func (p *BufferPool) Used() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used
}

// Reclaimed counts buffers dropped under memory pressure.
func (p *BufferPool) Reclaimed() int64 { return p.reclaimed.Load() }

// Session hands out one slot per scope to a single query.
type Session struct {
	pool  *BufferPool
	slots map[*Scope]*Slot
}

// NewSession starts a session. It must be closed.
func (p *BufferPool) NewSession() *Session {
	return &Session{pool: p, slots: make(map[*Scope]*Slot)}
}

// Slot returns the session's slot in scope.
func (s *Session) Slot(scope *Scope) *Slot {
	if slot, ok := s.slots[scope]; ok {
		return slot
	}
	p := s.pool
	p.mu.Lock()
	var slot *Slot
	if n := len(scope.free); n > 0 {
		slot = scope.free[n-1]
		scope.free = scope.free[:n-1]
		if slot.elem != nil {
			p.idle.Remove(slot.elem)
			slot.elem = nil
		}
	} else {
		slot = &Slot{scope: scope}
	}
	p.mu.Unlock()
	s.slots[scope] = slot
	return slot
}

// Close returns every slot to its scope as idle.
func (s *Session) Close() {
	p := s.pool
	p.mu.Lock()
	for scope, slot := range s.slots {
		slot.elem = p.idle.PushFront(slot)
		scope.free = append(scope.free, slot)
	}
	p.reclaimLocked()
	p.mu.Unlock()
	clear(s.slots)
}

// Buffer returns a buffer of length n, growing the slot as needed.
func (sl *Slot) Buffer(n int) []byte {
	if cap(sl.buf) < n {
		p := sl.scope.pool
		grown := make([]byte, n)
		p.mu.Lock()
		p.used += int64(cap(grown) - cap(sl.buf))
		p.mu.Unlock()
		sl.buf = grown
	}
	return sl.buf[:n]
}

func (p *BufferPool) reclaimLocked() {
	if p.limit <= 0 {
		return
	}
	for p.used > p.limit {
		back := p.idle.Back()
		if back == nil {
			return
		}
		slot := back.Value.(*Slot)
		p.idle.Remove(back)
		slot.elem = nil
		p.used -= int64(cap(slot.buf))
		slot.buf = nil
		p.reclaimed.Add(1)
	}
}
