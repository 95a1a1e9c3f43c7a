package arena

import "sync"

// Pool hands out arenas to workers. Arenas are reset when put back.
type Pool struct {
	o    *Options
	pool sync.Pool
}

// NewPool creates a pool of arenas sharing the same options.
func NewPool(o *Options) *Pool {
	p := &Pool{o: o.norm()}
	p.pool.New = func() interface{} {
		a := New(p.o)
		a.pooled = true
		return a
	}
	return p
}

// Get returns an arena owned by the caller until Put.
func (p *Pool) Get() *Arena {
	return p.pool.Get().(*Arena)
}

// Put resets a and makes it available again.
func (p *Pool) Put(a *Arena) {
	if a == nil || a.closed {
		return
	}
	a.ResetArena()
	p.pool.Put(a)
}
