// ABOUTME: Fixed-capacity message pools
// ABOUTME: Allocation past capacity fails with ErrPoolExhausted instead of growing
package msg

import (
	"errors"
	"fmt"
	"sync"
)

// ErrPoolExhausted is returned when every cell of a pool is in use
var ErrPoolExhausted = errors.New("msg: pool exhausted")

type cell[T any] interface {
	*T
	refs() *refCounted
	clear()
}

type pool[T any, P cell[T]] struct {
	name     string
	capacity int
	mu       sync.Mutex
	free     []P
}

func newPool[T any, P cell[T]](name string, capacity int) *pool[T, P] {
	p := &pool[T, P]{
		name:     name,
		capacity: capacity,
		free:     make([]P, 0, capacity),
	}
	for i := 0; i < capacity; i++ {
		m := P(new(T))
		m.refs().release = func() {
			m.clear()
			p.put(m)
		}
		p.free = append(p.free, m)
	}
	return p
}

func (p *pool[T, P]) get() (P, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		var none P
		return none, fmt.Errorf("%w: %s (capacity %d)", ErrPoolExhausted, p.name, p.capacity)
	}
	m := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	m.refs().count.Store(1)
	return m, nil
}

func (p *pool[T, P]) put(m P) {
	p.mu.Lock()
	p.free = append(p.free, m)
	p.mu.Unlock()
}

func (p *pool[T, P]) stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{Name: p.name, Capacity: p.capacity, InUse: p.capacity - len(p.free)}
}

// PoolStats reports the occupancy of one pool
type PoolStats struct {
	Name     string
	Capacity int
	InUse    int
}

// Must panics if err is non-nil. Pipeline elements use it for messages they
// synthesise themselves, where pools are sized so exhaustion is a wiring bug.
func Must[T any](m T, err error) T {
	if err != nil {
		panic(err)
	}
	return m
}
