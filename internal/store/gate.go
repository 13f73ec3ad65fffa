package store

import (
	"context"
	"sync"

	"cartsync/internal/model"
)

// Gate serializes mutations per identity key. A holder of Lock(key) is the only
// writer for key until it unlocks; LockAll waits for every key holder to finish
// and keeps new ones out until it is released.
type Gate struct {
	mu   sync.Mutex
	held map[model.Key]chan struct{}
	all  chan struct{} // non-nil while LockAll is held or being acquired
}

// NewGate creates an unlocked gate.
func NewGate() *Gate {
	return &Gate{held: make(map[model.Key]chan struct{})}
}

// Lock waits until key is free and takes it.
func (g *Gate) Lock(ctx context.Context, key model.Key) (unlock func(), err error) {
	for {
		g.mu.Lock()
		wait := g.all
		if wait == nil {
			wait = g.held[key]
		}
		if wait == nil {
			ch := make(chan struct{})
			g.held[key] = ch
			g.mu.Unlock()
			return g.releaser(func() {
				delete(g.held, key)
				close(ch)
			}), nil
		}
		g.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// LockAll takes exclusive ownership of every key.
func (g *Gate) LockAll(ctx context.Context) (unlock func(), err error) {
	var mine chan struct{}
	for mine == nil {
		g.mu.Lock()
		if g.all == nil {
			mine = make(chan struct{})
			g.all = mine
			g.mu.Unlock()
			break
		}
		wait := g.all
		g.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	release := g.releaser(func() {
		g.all = nil
		close(mine)
	})

	for {
		g.mu.Lock()
		var wait chan struct{}
		for _, ch := range g.held {
			wait = ch
			break
		}
		g.mu.Unlock()
		if wait == nil {
			return release, nil
		}

		select {
		case <-wait:
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}
}

func (g *Gate) releaser(fn func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			fn()
		})
	}
}
