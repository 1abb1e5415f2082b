// Package registry maps live object ids to their interface descriptors.
//
// Id 1 is the display and is bound for the life of the connection. New ids
// are allocated as the lowest free id at or above 2, so ids released by the
// server's delete_id are reused before the id space grows.
package registry

import (
	"sync"

	"github.com/danmuck/wlproto/internal/protocol"
	"github.com/danmuck/wlproto/internal/protocol/schema"
)

// DisplayID is the fixed id of the display object.
const DisplayID uint32 = 1

const firstDynamicID uint32 = 2

type Registry struct {
	mu      sync.RWMutex
	objects map[uint32]*schema.Interface
}

func New() *Registry {
	return &Registry{objects: make(map[uint32]*schema.Interface)}
}

// Allocate returns the lowest unbound id >= 2 without binding it.
func (r *Registry) Allocate() uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.allocateLocked()
}

func (r *Registry) allocateLocked() uint32 {
	id := firstDynamicID
	for {
		if _, taken := r.objects[id]; !taken {
			return id
		}
		id++
	}
}

// Register binds id to iface, replacing any previous binding.
func (r *Registry) Register(id uint32, iface *schema.Interface) error {
	if id == 0 {
		return &protocol.UnknownObjectError{ID: id}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[id] = iface
	return nil
}

// AllocateRegister allocates and binds in one step.
func (r *Registry) AllocateRegister(iface *schema.Interface) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.allocateLocked()
	r.objects[id] = iface
	return id
}

// Claim binds id to iface if id is free. An id already bound to iface is
// left as is; an id bound to another interface is not touched and that
// interface is returned as the conflict.
func (r *Registry) Claim(id uint32, iface *schema.Interface) (claimed bool, conflict *schema.Interface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.objects[id]; ok {
		if cur == iface {
			return false, nil
		}
		return false, cur
	}
	r.objects[id] = iface
	return true, nil
}

// Release unbinds id and reports whether it did. The display id is never
// released.
func (r *Registry) Release(id uint32) bool {
	if id == DisplayID {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.objects[id]
	delete(r.objects, id)
	return ok
}

func (r *Registry) Lookup(id uint32) (*schema.Interface, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	iface, ok := r.objects[id]
	if !ok {
		return nil, &protocol.UnknownObjectError{ID: id}
	}
	return iface, nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}
