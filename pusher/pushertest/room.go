package pushertest

import (
	"sort"
	"sync"
)

type room struct {
	name    string
	members map[string]*conn
	mu      sync.RWMutex
}

func newRoom(name string) *room {
	return &room{
		name:    name,
		members: make(map[string]*conn),
	}
}

func (r *room) add(c *conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[c.socketID] = c
}

func (r *room) remove(socketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, socketID)
}

func (r *room) has(socketID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.members[socketID]
	return exists
}

func (r *room) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// broadcast writes data to every member except the socket named by except.
func (r *room) broadcast(data []byte, except string) {
	r.mu.RLock()
	members := make([]*conn, 0, len(r.members))
	for id, c := range r.members {
		if id != except {
			members = append(members, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range members {
		c.write(data)
	}
}

type rooms struct {
	rooms map[string]*room
	mu    sync.RWMutex
}

func newRooms() *rooms {
	return &rooms{
		rooms: make(map[string]*room),
	}
}

func (rm *rooms) get(name string) *room {
	rm.mu.RLock()
	r, exists := rm.rooms[name]
	rm.mu.RUnlock()

	if !exists {
		rm.mu.Lock()
		if r, exists = rm.rooms[name]; !exists {
			r = newRoom(name)
			rm.rooms[name] = r
		}
		rm.mu.Unlock()
	}

	return r
}

func (rm *rooms) join(name string, c *conn) {
	rm.get(name).add(c)
}

func (rm *rooms) leave(name, socketID string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if r, exists := rm.rooms[name]; exists {
		r.remove(socketID)
		if r.count() == 0 {
			delete(rm.rooms, name)
		}
	}
}

func (rm *rooms) leaveAll(socketID string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	for name, r := range rm.rooms {
		r.remove(socketID)
		if r.count() == 0 {
			delete(rm.rooms, name)
		}
	}
}

func (rm *rooms) broadcast(name string, data []byte, except string) {
	rm.mu.RLock()
	r, exists := rm.rooms[name]
	rm.mu.RUnlock()

	if exists {
		r.broadcast(data, except)
	}
}

func (rm *rooms) isMember(name, socketID string) bool {
	rm.mu.RLock()
	r, exists := rm.rooms[name]
	rm.mu.RUnlock()
	return exists && r.has(socketID)
}

// subscribers lists the socket ids in a channel, sorted.
func (rm *rooms) subscribers(name string) []string {
	rm.mu.RLock()
	r, exists := rm.rooms[name]
	rm.mu.RUnlock()
	if !exists {
		return nil
	}

	r.mu.RLock()
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}
