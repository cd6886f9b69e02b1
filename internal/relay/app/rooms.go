package app

import (
	"encoding/json"
	"sync"
)

// wsPeer serializes frame writes for one connection.
type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

// roomRegistry owns the live conversation-to-connections mapping.
//
// It holds pure runtime state: it is created empty at service start, never
// persisted, and safe to rebuild empty on restart. All mutation goes through
// the registry so join, leave, and broadcast reads stay consistent under
// concurrent connection handlers.
type roomRegistry struct {
	mu     sync.Mutex
	rooms  map[string]map[*wsPeer]struct{}
	joined map[*wsPeer]map[string]struct{}
}

func newRoomRegistry() *roomRegistry {
	return &roomRegistry{
		rooms:  make(map[string]map[*wsPeer]struct{}),
		joined: make(map[*wsPeer]map[string]struct{}),
	}
}

// join registers the peer under the conversation. Joining a room the peer is
// already in is a no-op beyond re-registration.
func (reg *roomRegistry) join(conversationID string, peer *wsPeer) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[conversationID]
	if !ok {
		room = make(map[*wsPeer]struct{})
		reg.rooms[conversationID] = room
	}
	room[peer] = struct{}{}

	memberships, ok := reg.joined[peer]
	if !ok {
		memberships = make(map[string]struct{})
		reg.joined[peer] = memberships
	}
	memberships[conversationID] = struct{}{}
}

// leave removes the peer from one conversation's room.
func (reg *roomRegistry) leave(conversationID string, peer *wsPeer) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.removeLocked(conversationID, peer)
}

// dropPeer removes the peer from every room it had joined. Called on
// disconnect before the connection handler returns.
func (reg *roomRegistry) dropPeer(peer *wsPeer) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for conversationID := range reg.joined[peer] {
		reg.removeLocked(conversationID, peer)
	}
}

func (reg *roomRegistry) removeLocked(conversationID string, peer *wsPeer) {
	if room, ok := reg.rooms[conversationID]; ok {
		delete(room, peer)
		if len(room) == 0 {
			delete(reg.rooms, conversationID)
		}
	}
	if memberships, ok := reg.joined[peer]; ok {
		delete(memberships, conversationID)
		if len(memberships) == 0 {
			delete(reg.joined, peer)
		}
	}
}

// peers snapshots the current members of a conversation's room so frame
// writes happen outside the registry lock.
func (reg *roomRegistry) peers(conversationID string) []*wsPeer {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room := reg.rooms[conversationID]
	if len(room) == 0 {
		return nil
	}
	members := make([]*wsPeer, 0, len(room))
	for peer := range room {
		members = append(members, peer)
	}
	return members
}

// contains reports whether the peer is currently joined to the conversation.
func (reg *roomRegistry) contains(conversationID string, peer *wsPeer) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	_, ok := reg.rooms[conversationID][peer]
	return ok
}
