// Package hub tracks the live signaling transport of every connected
// participant. Hub membership is authoritative for "is reachable right now";
// the registry's is_connected flag is best-effort audit state.
package hub

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
)

var (
	// ErrRejected means the participant never joined through the registry.
	ErrRejected = errors.New("participant not registered in room")
	// ErrUndeliverable means the unicast target holds no live transport.
	ErrUndeliverable = errors.New("target participant not connected")
)

// Close codes handed to Conn.Close.
const (
	CloseCodeGoingAway = 1001
	CloseCodeRejected  = 4004
)

// Conn is the transport handle the hub fans out to. Send must not block on a
// slow receiver; a backpressure error gets the connection evicted.
type Conn interface {
	Send(data []byte) error
	Close(code int, reason string)
}

// Store is the slice of the registry the hub needs.
type Store interface {
	ListParticipants(ctx context.Context, roomID domain.RoomID) ([]domain.Participant, error)
	LeaveRoom(ctx context.Context, roomID domain.RoomID, participantID domain.ParticipantID) error
}

type connKey struct {
	Room        domain.RoomID
	Participant domain.ParticipantID
}

type Hub struct {
	store Store

	mu sync.Mutex
	// forward and reverse indices; every entry in one has exactly one
	// counterpart in the other, maintained under mu.
	rooms  map[domain.RoomID]map[domain.ParticipantID]Conn
	byConn map[Conn]connKey
}

func New(store Store) *Hub {
	return &Hub{
		store:  store,
		rooms:  make(map[domain.RoomID]map[domain.ParticipantID]Conn),
		byConn: make(map[Conn]connKey),
	}
}

// Connect admits a transport for a participant already present in the
// registry. Unknown participants get the transport closed with the rejection
// code and ErrRejected back; nothing is registered for them. On success the
// new participant receives a room-joined envelope listing the other members
// who are both persisted and live, and those members receive new-user-joined.
func (h *Hub) Connect(ctx context.Context, conn Conn, roomID domain.RoomID, participantID domain.ParticipantID, displayName string) (int, error) {
	persisted, err := h.store.ListParticipants(ctx, roomID)
	if err != nil {
		conn.Close(CloseCodeRejected, "User not found in room")
		return 0, err
	}
	known := false
	for _, p := range persisted {
		if p.ID == participantID {
			known = true
			break
		}
	}
	if !known {
		log.Warn().Str("module", "hub").Str("room", string(roomID)).
			Str("user", string(participantID)).Msg("connect rejected: not in registry")
		conn.Close(CloseCodeRejected, "User not found in room")
		return 0, ErrRejected
	}

	h.mu.Lock()
	room := h.rooms[roomID]
	if room == nil {
		room = make(map[domain.ParticipantID]Conn)
		h.rooms[roomID] = room
	}
	// A reconnect (browser refresh racing the old socket's teardown) replaces
	// the stale transport in both indices. With its reverse entry gone, the
	// old socket's own Disconnect is a no-op and cannot tear down the live
	// replacement.
	stale, hadStale := room[participantID]
	if hadStale {
		delete(h.byConn, stale)
	}
	room[participantID] = conn
	h.byConn[conn] = connKey{Room: roomID, Participant: participantID}

	// A persisted participant without a live transport is invisible here;
	// the conjunction of registry row and hub entry defines "existing user".
	existing := make([]ExistingUser, 0, len(persisted))
	for _, p := range persisted {
		if p.ID == participantID {
			continue
		}
		if _, live := room[p.ID]; !live {
			continue
		}
		existing = append(existing, ExistingUser{
			UserID:       p.ID,
			DisplayName:  p.DisplayName,
			AudioEnabled: p.IsAudioEnabled,
			VideoEnabled: p.IsVideoEnabled,
		})
	}
	h.mu.Unlock()

	if hadStale && stale != conn {
		log.Warn().Str("module", "hub").Str("room", string(roomID)).
			Str("user", string(participantID)).Msg("replaced stale transport on reconnect")
		stale.Close(CloseCodeGoingAway, "replaced by newer connection")
	}

	joined := mustMarshal(roomJoined{
		Type:          "room-joined",
		UserID:        participantID,
		RoomID:        roomID,
		ExistingUsers: existing,
		IsInitiator:   len(existing) == 0,
	})
	if err := conn.Send(joined); err != nil {
		log.Error().Err(err).Str("module", "hub").Str("user", string(participantID)).Msg("send room-joined")
	}

	if len(existing) > 0 {
		announce := mustMarshal(newUserJoined{
			Type: "new-user-joined",
			NewUser: ExistingUser{
				UserID:       participantID,
				DisplayName:  displayName,
				AudioEnabled: true,
				VideoEnabled: true,
			},
		})
		h.BroadcastToRoom(announce, roomID, participantID)
	}

	log.Info().Str("module", "hub").Str("room", string(roomID)).
		Str("user", string(participantID)).Int("existing", len(existing)).Msg("connected")
	return len(existing), nil
}

// Disconnect is idempotent: an unregistered transport is a no-op, so the
// read-loop teardown and a broadcast eviction may race safely. Exactly one
// caller removes the indices, announces user-left, and clears the registry
// row.
func (h *Hub) Disconnect(ctx context.Context, conn Conn) {
	h.mu.Lock()
	key, ok := h.byConn[conn]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.byConn, conn)
	if room := h.rooms[key.Room]; room != nil {
		delete(room, key.Participant)
		if len(room) == 0 {
			delete(h.rooms, key.Room)
		}
	}
	h.mu.Unlock()

	h.BroadcastToRoom(mustMarshal(userLeft{Type: "user-left", UserID: key.Participant}), key.Room, key.Participant)

	if err := h.store.LeaveRoom(ctx, key.Room, key.Participant); err != nil {
		log.Error().Err(err).Str("module", "hub").Str("room", string(key.Room)).
			Str("user", string(key.Participant)).Msg("registry leave failed")
	}

	log.Info().Str("module", "hub").Str("room", string(key.Room)).
		Str("user", string(key.Participant)).Msg("disconnected")
}

// BroadcastToRoom delivers to every live transport in the room except
// exclude. A failing transport is evicted from the indices only; its
// registry cleanup happens when its own read loop observes the failure and
// runs the normal Disconnect path.
func (h *Hub) BroadcastToRoom(message []byte, roomID domain.RoomID, exclude domain.ParticipantID) {
	h.mu.Lock()
	room := h.rooms[roomID]
	targets := make(map[domain.ParticipantID]Conn, len(room))
	for pid, c := range room {
		if pid != exclude {
			targets[pid] = c
		}
	}
	h.mu.Unlock()

	for pid, c := range targets {
		if err := c.Send(message); err != nil {
			log.Error().Err(err).Str("module", "hub").Str("room", string(roomID)).
				Str("user", string(pid)).Msg("broadcast send failed, evicting")
			h.evict(c)
		}
	}
}

// SendToParticipant reports a missing or failing target to the caller so
// the dispatcher can decide whether to surface it.
func (h *Hub) SendToParticipant(message []byte, roomID domain.RoomID, target domain.ParticipantID) error {
	h.mu.Lock()
	conn, ok := h.rooms[roomID][target]
	h.mu.Unlock()
	if !ok {
		return ErrUndeliverable
	}
	if err := conn.Send(message); err != nil {
		log.Error().Err(err).Str("module", "hub").Str("room", string(roomID)).
			Str("user", string(target)).Msg("unicast send failed, evicting")
		h.evict(conn)
		return ErrUndeliverable
	}
	return nil
}

// EndRoom notifies and force-closes every member, then clears the room's
// hub entry. Registry deletion follows through each transport's own
// Disconnect once its read loop ends.
func (h *Hub) EndRoom(roomID domain.RoomID) {
	h.BroadcastToRoom(mustMarshal(roomEnded{
		Type:    "room-ended",
		Message: "Room has been ended by host",
	}), roomID, "")

	h.mu.Lock()
	room := h.rooms[roomID]
	conns := make([]Conn, 0, len(room))
	for _, c := range room {
		conns = append(conns, c)
	}
	delete(h.rooms, roomID)
	for _, c := range conns {
		delete(h.byConn, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Close(CloseCodeGoingAway, "room ended")
	}
	log.Info().Str("module", "hub").Str("room", string(roomID)).Int("members", len(conns)).Msg("room ended")
}

// evict drops a transport from both indices without touching the registry.
func (h *Hub) evict(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key, ok := h.byConn[conn]
	if !ok {
		return
	}
	delete(h.byConn, conn)
	if room := h.rooms[key.Room]; room != nil {
		delete(room, key.Participant)
		if len(room) == 0 {
			delete(h.rooms, key.Room)
		}
	}
}

func (h *Hub) ActiveRooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

func (h *Hub) TotalConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byConn)
}
