package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/dkeye/Huddle/internal/domain"
)

type roomTable map[domain.RoomID]*domain.Room

type participantTable map[domain.RoomID]map[domain.ParticipantID]*domain.Participant

// FileStore keeps rooms and participants in two JSON files under dataDir.
// One mutex spans both tables so join/leave are single critical sections.
type FileStore struct {
	fs               afero.Fs
	roomsFile        string
	participantsFile string
	enforceCapacity  bool

	mu sync.Mutex
}

func NewFileStore(fs afero.Fs, dataDir string, enforceCapacity bool) (*FileStore, error) {
	s := &FileStore{
		fs:               fs,
		roomsFile:        filepath.Join(dataDir, "rooms.json"),
		participantsFile: filepath.Join(dataDir, "participants.json"),
		enforceCapacity:  enforceCapacity,
	}
	if err := fs.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	for _, f := range []string{s.roomsFile, s.participantsFile} {
		if _, err := fs.Stat(f); err != nil {
			if err := s.writeJSON(f, map[string]any{}); err != nil {
				return nil, fmt.Errorf("init %s: %w", f, err)
			}
		}
	}
	return s, nil
}

func (s *FileStore) CreateRoom(_ context.Context, maxParticipants int) (domain.RoomID, error) {
	room, err := domain.NewRoom(maxParticipants)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := s.readRooms()
	rooms[room.ID] = room
	if err := s.writeJSON(s.roomsFile, rooms); err != nil {
		return "", err
	}

	participants := s.readParticipants()
	participants[room.ID] = map[domain.ParticipantID]*domain.Participant{}
	if err := s.writeJSON(s.participantsFile, participants); err != nil {
		return "", err
	}

	log.Info().Str("module", "registry.file").Str("room", string(room.ID)).
		Int("max_participants", maxParticipants).Msg("created room")
	return room.ID, nil
}

func (s *FileStore) GetRoom(_ context.Context, roomID domain.RoomID) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.readRooms()[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

func (s *FileStore) JoinRoom(_ context.Context, roomID domain.RoomID, displayName string) (*domain.Participant, error) {
	p, err := domain.NewParticipant(displayName)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := s.readRooms()
	room, ok := rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if s.enforceCapacity && room.CurrentParticipants >= room.MaxParticipants {
		return nil, ErrRoomFull
	}

	participants := s.readParticipants()
	if participants[roomID] == nil {
		participants[roomID] = map[domain.ParticipantID]*domain.Participant{}
	}
	participants[roomID][p.ID] = p
	if err := s.writeJSON(s.participantsFile, participants); err != nil {
		return nil, err
	}

	room.CurrentParticipants++
	if err := s.writeJSON(s.roomsFile, rooms); err != nil {
		// Roll the participant entry back so the durable count and the
		// durable participant set never diverge across a restart.
		delete(participants[roomID], p.ID)
		if err2 := s.writeJSON(s.participantsFile, participants); err2 != nil {
			log.Error().Err(err2).Str("module", "registry.file").Str("room", string(roomID)).
				Msg("rollback of participant entry failed")
		}
		return nil, err
	}

	log.Info().Str("module", "registry.file").Str("room", string(roomID)).
		Str("user", string(p.ID)).Str("name", displayName).Msg("participant joined")
	return p, nil
}

func (s *FileStore) LeaveRoom(_ context.Context, roomID domain.RoomID, participantID domain.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	participants := s.readParticipants()
	set, ok := participants[roomID]
	if !ok {
		return nil
	}
	removed, ok := set[participantID]
	if !ok {
		return nil
	}
	delete(set, participantID)

	rooms := s.readRooms()
	if room, ok := rooms[roomID]; ok {
		room.CurrentParticipants = max(0, room.CurrentParticipants-1)
		if room.CurrentParticipants == 0 {
			delete(rooms, roomID)
			delete(participants, roomID)
		}
	}

	if err := s.writeJSON(s.participantsFile, participants); err != nil {
		return err
	}
	if err := s.writeJSON(s.roomsFile, rooms); err != nil {
		// Restore the participant entry so the two files stay consistent.
		if participants[roomID] == nil {
			participants[roomID] = map[domain.ParticipantID]*domain.Participant{}
		}
		participants[roomID][participantID] = removed
		if err2 := s.writeJSON(s.participantsFile, participants); err2 != nil {
			log.Error().Err(err2).Str("module", "registry.file").Str("room", string(roomID)).
				Msg("rollback of participant removal failed")
		}
		return err
	}

	log.Info().Str("module", "registry.file").Str("room", string(roomID)).
		Str("user", string(participantID)).Msg("participant left")
	return nil
}

func (s *FileStore) ListParticipants(_ context.Context, roomID domain.RoomID) ([]domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.readParticipants()[roomID]
	out := make([]domain.Participant, 0, len(set))
	for _, p := range set {
		out = append(out, *p)
	}
	return out, nil
}

func (s *FileStore) UpdateMediaStatus(_ context.Context, roomID domain.RoomID, participantID domain.ParticipantID, audioEnabled, videoEnabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	participants := s.readParticipants()
	p, ok := participants[roomID][participantID]
	if !ok {
		return nil
	}
	p.IsAudioEnabled = audioEnabled
	p.IsVideoEnabled = videoEnabled
	if err := s.writeJSON(s.participantsFile, participants); err != nil {
		return err
	}

	log.Info().Str("module", "registry.file").Str("room", string(roomID)).
		Str("user", string(participantID)).Bool("audio", audioEnabled).
		Bool("video", videoEnabled).Msg("updated media status")
	return nil
}

// readRooms tolerates a missing or corrupt file and starts from empty,
// matching the behavior the registry had before it was a typed store.
func (s *FileStore) readRooms() roomTable {
	out := roomTable{}
	s.readJSON(s.roomsFile, &out)
	return out
}

func (s *FileStore) readParticipants() participantTable {
	out := participantTable{}
	s.readJSON(s.participantsFile, &out)
	return out
}

func (s *FileStore) readJSON(path string, v any) {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		log.Warn().Err(err).Str("module", "registry.file").Str("file", path).Msg("corrupt store file, starting empty")
	}
}

func (s *FileStore) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := afero.WriteFile(s.fs, path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
