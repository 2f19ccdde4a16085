package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
)

const keyPrefix = "huddle:"

// RedisStore offers the same semantics as FileStore on a shared redis.
// Join/leave use WATCH so the room count and the participant hash move
// together even with several server processes on one database.
type RedisStore struct {
	client          *redis.Client
	enforceCapacity bool
}

func NewRedisStore(client *redis.Client, enforceCapacity bool) *RedisStore {
	return &RedisStore{client: client, enforceCapacity: enforceCapacity}
}

func roomKey(roomID domain.RoomID) string {
	return keyPrefix + "room:" + string(roomID)
}

func participantsKey(roomID domain.RoomID) string {
	return keyPrefix + "participants:" + string(roomID)
}

func (s *RedisStore) CreateRoom(ctx context.Context, maxParticipants int) (domain.RoomID, error) {
	room, err := domain.NewRoom(maxParticipants)
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, roomKey(room.ID), room, 0).Err(); err != nil {
		return "", fmt.Errorf("store room: %w", err)
	}
	log.Info().Str("module", "registry.redis").Str("room", string(room.ID)).
		Int("max_participants", maxParticipants).Msg("created room")
	return room.ID, nil
}

func (s *RedisStore) GetRoom(ctx context.Context, roomID domain.RoomID) (*domain.Room, error) {
	data, err := s.client.Get(ctx, roomKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	var room domain.Room
	if err := room.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("decode room: %w", err)
	}
	return &room, nil
}

func (s *RedisStore) JoinRoom(ctx context.Context, roomID domain.RoomID, displayName string) (*domain.Participant, error) {
	p, err := domain.NewParticipant(displayName)
	if err != nil {
		return nil, err
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, roomKey(roomID)).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrRoomNotFound
		}
		if err != nil {
			return err
		}
		var room domain.Room
		if err := room.UnmarshalBinary(data); err != nil {
			return err
		}
		if s.enforceCapacity && room.CurrentParticipants >= room.MaxParticipants {
			return ErrRoomFull
		}
		room.CurrentParticipants++

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, roomKey(roomID), &room, 0)
			pipe.HSet(ctx, participantsKey(roomID), string(p.ID), p)
			return nil
		})
		return err
	}, roomKey(roomID))
	if err != nil {
		return nil, err
	}

	log.Info().Str("module", "registry.redis").Str("room", string(roomID)).
		Str("user", string(p.ID)).Str("name", displayName).Msg("participant joined")
	return p, nil
}

func (s *RedisStore) LeaveRoom(ctx context.Context, roomID domain.RoomID, participantID domain.ParticipantID) error {
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.HExists(ctx, participantsKey(roomID), string(participantID)).Result()
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}

		data, err := tx.Get(ctx, roomKey(roomID)).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, participantsKey(roomID), string(participantID))
			if len(data) == 0 {
				return nil
			}
			var room domain.Room
			if err := room.UnmarshalBinary(data); err != nil {
				return err
			}
			room.CurrentParticipants = max(0, room.CurrentParticipants-1)
			if room.CurrentParticipants == 0 {
				pipe.Del(ctx, roomKey(roomID), participantsKey(roomID))
			} else {
				pipe.Set(ctx, roomKey(roomID), &room, 0)
			}
			return nil
		})
		return err
	}, roomKey(roomID), participantsKey(roomID))
	if err != nil {
		return err
	}

	log.Info().Str("module", "registry.redis").Str("room", string(roomID)).
		Str("user", string(participantID)).Msg("participant left")
	return nil
}

func (s *RedisStore) ListParticipants(ctx context.Context, roomID domain.RoomID) ([]domain.Participant, error) {
	rows, err := s.client.HGetAll(ctx, participantsKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	out := make([]domain.Participant, 0, len(rows))
	for _, raw := range rows {
		var p domain.Participant
		if err := p.UnmarshalBinary([]byte(raw)); err != nil {
			return nil, fmt.Errorf("decode participant: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *RedisStore) UpdateMediaStatus(ctx context.Context, roomID domain.RoomID, participantID domain.ParticipantID, audioEnabled, videoEnabled bool) error {
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, participantsKey(roomID), string(participantID)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var p domain.Participant
		if err := p.UnmarshalBinary(raw); err != nil {
			return err
		}
		p.IsAudioEnabled = audioEnabled
		p.IsVideoEnabled = videoEnabled

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, participantsKey(roomID), string(participantID), p)
			return nil
		})
		return err
	}, participantsKey(roomID))
}
