package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/hub"
	"github.com/dkeye/Huddle/internal/recorder"
	"github.com/dkeye/Huddle/internal/registry"
)

type API struct {
	Store    registry.Store
	Hub      *hub.Hub
	Recorder *recorder.Manager
}

type CreateRoomRequest struct {
	MaxParticipants int `json:"max_participants"`
}

type JoinRoomRequest struct {
	DisplayName string `json:"display_name"`
}

type MediaStatusRequest struct {
	AudioEnabled bool `json:"audio_enabled"`
	VideoEnabled bool `json:"video_enabled"`
}

func (a *API) createRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.MaxParticipants == 0 {
		req.MaxParticipants = 100
	}

	roomID, err := a.Store.CreateRoom(c.Request.Context(), req.MaxParticipants)
	if err != nil {
		if errors.Is(err, domain.ErrMaxParticipantsInvalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Str("module", "adapters.http").Msg("create room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room_id":          roomID,
		"join_url":         fmt.Sprintf("/room/%s", roomID),
		"max_participants": req.MaxParticipants,
	})
}

func (a *API) getRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("room"))

	room, err := a.Store.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		if errors.Is(err, registry.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load room"})
		return
	}
	participants, err := a.Store.ListParticipants(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load participants"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room_id":           roomID,
		"participants":      participants,
		"participant_count": len(participants),
		"max_participants":  room.MaxParticipants,
		"created_at":        room.CreatedAt,
	})
}

func (a *API) joinRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("room"))

	var req JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing display_name"})
		return
	}

	p, err := a.Store.JoinRoom(c.Request.Context(), roomID, req.DisplayName)
	switch {
	case errors.Is(err, registry.ErrRoomNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
	case errors.Is(err, registry.ErrRoomFull):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Room is full"})
	case errors.Is(err, domain.ErrDisplayNameEmpty), errors.Is(err, domain.ErrDisplayNameTooLong):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		log.Error().Err(err).Str("module", "adapters.http").Str("room", string(roomID)).Msg("join room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to join room"})
	default:
		c.JSON(http.StatusOK, p)
	}
}

func (a *API) updateMediaStatus(c *gin.Context) {
	roomID := domain.RoomID(c.Param("room"))
	participantID := domain.ParticipantID(c.Param("user"))

	var req MediaStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := a.Store.UpdateMediaStatus(c.Request.Context(), roomID, participantID, req.AudioEnabled, req.VideoEnabled); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update media status"})
		return
	}
	a.Hub.BroadcastToRoom(hub.MediaChangedMessage(participantID, req.AudioEnabled, req.VideoEnabled), roomID, participantID)

	c.JSON(http.StatusOK, gin.H{"message": "Media status updated"})
}

// endRoom is host-initiated termination: recording sessions finalize first,
// then every transport is notified and closed. Persisted room deletion
// follows through each connection's own disconnect path.
func (a *API) endRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("room"))

	a.Recorder.StopAllInRoom(roomID)
	a.Hub.EndRoom(roomID)

	c.JSON(http.StatusOK, gin.H{"message": "Room ended successfully"})
}

func (a *API) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":            "healthy",
		"active_rooms":      a.Hub.ActiveRooms(),
		"total_connections": a.Hub.TotalConnections(),
	})
}
