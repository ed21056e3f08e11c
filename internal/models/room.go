package models

import "time"

// RoomMetadata stores information about a reserved room
type RoomMetadata struct {
	ID               string    `json:"id" msgpack:"id"`
	Code             string    `json:"code" msgpack:"code"`
	CreatorID        string    `json:"creatorId" msgpack:"creatorId"`
	CreatedAt        time.Time `json:"createdAt" msgpack:"createdAt"`
	MaxParticipants  int       `json:"maxParticipants" msgpack:"maxParticipants"`
	ParticipantCount int       `json:"participantCount" msgpack:"-"`
	Participants     []string  `json:"participants,omitempty" msgpack:"-"`
}

// CreateRoomRequest is the request body for creating a room
type CreateRoomRequest struct {
	MaxParticipants int `json:"maxParticipants" binding:"omitempty,min=2,max=16"`
}

// CreateRoomResponse is the response for creating a room
type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}
