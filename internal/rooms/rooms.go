package rooms

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mossy-p/call-signaling/internal/models"
)

const (
	CodeLength = 6
	RoomTTL    = 24 * time.Hour
	codeChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // Removed ambiguous chars

	defaultMaxParticipants = 8
)

var (
	ErrNotFound  = errors.New("room not found")
	ErrForbidden = errors.New("only the room creator can delete the room")
	ErrFull      = errors.New("room is full")
)

// Directory stores room reservations and the presence mirror.
type Directory interface {
	Put(ctx context.Context, room models.RoomMetadata, ttl time.Duration) error
	Get(ctx context.Context, roomID string) (*models.RoomMetadata, error)
	LookupCode(ctx context.Context, code string) (string, error)
	Delete(ctx context.Context, room models.RoomMetadata) error

	AddPresence(ctx context.Context, roomID, userID string) error
	RemovePresence(ctx context.Context, roomID, userID string) error
	Presence(ctx context.Context, roomID string) ([]string, error)
}

// Service implements reservation rules on top of a Directory.
type Service struct {
	dir    Directory
	logger *zap.Logger
}

func NewService(dir Directory, logger *zap.Logger) *Service {
	return &Service{dir: dir, logger: logger.Named("rooms")}
}

func (s *Service) Directory() Directory { return s.dir }

// Reserve creates a room with a fresh id and shareable code.
func (s *Service) Reserve(ctx context.Context, creatorID string, maxParticipants int) (*models.RoomMetadata, error) {
	if maxParticipants == 0 {
		maxParticipants = defaultMaxParticipants
	}
	code, err := generateRoomCode()
	if err != nil {
		return nil, err
	}
	room := models.RoomMetadata{
		ID:              uuid.New().String(),
		Code:            code,
		CreatorID:       creatorID,
		CreatedAt:       time.Now().UTC(),
		MaxParticipants: maxParticipants,
	}
	if err := s.dir.Put(ctx, room, RoomTTL); err != nil {
		return nil, fmt.Errorf("store room: %w", err)
	}
	s.logger.Info("room reserved",
		zap.String("room", room.ID),
		zap.String("code", room.Code),
		zap.String("creator", creatorID))
	return &room, nil
}

// Lookup finds a reservation by code or id and fills in live participants.
func (s *Service) Lookup(ctx context.Context, identifier string) (*models.RoomMetadata, error) {
	roomID := identifier
	if len(identifier) == CodeLength {
		id, err := s.dir.LookupCode(ctx, identifier)
		if err == nil {
			roomID = id
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	room, err := s.dir.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	peers, err := s.dir.Presence(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("read presence: %w", err)
	}
	room.Participants = peers
	room.ParticipantCount = len(peers)
	return room, nil
}

// Delete drops a reservation. Only its creator may do so.
func (s *Service) Delete(ctx context.Context, identifier, userID string) (*models.RoomMetadata, error) {
	room, err := s.Lookup(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if room.CreatorID != userID {
		return nil, ErrForbidden
	}
	if err := s.dir.Delete(ctx, *room); err != nil {
		return nil, fmt.Errorf("delete room: %w", err)
	}
	s.logger.Info("room deleted", zap.String("room", room.ID), zap.String("by", userID))
	return room, nil
}

// Admission is the outcome of resolving a join target.
type Admission struct {
	RoomID          string
	MaxParticipants int // zero for ad-hoc rooms
}

// Admit resolves identifier to a room id. Reserved rooms are checked for
// capacity; unknown identifiers are accepted as ad-hoc rooms.
func (s *Service) Admit(ctx context.Context, identifier, userID string) (Admission, error) {
	room, err := s.Lookup(ctx, identifier)
	if errors.Is(err, ErrNotFound) {
		return Admission{RoomID: identifier}, nil
	}
	if err != nil {
		return Admission{}, err
	}
	if room.ParticipantCount >= room.MaxParticipants && !contains(room.Participants, userID) {
		return Admission{}, ErrFull
	}
	return Admission{RoomID: room.ID, MaxParticipants: room.MaxParticipants}, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// generateRoomCode generates a random room code
func generateRoomCode() (string, error) {
	code := make([]byte, CodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		code[i] = codeChars[n.Int64()]
	}
	return string(code), nil
}
