package media

import (
	"context"
	"errors"
	"fmt"
)

type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

// Profile selects device-appropriate capture settings.
type Profile string

const (
	ProfileDesktop Profile = "desktop"
	ProfileMobile  Profile = "mobile"
)

type AudioConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

type VideoConstraints struct {
	Width      int
	Height     int
	FrameRate  int
	FacingMode string
}

// Constraints describe what to capture. Video is nil for audio-only calls.
type Constraints struct {
	Audio AudioConstraints
	Video *VideoConstraints
}

func ConstraintsFor(callType CallType, profile Profile) Constraints {
	c := Constraints{
		Audio: AudioConstraints{
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
		},
	}
	if callType != CallVideo {
		return c
	}
	if profile == ProfileMobile {
		c.Video = &VideoConstraints{Width: 640, Height: 480, FrameRate: 24, FacingMode: "user"}
	} else {
		c.Video = &VideoConstraints{Width: 1280, Height: 720, FrameRate: 30}
	}
	return c
}

// Acquirer opens local capture devices.
type Acquirer interface {
	Acquire(ctx context.Context, c Constraints) (*Stream, error)
}

type DeviceErrorKind int

const (
	DeviceOther DeviceErrorKind = iota
	DevicePermissionDenied
	DeviceNotFound
)

func (k DeviceErrorKind) String() string {
	switch k {
	case DevicePermissionDenied:
		return "permission denied"
	case DeviceNotFound:
		return "device not found"
	default:
		return "device error"
	}
}

// DeviceError is returned by an Acquirer when capture cannot start.
type DeviceError struct {
	Kind   DeviceErrorKind
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Device, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Kind, e.Device)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// DeviceErrorKindOf classifies err; anything that is not a DeviceError is DeviceOther.
func DeviceErrorKindOf(err error) DeviceErrorKind {
	var de *DeviceError
	if errors.As(err, &de) {
		return de.Kind
	}
	return DeviceOther
}
