package voice

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// Unsupported: no capture backend or no usable device.
	Unsupported Kind = iota
	// PermissionDenied: the device exists but refused to start.
	PermissionDenied
	TranscriptionFailed
)

func (k Kind) String() string {
	switch k {
	case Unsupported:
		return "unsupported"
	case PermissionDenied:
		return "permission denied"
	case TranscriptionFailed:
		return "transcription failed"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

type CaptureError struct {
	Kind Kind
	Err  error
}

func (e *CaptureError) Error() string {
	if e.Err == nil {
		return "voice capture: " + e.Kind.String()
	}
	return fmt.Sprintf("voice capture: %s: %v", e.Kind, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// IsKind reports whether err is a CaptureError of kind k.
func IsKind(err error, k Kind) bool {
	var ce *CaptureError
	return errors.As(err, &ce) && ce.Kind == k
}

var (
	ErrBusy = errors.New("voice capture already in progress")
	// ErrNoAudio is reported instead of uploading recordings under 100ms.
	ErrNoAudio = errors.New("no audio captured")
)
