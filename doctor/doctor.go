// Package doctor runs system diagnostics: backend reachability, capture
// devices, a recorded round trip through /transcribe and the clipboard.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"chikitsa/audio"
	"chikitsa/clipboard"
	"chikitsa/voice"
)

// Check is one diagnostic step. Run returns a short detail on success.
type Check struct {
	Name string
	Run  func(ctx context.Context, w io.Writer) (string, error)
}

// Run executes checks in order and returns an exit code (0=all pass, 1=any fail).
// A failing check does not stop the ones after it.
func Run(ctx context.Context, w io.Writer, checks []Check) int {
	fmt.Fprintln(w, "chikitsa doctor - system diagnostics")
	fmt.Fprintln(w, "====================================")

	failed := 0
	for i, c := range checks {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "[%d/%d] %s\n", i+1, len(checks), c.Name)
		detail, err := c.Run(ctx, w)
		if err != nil {
			failed++
			fmt.Fprintf(w, "  FAIL: %v\n", err)
			continue
		}
		fmt.Fprintf(w, "  PASS: %s\n", detail)
	}

	fmt.Fprintln(w)
	if failed == 0 {
		fmt.Fprintln(w, "All checks passed!")
		return 0
	}
	fmt.Fprintf(w, "%d of %d checks failed. See details above.\n", failed, len(checks))
	return 1
}

// Pinger is satisfied by *assistant.Client.
type Pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

func Backend(p Pinger, baseURL string) Check {
	return Check{
		Name: "Assistant service",
		Run: func(ctx context.Context, _ io.Writer) (string, error) {
			d, err := p.Ping(ctx)
			if err != nil {
				return "", fmt.Errorf("cannot reach %s: %w", baseURL, err)
			}
			return fmt.Sprintf("%s reachable (connect %dms)", baseURL, d.Milliseconds()), nil
		},
	}
}

// Devices lists the capture devices. devices may be nil when no audio
// backend could be opened.
func Devices(devices audio.Context, initErr error) Check {
	return Check{
		Name: "Capture devices",
		Run: func(_ context.Context, w io.Writer) (string, error) {
			if devices == nil {
				return "", fmt.Errorf("cannot connect to audio: %v", initErr)
			}
			list, err := devices.Devices()
			if err != nil {
				return "", fmt.Errorf("cannot list devices: %w", err)
			}
			if len(list) == 0 {
				return "", errors.New("no capture devices found")
			}
			for _, d := range list {
				suffix := ""
				if audio.IsBluetooth(d.Name) {
					suffix = " (bluetooth, expect low quality)"
				}
				fmt.Fprintf(w, "  - %s%s\n", d.Name, suffix)
			}
			return fmt.Sprintf("%d device(s)", len(list)), nil
		},
	}
}

// Recorder is satisfied by *voice.Session.
type Recorder interface {
	Begin(ctx context.Context) error
	Stop()
	Cancel()
	Results() <-chan voice.Result
}

// Transcription records for d and uploads the result to /transcribe.
func Transcription(rec Recorder, d time.Duration) Check {
	return Check{
		Name: "Microphone and transcription",
		Run: func(ctx context.Context, w io.Writer) (string, error) {
			if rec == nil {
				return "", errors.New("voice input unavailable")
			}
			if err := rec.Begin(ctx); err != nil {
				return "", err
			}
			fmt.Fprintf(w, "  Speak now (%s)...\n", d)
			select {
			case <-time.After(d):
			case <-ctx.Done():
				rec.Cancel()
				return "", ctx.Err()
			}
			rec.Stop()

			select {
			case r := <-rec.Results():
				if r.Err != nil {
					return "", r.Err
				}
				text := strings.TrimSpace(r.Transcript)
				if text == "" {
					text = "(no speech detected)"
				}
				return "transcribed: " + text, nil
			case <-ctx.Done():
				rec.Cancel()
				return "", ctx.Err()
			}
		},
	}
}

const clipboardSentinel = "chikitsa-doctor-check"

// Clipboard copies a sentinel, reads it back and restores what was there.
func Clipboard() Check {
	return Check{
		Name: "Clipboard",
		Run: func(context.Context, io.Writer) (string, error) {
			if !clipboard.Available() {
				return "", clipboard.ErrUnsupported
			}
			prev, _ := clipboard.Read()
			if err := clipboard.Copy(clipboardSentinel); err != nil {
				return "", fmt.Errorf("copy failed: %w", err)
			}
			got, err := clipboard.Read()
			if prev != "" {
				_ = clipboard.Copy(prev)
			}
			if err != nil {
				return "", fmt.Errorf("read failed: %w", err)
			}
			if got != clipboardSentinel {
				return "", fmt.Errorf("read back %q, want %q", got, clipboardSentinel)
			}
			return "copy and read back verified", nil
		},
	}
}
