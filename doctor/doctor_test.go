package doctor

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chikitsa/audio"
	"chikitsa/voice"
)

type pinger struct {
	d   time.Duration
	err error
}

func (p pinger) Ping(context.Context) (time.Duration, error) { return p.d, p.err }

type transcriber struct{ text string }

func (t transcriber) Transcribe(context.Context, []byte, string, string) (string, error) {
	return t.text, nil
}

func ok(name string) Check {
	return Check{Name: name, Run: func(context.Context, io.Writer) (string, error) { return "fine", nil }}
}

func TestRunReportsEveryCheck(t *testing.T) {
	var out bytes.Buffer
	failing := Check{Name: "broken", Run: func(context.Context, io.Writer) (string, error) {
		return "", errors.New("nope")
	}}

	code := Run(context.Background(), &out, []Check{ok("first"), failing, ok("third")})
	require.Equal(t, 1, code)
	require.Contains(t, out.String(), "[1/3] first\n  PASS: fine")
	require.Contains(t, out.String(), "[2/3] broken\n  FAIL: nope")
	require.Contains(t, out.String(), "[3/3] third\n  PASS: fine")
	require.Contains(t, out.String(), "1 of 3 checks failed")

	out.Reset()
	require.Equal(t, 0, Run(context.Background(), &out, []Check{ok("only")}))
	require.Contains(t, out.String(), "All checks passed!")
}

func TestBackend(t *testing.T) {
	detail, err := Backend(pinger{d: 12 * time.Millisecond}, "http://localhost:8000").Run(context.Background(), io.Discard)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8000 reachable (connect 12ms)", detail)

	_, err = Backend(pinger{err: errors.New("connection refused")}, "http://x").Run(context.Background(), io.Discard)
	require.ErrorContains(t, err, "connection refused")
}

func TestDevices(t *testing.T) {
	var out bytes.Buffer
	detail, err := Devices(audio.NewFakeContext(nil, false), nil).Run(context.Background(), &out)
	require.NoError(t, err)
	require.Equal(t, "1 device(s)", detail)
	require.Contains(t, out.String(), "  - fake\n")

	_, err = Devices(nil, errors.New("no pulse server")).Run(context.Background(), io.Discard)
	require.ErrorContains(t, err, "no pulse server")
}

func TestTranscription(t *testing.T) {
	pcm := make([]byte, 0, 16000)
	for i := range 8000 {
		pcm = binary.LittleEndian.AppendUint16(pcm, uint16(int16(i%200*50)))
	}
	rec := voice.New(audio.NewFakeContext(pcm, false), transcriber{text: "testing one two"})
	defer rec.Close()

	detail, err := Transcription(rec, 10*time.Millisecond).Run(context.Background(), io.Discard)
	require.NoError(t, err)
	require.Equal(t, "transcribed: testing one two", detail)

	_, err = Transcription(nil, time.Millisecond).Run(context.Background(), io.Discard)
	require.Error(t, err)
}

func TestTranscriptionCancelled(t *testing.T) {
	rec := voice.New(audio.NewFakeContext(nil, false), transcriber{})
	defer rec.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Transcription(rec, time.Minute).Run(ctx, io.Discard)
	require.ErrorIs(t, err, context.Canceled)
}
