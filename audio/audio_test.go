package audio

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsBluetooth(t *testing.T) {
	require.True(t, IsBluetooth("AirPods Pro"))
	require.True(t, IsBluetooth("Sony WH-1000XM4"))
	require.False(t, IsBluetooth("Built-in Microphone"))
}

func TestPickKey(t *testing.T) {
	cursor, act := pickKey([]byte("j"), 0, 3)
	require.Equal(t, 1, cursor)
	require.Equal(t, pickNone, act)

	cursor, _ = pickKey([]byte{0x1b, '[', 'B'}, 2, 3)
	require.Equal(t, 2, cursor, "cursor stays on the last entry")

	cursor, _ = pickKey([]byte("k"), 0, 3)
	require.Equal(t, 0, cursor)

	cursor, _ = pickKey([]byte{0x1b, '[', 'A'}, 2, 3)
	require.Equal(t, 1, cursor)

	_, act = pickKey([]byte("\r"), 1, 3)
	require.Equal(t, pickConfirm, act)

	_, act = pickKey([]byte{3}, 1, 3)
	require.Equal(t, pickAbort, act)
}

func TestRenderPickerMarksCursor(t *testing.T) {
	var buf bytes.Buffer
	renderPicker(&buf, []DeviceInfo{{Name: "mic one"}, {Name: "AirPods"}}, 1)
	out := buf.String()
	require.Contains(t, out, "    mic one")
	require.Contains(t, out, "▶ AirPods")
	require.Contains(t, out, "lower audio quality")
}

func TestFindDevice(t *testing.T) {
	ctx := NewFakeContext(nil, false)
	require.Nil(t, FindDevice(ctx, ""))
	require.Nil(t, FindDevice(ctx, "missing"))
	d := FindDevice(ctx, "fake")
	require.NotNil(t, d)
	require.Equal(t, "fake", d.ID)
}

func TestFakeCaptureDeliversBuffer(t *testing.T) {
	pcm := make([]byte, 3000)
	ctx := NewFakeContext(pcm, false)

	dev, err := ctx.NewCapture(nil, CaptureConfig{SampleRate: 16000, Channels: 1})
	require.NoError(t, err)

	var got int
	dev.SetCallback(func(data []byte, _ uint32) { got += len(data) })
	require.NoError(t, dev.Start())
	require.Equal(t, len(pcm), got)

	fc := ctx.Last()
	<-fc.AudioDone()
	require.False(t, fc.Released())
	dev.Stop()
	dev.Close()
	require.True(t, fc.Released())
}

func TestFakeContextErrors(t *testing.T) {
	ctx := NewFakeContext(nil, false)
	ctx.NewErr = errors.New("no backend")
	_, err := ctx.NewCapture(nil, CaptureConfig{})
	require.Error(t, err)

	ctx = NewFakeContext(nil, false)
	ctx.StartErr = ErrPermissionDenied
	dev, err := ctx.NewCapture(nil, CaptureConfig{})
	require.NoError(t, err)
	require.ErrorIs(t, dev.Start(), ErrPermissionDenied)
	require.False(t, ctx.Last().Started())
}
