//go:build !linux

package cue

import (
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"chikitsa/log"
)

// One playback device is kept open and restarted for each cue.
var (
	malgoCtx   *malgo.AllocatedContext
	device     *malgo.Device
	deviceOnce sync.Once
	playMu     sync.Mutex

	// Read from the audio callback.
	playing atomic.Pointer[[]byte]
	playPos atomic.Uint32
)

func initDevice() error {
	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = 1
	config.SampleRate = sampleRate

	var err error
	device, err = malgo.InitDevice(malgoCtx.Context, config, malgo.DeviceCallbacks{Data: dataCallback})
	return err
}

func openDevice() {
	var err error
	malgoCtx, err = malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Debugf("cue: malgo context: %v", err)
		return
	}
	if err := initDevice(); err != nil {
		log.Debugf("cue: playback device: %v", err)
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		malgoCtx = nil
	}
}

func dataCallback(out, _ []byte, frameCount uint32) {
	clear(out)
	samples := playing.Load()
	if samples == nil {
		return
	}
	pos := playPos.Load()
	remaining := uint32(len(*samples)) - pos
	if remaining == 0 {
		playing.Store(nil)
		return
	}
	n := min(frameCount*2, remaining)
	copy(out[:n], (*samples)[pos:pos+n])
	playPos.Store(pos + n)
}

func toBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}
	return buf
}

func playSamples(samples []int16) {
	deviceOnce.Do(openDevice)
	if malgoCtx == nil || len(samples) == 0 {
		return
	}
	buf := toBytes(samples)

	playMu.Lock()
	defer playMu.Unlock()

	_ = device.Stop()
	playPos.Store(0)
	playing.Store(&buf)

	if err := device.Start(); err != nil {
		// The device can go stale across sleep/wake; recreate it once.
		device.Uninit()
		if err := initDevice(); err != nil {
			playing.Store(nil)
			return
		}
		if err := device.Start(); err != nil {
			playing.Store(nil)
		}
	}
}
