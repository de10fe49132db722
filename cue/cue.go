// Package cue plays the short tones that mark the start and end of a voice
// recording, and a low double beep when a request fails.
package cue

import (
	"math"
	"sync"
)

type Sound int

const (
	Start Sound = iota
	Stop
	Error
)

const (
	sampleRate = 44100

	// Start: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// Stop: medium pitch, slightly longer
	stopFreq   = 900
	stopVolume = 0.5
	stopDecay  = 40

	// Error: low pitch double beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30
)

// Player plays cues without blocking the caller. A nil or disabled Player
// is silent.
type Player struct {
	enabled bool
	once    sync.Once
	tones   [3][]int16
	play    func(samples []int16)
}

func New(enabled bool) *Player {
	return &Player{enabled: enabled, play: playSamples}
}

func (p *Player) Start() { p.fire(Start) }
func (p *Player) Stop()  { p.fire(Stop) }
func (p *Player) Error() { p.fire(Error) }

func (p *Player) fire(s Sound) {
	if p == nil || !p.enabled {
		return
	}
	p.once.Do(p.init)
	go p.play(p.tones[s])
}

func (p *Player) init() {
	p.tones[Start] = generateTick(sampleRate, startFreq, 0.05, startVolume, startDecay)
	p.tones[Stop] = generateTick(sampleRate, stopFreq, 0.08, stopVolume, stopDecay)
	p.tones[Error] = generateDoubleBeep(sampleRate, errorFreq, 0.08, 0.05, errorVolume, errorDecay)
}

// generateTick returns a mono sine burst with an exponential decay.
func generateTick(sampleRate int, freq, duration, volume, decay float64) []int16 {
	n := int(float64(sampleRate) * duration)
	samples := make([]int16, n)
	for i := range n {
		t := float64(i) / float64(sampleRate)
		envelope := math.Exp(-t * decay)
		samples[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
	}
	return samples
}

func generateDoubleBeep(sampleRate int, freq, beepDur, gapDur, volume, decay float64) []int16 {
	beep := generateTick(sampleRate, freq, beepDur, volume, decay)
	gap := make([]int16, int(float64(sampleRate)*gapDur))
	result := make([]int16, 0, len(beep)*2+len(gap))
	result = append(result, beep...)
	result = append(result, gap...)
	result = append(result, beep...)
	return result
}
