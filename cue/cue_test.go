package cue

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func peak(samples []int16) float64 {
	var p float64
	for _, s := range samples {
		p = math.Max(p, math.Abs(float64(s)))
	}
	return p
}

func TestGenerateTickDecays(t *testing.T) {
	tick := generateTick(sampleRate, startFreq, 0.05, startVolume, startDecay)
	require.Len(t, tick, sampleRate/20)

	quarter := len(tick) / 4
	head, tail := peak(tick[:quarter]), peak(tick[3*quarter:])
	require.Greater(t, head, 0.0)
	require.LessOrEqual(t, head, 32767*startVolume)
	require.Less(t, tail, head)
}

func TestDoubleBeepHasSilentGap(t *testing.T) {
	beep := generateTick(sampleRate, errorFreq, 0.08, errorVolume, errorDecay)
	double := generateDoubleBeep(sampleRate, errorFreq, 0.08, 0.05, errorVolume, errorDecay)
	gap := int(sampleRate * 0.05)

	require.Len(t, double, 2*len(beep)+gap)
	require.Zero(t, peak(double[len(beep):len(beep)+gap]))
	require.Equal(t, beep, double[len(beep)+gap:])
}

func TestPlayerFiresTone(t *testing.T) {
	played := make(chan []int16, 3)
	p := &Player{enabled: true, play: func(s []int16) { played <- s }}

	p.Start()
	p.Stop()
	p.Error()
	lengths := map[int]bool{}
	for range 3 {
		select {
		case s := <-played:
			require.NotEmpty(t, s)
			lengths[len(s)] = true
		case <-time.After(time.Second):
			t.Fatal("cue not played")
		}
	}
	require.Len(t, lengths, 3, "each cue has its own tone")
}

func TestDisabledPlayerIsSilent(t *testing.T) {
	played := make(chan []int16, 1)
	p := &Player{play: func(s []int16) { played <- s }}
	p.Start()

	var nilPlayer *Player
	nilPlayer.Error()

	select {
	case <-played:
		t.Fatal("disabled player made a sound")
	case <-time.After(30 * time.Millisecond):
	}
}
