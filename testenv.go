package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"chikitsa/audio"
	"chikitsa/config"
	"chikitsa/controller"
	"chikitsa/encoder"
	"chikitsa/log"
)

const (
	waitTimeout  = 30 * time.Second
	waitInterval = 10 * time.Millisecond
	testToneLen  = 1500 * time.Millisecond
)

// runTestMode drives a session from line commands read on in. The
// microphone replays wavPath, or a generated tone when it is empty.
func runTestMode(cfg *config.Config, wavPath string, in io.Reader, out io.Writer) int {
	var devices *audio.FakeContext
	if wavPath != "" {
		var err error
		devices, err = audio.NewFakeContextFromWAV(wavPath, true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
			return 1
		}
	} else {
		devices = audio.NewFakeContext(tone(testToneLen), true)
	}

	cfg.NoCues = true
	s := newSession(cfg, devices, nil)
	defer s.Close()
	return runScript(s.ctrl, devices, in, out)
}

func runScript(ctrl *controller.Controller, devices *audio.FakeContext, in io.Reader, out io.Writer) int {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "":
		case "SEND":
			ctrl.SubmitQuestion(arg)
		case "TYPE":
			ctrl.UpdateDraft(arg)
		case "RECORD":
			ctrl.BeginVoiceCapture()
		case "STOP":
			ctrl.StopVoiceCapture()
		case "CANCEL_RECORD":
			ctrl.CancelVoiceCapture()
		case "CANCEL_REVEAL":
			ctrl.CancelReveal()
		case "RESET":
			ctrl.ResetConversation()
		case "DISMISS":
			ctrl.DismissNotice()
		case "WAIT":
			if !waitSettled(ctrl, waitTimeout) {
				fmt.Fprintln(out, "WAIT timed out")
				return 1
			}
		case "WAIT_AUDIO_DONE":
			if dev := devices.Last(); dev != nil {
				<-dev.AudioDone()
			}
		case "SLEEP":
			if ms, err := strconv.Atoi(arg); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		case "DUMP":
			dump(out, ctrl.Snapshot())
		case "QUIT":
			return 0
		default:
			log.Warnf("test mode: unknown command %q", line)
			fmt.Fprintf(out, "unknown command %q\n", cmd)
		}
	}
	return 0
}

// waitSettled polls until the controller accepts input again.
func waitSettled(ctrl *controller.Controller, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ctrl.Snapshot().AcceptsInput() {
			return true
		}
		time.Sleep(waitInterval)
	}
	return false
}

func dump(w io.Writer, st controller.State) {
	fmt.Fprintf(w, "mode=%s draft=%q notice=%q\n", st.Mode, st.Draft, st.Notice.Text)
	for i, m := range st.Messages {
		fmt.Fprintf(w, "%d %s %s %q\n", i, m.Sender, m.Status, m.Text)
	}
}

// tone returns d of a 440Hz tone as 16kHz mono s16le.
func tone(d time.Duration) []byte {
	n := int(d.Seconds() * encoder.SampleRate)
	pcm := make([]byte, 0, n*2)
	for i := range n {
		s := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/encoder.SampleRate))
		pcm = binary.LittleEndian.AppendUint16(pcm, uint16(s))
	}
	return pcm
}
