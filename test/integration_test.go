//go:build integration

package test_test

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

var testBinary string

func TestMain(m *testing.M) {
	testBinary = os.Getenv("CHIKITSA_TEST_BIN")
	if testBinary == "" {
		fmt.Fprintln(os.Stderr, "CHIKITSA_TEST_BIN not set; build with: go build -o /tmp/chikitsa . && CHIKITSA_TEST_BIN=/tmp/chikitsa go test -tags integration ./test")
		os.Exit(1)
	}
	os.Exit(m.Run())
}

func generateToneWAV(path string, sampleRate int, durationS float64) error {
	const headerSize = 44
	numSamples := int(float64(sampleRate) * durationS)
	dataSize := numSamples * 2

	buf := make([]byte, headerSize+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(headerSize-8+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)  // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16) // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	for i := range numSamples {
		s := int16(6000 * math.Sin(2*math.Pi*300*float64(i)/float64(sampleRate)))
		binary.LittleEndian.PutUint16(buf[headerSize+2*i:], uint16(s))
	}

	return os.WriteFile(path, buf, 0644)
}

type backend struct {
	chats      atomic.Int32
	transcribe atomic.Int32
	resets     atomic.Int32
	failChat   bool
}

func (b *backend) start(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chat":
			b.chats.Add(1)
			if b.failChat {
				http.Error(w, "down", http.StatusBadGateway)
				return
			}
			io.WriteString(w, `{"answer":"Drink fluids and rest."}`)
		case "/transcribe":
			b.transcribe.Add(1)
			if _, _, err := r.FormFile("audio"); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			io.WriteString(w, `{"transcript":"I have a sore throat"}`)
		case "/reset":
			b.resets.Add(1)
			io.WriteString(w, `{"message":"Conversation reset."}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func cmds(parts ...string) string {
	return strings.Join(parts, "\n") + "\n"
}

func runChikitsa(t *testing.T, stdin string, args ...string) (logDir, out string) {
	t.Helper()
	logDir = t.TempDir()
	cmdArgs := append([]string{"--logpath", logDir, "--config", writeConfig(t)}, args...)

	cmd := exec.Command(testBinary, cmdArgs...)
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Env = append(os.Environ(), "CHIKITSA_URL=")

	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("chikitsa exited with error: %v\noutput: %s", err, output)
	}
	return logDir, string(output)
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("reveal_interval = \"1ms\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func readLog(t *testing.T, logDir, filename string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(logDir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return ""
		}
		t.Fatalf("failed to read %s: %v", filename, err)
	}
	return string(data)
}

func TestChatTurn(t *testing.T) {
	b := &backend{}
	url := b.start(t)
	logDir, out := runChikitsa(t, cmds("SEND I have a cough", "WAIT", "DUMP", "QUIT"), "--test", "--url", url)

	if !strings.Contains(out, `1 Chikitsa ready "Drink fluids and rest."`) {
		t.Fatalf("unexpected dump:\n%s", out)
	}
	conv := readLog(t, logDir, "conversation_log.txt")
	if !strings.Contains(conv, "Q\tI have a cough") || !strings.Contains(conv, "A:ready\tDrink fluids and rest.") {
		t.Fatalf("conversation log missing turn:\n%s", conv)
	}
	if diag := readLog(t, logDir, "diagnostics_log.txt"); !strings.Contains(diag, "session_start") {
		t.Fatalf("diagnostics log missing session_start:\n%s", diag)
	}
}

func TestChatFailure(t *testing.T) {
	b := &backend{failChat: true}
	url := b.start(t)
	_, out := runChikitsa(t, cmds("SEND hello", "WAIT", "DUMP", "QUIT"), "--test", "--url", url)

	if !strings.Contains(out, `1 Chikitsa error "Error: Could not connect."`) {
		t.Fatalf("unexpected dump:\n%s", out)
	}
}

func TestVoiceFromWAV(t *testing.T) {
	wav := filepath.Join(t.TempDir(), "tone.wav")
	if err := generateToneWAV(wav, 16000, 0.5); err != nil {
		t.Fatal(err)
	}
	b := &backend{}
	url := b.start(t)
	logDir, out := runChikitsa(t, cmds("RECORD", "WAIT_AUDIO_DONE", "STOP", "WAIT", "DUMP", "QUIT"),
		"--test", "--url", url, "--format", "flac", wav)

	if !strings.Contains(out, `draft="I have a sore throat"`) {
		t.Fatalf("unexpected dump:\n%s", out)
	}
	if b.transcribe.Load() != 1 {
		t.Fatalf("transcribe calls = %d", b.transcribe.Load())
	}
	if conv := readLog(t, logDir, "conversation_log.txt"); !strings.Contains(conv, "T\tI have a sore throat") {
		t.Fatalf("conversation log missing transcript:\n%s", conv)
	}
}

func TestResetClearsTimeline(t *testing.T) {
	b := &backend{}
	url := b.start(t)
	_, out := runChikitsa(t, cmds("SEND one", "WAIT", "RESET", "SLEEP 200", "DUMP", "QUIT"), "--test", "--url", url)

	if strings.Contains(out, "You") {
		t.Fatalf("timeline not cleared:\n%s", out)
	}
	if b.resets.Load() != 1 {
		t.Fatalf("reset calls = %d", b.resets.Load())
	}
}

func TestVersion(t *testing.T) {
	out, err := exec.Command(testBinary, "--version").CombinedOutput()
	if err != nil || !strings.HasPrefix(string(out), "chikitsa ") {
		t.Fatalf("--version: %v %q", err, out)
	}
}
