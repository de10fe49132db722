package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"chikitsa/config"
	"chikitsa/controller"
)

type backend struct {
	mu         sync.Mutex
	questions  []string
	uploads    []string
	resets     atomic.Int32
	chatStatus int
	answer     string
	transcript string
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/chat":
		body, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.questions = append(b.questions, string(body))
		status := b.chatStatus
		b.mu.Unlock()
		if status != 0 {
			http.Error(w, "boom", status)
			return
		}
		writeJSON(w, map[string]string{"answer": b.answer})
	case "/transcribe":
		_, hdr, err := r.FormFile("audio")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		b.uploads = append(b.uploads, hdr.Filename)
		b.mu.Unlock()
		writeJSON(w, map[string]string{"transcript": b.transcript})
	case "/reset":
		b.resets.Add(1)
		writeJSON(w, map[string]string{"message": "Conversation reset."})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testConfig(t *testing.T, b *backend) *config.Config {
	t.Helper()
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.BaseURL = srv.URL
	cfg.RevealInterval = time.Millisecond
	cfg.RequestTimeout = 5 * time.Second
	cfg.NoCues = true
	return cfg
}

func script(lines ...string) io.Reader {
	return strings.NewReader(strings.Join(lines, "\n") + "\n")
}

func TestTestModeChat(t *testing.T) {
	b := &backend{answer: "Rest and hydrate."}
	cfg := testConfig(t, b)

	var out bytes.Buffer
	code := runTestMode(cfg, "", script("SEND I have a fever", "WAIT", "DUMP", "QUIT"), &out)
	require.Equal(t, 0, code)

	require.Contains(t, out.String(), `mode=idle draft="" notice=""`)
	require.Contains(t, out.String(), `0 You ready "I have a fever"`)
	require.Contains(t, out.String(), `1 Chikitsa ready "Rest and hydrate."`)
	require.Len(t, b.questions, 1)
	require.JSONEq(t, `{"question":"I have a fever"}`, b.questions[0])
}

func TestTestModeChatFailure(t *testing.T) {
	b := &backend{chatStatus: http.StatusInternalServerError}
	cfg := testConfig(t, b)

	var out bytes.Buffer
	runTestMode(cfg, "", script("SEND hello", "WAIT", "DUMP", "QUIT"), &out)

	require.Contains(t, out.String(), "mode=error(")
	require.Contains(t, out.String(), `1 Chikitsa error "Error: Could not connect."`)
}

func TestTestModeVoice(t *testing.T) {
	b := &backend{transcript: "  my head hurts \n"}
	cfg := testConfig(t, b)

	var out bytes.Buffer
	runTestMode(cfg, "", script("RECORD", "SLEEP 300", "STOP", "WAIT", "DUMP", "QUIT"), &out)

	require.Contains(t, out.String(), `mode=composing draft="my head hurts"`)
	require.Equal(t, []string{"audio.wav"}, b.uploads)
}

func TestTestModeVoiceCancelled(t *testing.T) {
	b := &backend{transcript: "never"}
	cfg := testConfig(t, b)

	var out bytes.Buffer
	runTestMode(cfg, "", script("RECORD", "SLEEP 100", "CANCEL_RECORD", "WAIT", "DUMP", "QUIT"), &out)

	require.Contains(t, out.String(), `mode=idle draft=""`)
	require.Empty(t, b.uploads)
}

func TestTestModeReset(t *testing.T) {
	b := &backend{answer: "ok"}
	cfg := testConfig(t, b)

	var out bytes.Buffer
	runTestMode(cfg, "", script("SEND hi", "WAIT", "RESET", "DUMP", "QUIT"), &out)

	require.Equal(t, "mode=idle draft=\"\" notice=\"\"\n", out.String())
	require.Equal(t, int32(1), b.resets.Load(), "reset is sent before the session closes")
}

func TestTestModeEmptyAnswer(t *testing.T) {
	b := &backend{answer: ""}
	cfg := testConfig(t, b)

	var out bytes.Buffer
	runTestMode(cfg, "", script("SEND hello", "WAIT", "DUMP", "QUIT"), &out)
	require.Contains(t, out.String(), `1 Chikitsa ready "No response."`)
}

func TestTestModeUnknownCommand(t *testing.T) {
	cfg := testConfig(t, &backend{})

	var out bytes.Buffer
	require.Equal(t, 0, runTestMode(cfg, "", script("JUMP", "QUIT"), &out))
	require.Equal(t, "unknown command \"JUMP\"\n", out.String())
}

func TestLoadConfigFlagsWin(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("CHIKITSA_URL", "http://from-env:9000")

	cfg, err := loadConfig(&options{URL: "https://clinic.example/", Format: "flac", Device: "USB Mic", NoCues: true})
	require.NoError(t, err)
	require.Equal(t, "https://clinic.example", cfg.BaseURL)
	require.Equal(t, "flac", cfg.AudioFormat)
	require.Equal(t, "USB Mic", cfg.Device)
	require.True(t, cfg.NoCues)

	_, err = loadConfig(&options{URL: "ftp://nope"})
	require.Error(t, err)
}

func TestWrapText(t *testing.T) {
	require.Equal(t, []string{"take two", "tablets"}, wrapText("take two tablets", 10))
	require.Equal(t, []string{"one", "two"}, wrapText("one\ntwo", 10))
	require.Equal(t, []string{""}, wrapText("", 10))
	require.Equal(t, []string{"दवाई", "लें"}, wrapText("दवाई लें", 5))
}

func TestVoiceFinished(t *testing.T) {
	require.True(t, voiceFinished(controller.TranscribingAudio{}, controller.Composing{}))
	require.True(t, voiceFinished(controller.RecordingVoice{}, controller.Idle{}))
	require.False(t, voiceFinished(controller.RecordingVoice{}, controller.TranscribingAudio{}))
	require.False(t, voiceFinished(controller.Idle{}, controller.Composing{}))
	require.False(t, voiceFinished(nil, controller.Idle{}))
}

func TestTUISubmitsTypedQuestion(t *testing.T) {
	b := &backend{answer: "Rest."}
	cfg := testConfig(t, b)
	s := newSession(cfg, nil, nil)
	defer s.Close()

	var m tea.Model = newModel(s.ctrl, "")
	m, _ = m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	m, _ = m.Update(stateMsg(s.ctrl.Snapshot()))
	require.Contains(t, m.View(), greeting)
	require.Contains(t, m.View(), "voice off")

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("cough")})
	require.Equal(t, "cough", s.ctrl.Snapshot().Draft)

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.Empty(t, m.(tuiModel).input.Value())

	require.Eventually(t, func() bool {
		st := s.ctrl.Snapshot()
		return len(st.Messages) == 2 && st.LastAnswer() == "Rest." && st.AcceptsInput()
	}, 2*time.Second, 10*time.Millisecond)

	m, _ = m.Update(stateMsg(s.ctrl.Snapshot()))
	require.Contains(t, m.View(), userLabel)
	require.Contains(t, m.View(), "cough")
}

func TestTUIBlockingNoticeSwallowsKey(t *testing.T) {
	cfg := testConfig(t, &backend{})
	s := newSession(cfg, nil, nil)
	defer s.Close()

	var m tea.Model = newModel(s.ctrl, "")
	m, _ = m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	m, _ = m.Update(stateMsg(controller.State{
		Mode:   controller.Idle{},
		Notice: controller.Notice{Text: controller.NoticeNoMicrophone, Blocking: true},
	}))
	require.Contains(t, m.View(), "press any key")

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	require.Empty(t, m.(tuiModel).input.Value())
	require.Empty(t, s.ctrl.Snapshot().Draft)
}
