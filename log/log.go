package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	diagName         = "diagnostics_log.txt"
	conversationName = "conversation_log.txt"
)

var (
	diagLog          zerolog.Logger
	diagFile         *os.File
	conversationFile *os.File
	logMu            sync.Mutex
	logReady         bool
	debug            bool
	pid              int
	dir              string
)

// Request is one round trip to the assistant backend, timed with httptrace.
type Request struct {
	Endpoint    string
	Status      int
	Attempt     int
	ConnReused  bool
	TLSProto    string
	ReqKB       float64
	DNSTimeMs   float64
	ConnTimeMs  float64
	TLSTimeMs   float64
	TTFBMs      float64
	TotalTimeMs float64
	Err         error
}

// Capture describes one finished recording that was handed to /transcribe.
type Capture struct {
	Attempt      uint64
	Device       string
	Format       string
	AudioLengthS float64
	RawSizeKB    float64
	EncodedKB    float64
	EncodeTimeMs float64
}

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: --logpath flag
	if flagPath != "" {
		return absolute(flagPath)
	}

	// Priority 2: CHIKITSA_LOG_PATH environment variable
	if envPath := os.Getenv("CHIKITSA_LOG_PATH"); envPath != "" {
		return absolute(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

// SetDebug enables Debugf output. Takes effect on the next Init.
func SetDebug(on bool) {
	debug = on
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagFile, err = os.OpenFile(filepath.Join(dir, diagName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	conversationFile, err = os.OpenFile(filepath.Join(dir, conversationName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	diagLog = zerolog.New(consoleWriter).Level(level).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if conversationFile != nil {
		conversationFile.Close()
		conversationFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Debugf(format string, args ...any) {
	if logReady {
		diagLog.Debug().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func RequestMetrics(m Request) {
	if !logReady {
		return
	}

	connStatus := "new"
	if m.ConnReused {
		connStatus = "reused"
	}

	ev := diagLog.Info()
	if m.Err != nil {
		ev = diagLog.Warn().Err(m.Err)
	}
	ev = ev.Str("endpoint", m.Endpoint).
		Int("status", m.Status).
		Int("attempt", m.Attempt).
		Str("conn", connStatus)
	if m.TLSProto != "" {
		ev = ev.Str("tls_proto", m.TLSProto)
	}
	ev.Float64("req_kb", m.ReqKB).
		Float64("dns_ms", m.DNSTimeMs).
		Float64("conn_ms", m.ConnTimeMs).
		Float64("tls_ms", m.TLSTimeMs).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("total_ms", m.TotalTimeMs).
		Msg("request")
}

func CaptureMetrics(m Capture) {
	if !logReady {
		return
	}
	diagLog.Info().
		Uint64("attempt", m.Attempt).
		Str("device", m.Device).
		Str("format", m.Format).
		Float64("audio_s", m.AudioLengthS).
		Float64("raw_kb", m.RawSizeKB).
		Float64("encoded_kb", m.EncodedKB).
		Float64("encode_ms", m.EncodeTimeMs).
		Msg("capture")
}

func writeConversation(kind, text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	if conversationFile == nil {
		return
	}
	text = strings.ReplaceAll(text, "\n", `\n`)
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, kind, text)
	conversationFile.WriteString(line)
}

// Turn records a finished exchange. status is "ready" or "error".
func Turn(question, answer, status string) {
	writeConversation("Q", question)
	writeConversation("A:"+status, answer)
}

func Transcript(text string) {
	writeConversation("T", text)
}

func ConversationReset() {
	writeConversation("RESET", "")
}

func SessionStart(baseURL, format, device string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("base_url", baseURL).
		Str("format", format).
		Str("device", device).
		Msg("session_start")
}

func SessionEnd(turns int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("turns", turns).
		Msg("session_end")
}
