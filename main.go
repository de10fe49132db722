package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jessevdk/go-flags"

	"chikitsa/assistant"
	"chikitsa/audio"
	"chikitsa/config"
	"chikitsa/controller"
	"chikitsa/cue"
	"chikitsa/doctor"
	"chikitsa/log"
	"chikitsa/reveal"
	"chikitsa/shutdown"
	"chikitsa/voice"
)

var version = "dev"

type options struct {
	Config  string `long:"config" description:"Path to config.toml (default: ~/.config/chikitsa/config.toml)"`
	URL     string `long:"url" description:"Assistant service base URL"`
	Device  string `long:"device" description:"Use named microphone device"`
	Setup   bool   `long:"setup" description:"Select microphone device and save it to the config file"`
	Format  string `long:"format" description:"Upload format for voice input" choice:"wav" choice:"flac"`
	LogPath string `long:"logpath" description:"Log directory path (default: OS-specific location, use ./ for current dir)"`
	Debug   bool   `long:"debug" description:"Write debug records to the diagnostics log"`
	NoCues  bool   `long:"no-cues" description:"Do not play tones when recording starts and stops"`
	Version bool   `long:"version" description:"Print version and exit"`
	Test    bool   `long:"test" description:"Test mode (headless, stdin-driven)"`
	Doctor  bool   `long:"doctor" description:"Run system diagnostics and exit"`

	Args struct {
		WAV string `positional-arg-name:"wav" description:"Audio replayed as the microphone in test mode"`
	} `positional-args:"yes"`
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		if flags.WroteHelp(err) {
			return 0
		}
		return 2
	}

	if opts.Version {
		fmt.Printf("chikitsa %s\n", version)
		return 0
	}

	logPath, err := log.ResolveDir(opts.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	initCrashLog()

	cfg, err := loadConfig(&opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if opts.Setup && !opts.Test {
		if err := setupDevice(cfg, opts.Config); err != nil {
			if errors.Is(err, audio.ErrSelectionAborted) {
				return 0
			}
			fmt.Fprintf(os.Stderr, "Warning: device selection failed: %v\n", err)
			fmt.Fprintln(os.Stderr, "Falling back to default device")
		}
	}

	log.SetDebug(cfg.Debug)
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	if opts.Doctor {
		return runDoctor(cfg)
	}
	if opts.Test {
		return runTestMode(cfg, opts.Args.WAV, os.Stdin, os.Stdout)
	}
	return runTUI(cfg)
}

// loadConfig layers the command line over config.toml and the environment.
func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}
	if opts.URL != "" {
		cfg.BaseURL = opts.URL
	}
	if opts.Device != "" {
		cfg.Device = opts.Device
	}
	if opts.Format != "" {
		cfg.AudioFormat = opts.Format
	}
	if opts.Debug {
		cfg.Debug = true
	}
	if opts.NoCues {
		cfg.NoCues = true
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupDevice runs the interactive picker and stores the choice in the
// config file. Only the device key of the file changes.
func setupDevice(cfg *config.Config, path string) error {
	ctx, err := audio.NewContext()
	if err != nil {
		return fmt.Errorf("initializing audio: %w", err)
	}
	defer ctx.Close()

	dev, err := audio.SelectDevice(ctx)
	if err != nil {
		return err
	}
	cfg.Device = dev.Name

	if path == "" {
		if path, err = config.DefaultPath(); err != nil {
			return err
		}
	}
	onDisk := config.Default()
	if err := config.LoadTOML(onDisk, path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	onDisk.Device = dev.Name
	if err := config.SaveTOML(onDisk, path); err != nil {
		return err
	}
	fmt.Printf("Saved device %q to %s\n", dev.Name, path)
	return nil
}

func initCrashLog() {
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(crashFile, debug.CrashOptions{})
}

// session is one wired-up controller and the resources it depends on.
type session struct {
	ctrl    *controller.Controller
	client  *assistant.Client
	voice   *voice.Session
	devices audio.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// newSession builds the client, the voice pipeline over devices (nil
// disables voice) and the controller, and starts the controller loop.
func newSession(cfg *config.Config, devices audio.Context, sched reveal.TickScheduler) *session {
	client := assistant.New(cfg.BaseURL,
		assistant.WithTimeout(cfg.RequestTimeout),
		assistant.WithRetries(cfg.Retries),
		assistant.WithToken(cfg.Token),
	)

	deviceName := "system default"
	var dev *audio.DeviceInfo
	if devices != nil && cfg.Device != "" {
		if dev = audio.FindDevice(devices, cfg.Device); dev != nil {
			deviceName = dev.Name
		} else {
			log.Warnf("device %q not found, using system default", cfg.Device)
		}
	}

	s := &session{client: client, devices: devices, done: make(chan struct{})}
	var rec controller.Recorder
	if devices != nil {
		s.voice = voice.New(devices, client,
			voice.WithFormat(cfg.AudioFormat),
			voice.WithDevice(dev),
			voice.WithTimeout(cfg.RequestTimeout),
		)
		rec = s.voice
	} else {
		deviceName = "none"
	}

	s.ctrl = controller.New(client, rec,
		controller.WithRequestTimeout(cfg.RequestTimeout),
		controller.WithRevealEngine(reveal.New(sched, cfg.RevealInterval)),
		controller.WithCues(cue.New(!cfg.NoCues)),
	)

	log.SessionStart(cfg.BaseURL, cfg.AudioFormat, deviceName)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		defer close(s.done)
		s.ctrl.Run(ctx)
	}()
	go func() {
		if d := client.Warm(ctx); d > 0 {
			log.Infof("connection warmed in %dms", d.Milliseconds())
		}
	}()
	return s
}

// Close stops the controller loop, then releases the microphone.
func (s *session) Close() {
	s.ctrl.Close()
	s.cancel()
	<-s.done
	if s.voice != nil {
		s.voice.Close()
	}
	if s.devices != nil {
		s.devices.Close()
	}
}

const doctorRecordFor = 3 * time.Second

func runDoctor(cfg *config.Config) int {
	client := assistant.New(cfg.BaseURL,
		assistant.WithTimeout(cfg.RequestTimeout),
		assistant.WithToken(cfg.Token),
	)

	devices, initErr := audio.NewContext()
	var rec doctor.Recorder
	if initErr == nil {
		defer devices.Close()
		s := voice.New(devices, client,
			voice.WithFormat(cfg.AudioFormat),
			voice.WithDevice(audio.FindDevice(devices, cfg.Device)),
			voice.WithTimeout(cfg.RequestTimeout),
		)
		defer s.Close()
		rec = s
	} else {
		devices = nil
	}

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	defer shutdown.Stop(sigChan)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-sigChan:
			fmt.Println("\nInterrupted")
			cancel()
		case <-ctx.Done():
		}
	}()

	return doctor.Run(ctx, os.Stdout, []doctor.Check{
		doctor.Backend(client, cfg.BaseURL),
		doctor.Devices(devices, initErr),
		doctor.Transcription(rec, doctorRecordFor),
		doctor.Clipboard(),
	})
}

func runTUI(cfg *config.Config) int {
	devices, err := audio.NewContext()
	if err != nil {
		log.Warnf("audio context init error: %v", err)
		devices = nil
	}

	s := newSession(cfg, devices, nil)
	defer s.Close()

	p := tea.NewProgram(newModel(s.ctrl, cfg.Device), tea.WithAltScreen())

	ctx, stopForward := context.WithCancel(context.Background())
	defer stopForward()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case st := <-s.ctrl.Updates():
				p.Send(stateMsg(st))
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	defer shutdown.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			log.Info("signal received")
			p.Quit()
		case <-ctx.Done():
		}
	}()

	if _, err := p.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
