// Command callsensei runs the operator assist console: it bridges live
// microphone audio to an analysis provider and renders the returned
// emotional analysis, suggestions, and caller transcript in the
// terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/callsensei/callsensei/internal/config"
	"github.com/callsensei/callsensei/pkg/capture"
	"github.com/callsensei/callsensei/pkg/core/bridge"
	"github.com/callsensei/callsensei/pkg/metrics"
	"github.com/callsensei/callsensei/pkg/playback"
	"github.com/callsensei/callsensei/pkg/providers/gemini"
	"github.com/callsensei/callsensei/pkg/providers/vapi"
	"github.com/callsensei/callsensei/pkg/store"
)

type options struct {
	envFile     string
	provider    string
	mode        string
	metricsAddr string
	noSpeaker   bool
	debug       bool
}

func main() {
	os.Exit(runMain())
}

func runMain() int {
	var opt options
	flag.StringVar(&opt.envFile, "env", ".env", "Path to dotenv file (missing file is ignored)")
	flag.StringVar(&opt.provider, "provider", "", "Analysis provider: gemini or vapi (default from CALLSENSEI_PROVIDER)")
	flag.StringVar(&opt.mode, "mode", "", "Analysis mode: continuous or single_shot (default from CALLSENSEI_MODE)")
	flag.StringVar(&opt.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090 (default from CALLSENSEI_METRICS_ADDR)")
	flag.BoolVar(&opt.noSpeaker, "no-speaker", false, "Do not play assistant audio (vapi only)")
	flag.BoolVar(&opt.debug, "debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(opt.envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if opt.provider != "" {
		cfg.Provider = opt.provider
	}
	if opt.mode != "" {
		cfg.Mode = bridge.Mode(opt.mode)
	}
	if opt.metricsAddr != "" {
		cfg.MetricsAddr = opt.metricsAddr
	}
	if cfg.Provider != "gemini" && cfg.Provider != "vapi" {
		fmt.Fprintln(os.Stderr, "--provider must be gemini or vapi")
		return 2
	}
	if cfg.Mode != bridge.ModeContinuous && cfg.Mode != bridge.ModeSingleShot {
		fmt.Fprintln(os.Stderr, "--mode must be continuous or single_shot")
		return 2
	}

	logger := newLogger(cfg.LogLevel, opt.debug)

	var speaker *playback.Speaker
	if cfg.Provider == "vapi" && !opt.noSpeaker {
		speaker, err = playback.New(playback.Config{Logger: logger})
		if err != nil {
			logger.Warn("assistant audio disabled", "error", err)
			speaker = nil
		} else {
			defer speaker.Close()
		}
	}

	adapter, err := buildAdapter(cfg, speaker, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	obs := metrics.New("callsensei")
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, obs, logger)
	}

	meter := &levelMeter{}
	ctrl, err := bridge.New(bridge.Config{
		Adapter: adapter,
		Capture: meter.factory(capture.Config{
			SampleRate: cfg.CaptureSampleRate,
			Logger:     logger,
		}),
		Mode:           cfg.Mode,
		ConnectTimeout: cfg.ConnectTimeout,
		Logger:         logger,
		Observer:       obs,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var archive *store.Store
	recCh := make(chan bridge.Update, 64)
	if cfg.DatabaseURL != "" {
		archive, err = store.Open(ctx, store.Config{DatabaseURL: cfg.DatabaseURL, Logger: logger})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer archive.Close()
		go store.NewRecorder(archive, logger).Run(ctx, recCh)
	}

	console := &console{
		ctrl:    ctrl,
		meter:   meter,
		archive: archive,
		recCh:   recCh,
		logger:  logger,
		cfg:     cfg,
	}
	return console.run(ctx, cancel)
}

func buildAdapter(cfg config.Config, speaker *playback.Speaker, logger *slog.Logger) (bridge.Adapter, error) {
	switch cfg.Provider {
	case "vapi":
		vc := vapi.Config{APIKey: cfg.VapiAPIKey, Logger: logger}
		if speaker != nil {
			vc.Sink = speaker
		}
		return vapi.New(vc), nil
	default:
		return gemini.New(gemini.Config{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
			Logger: logger,
		}), nil
	}
}

func newLogger(level string, debug bool) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	if debug {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	logger.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}

// console owns the interactive loop: keypresses drive the controller,
// controller updates drive the terminal.
type console struct {
	ctrl    *bridge.Controller
	meter   *levelMeter
	archive *store.Store
	recCh   chan bridge.Update
	logger  *slog.Logger
	cfg     config.Config

	// sessionID is the last active session, kept for archiving because
	// the controller forgets it once teardown completes.
	sessionID string
}

func (c *console) run(ctx context.Context, cancel context.CancelFunc) int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	keys := make(chan byte, 8)
	restore := startKeyReader(ctx, keys)
	defer restore()

	printf("CallSensei operator console — provider=%s mode=%s", c.cfg.Provider, c.ctrl.Mode())
	printf("keys: [c]onnect  [d]isconnect  [m]ode toggle  [q]uit")

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			c.shutdown()
			return 0

		case key := <-keys:
			switch key {
			case 'q', 0x1b: // ESC
				c.shutdown()
				return 0
			case 'c':
				if err := c.ctrl.Connect(ctx); err != nil {
					printf("connect: %v", err)
				}
			case 'd':
				c.ctrl.Disconnect()
			case 'm':
				if s := c.ctrl.Status(); s == bridge.StatusConnected || s == bridge.StatusConnecting {
					printf("mode is fixed while a session is active")
					continue
				}
				next := bridge.ModeContinuous
				if c.ctrl.Mode() == bridge.ModeContinuous {
					next = bridge.ModeSingleShot
				}
				c.ctrl.SetMode(next)
				printf("mode -> %s (applies on next connect)", next)
			}

		case u := <-c.ctrl.Updates():
			c.render(u)
			c.forward(u)

		case <-ticker.C:
			if c.ctrl.Status() == bridge.StatusConnected {
				printf("mic %s", c.meter.bar(24))
			}
		}
	}
}

func (c *console) shutdown() {
	wasActive := c.ctrl.Status() == bridge.StatusConnected || c.ctrl.Status() == bridge.StatusConnecting
	c.ctrl.Disconnect()
	if wasActive {
		c.endSession(bridge.StatusDisconnected)
	}
	printf("bye")
}

func (c *console) render(u bridge.Update) {
	switch v := u.(type) {
	case bridge.StatusUpdate:
		printf("status: %s", v.Status)
	case bridge.AnalysisUpdate:
		rec := v.Record
		printf("── analysis ──────────────────────────────")
		printf("emotion:    %s (%.0f%%)", rec.Emotion, rec.Confidence*100)
		if rec.OpeningLine != "" {
			printf("say now:    %s", rec.OpeningLine)
		}
		for _, s := range rec.Suggestions {
			printf("  • %s", s)
		}
		printf("summary:    %s", rec.Summary)
	case bridge.TranscriptUpdate:
		printf("caller: %s", strings.TrimSpace(v.Fragment))
	}
}

// forward mirrors updates to the archive recorder and stamps session
// rows on lifecycle transitions.
func (c *console) forward(u bridge.Update) {
	if c.archive == nil {
		return
	}
	select {
	case c.recCh <- u:
	default:
	}

	sv, ok := u.(bridge.StatusUpdate)
	if !ok {
		return
	}
	switch sv.Status {
	case bridge.StatusConnected:
		id := c.ctrl.SessionID()
		if id == "" {
			return
		}
		c.sessionID = id
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := c.archive.CreateSession(ctx, id, c.cfg.Provider, c.ctrl.Mode(), time.Now()); err != nil {
			c.logger.Warn("archiving session failed", "error", err)
		}
	case bridge.StatusDisconnected, bridge.StatusError:
		c.endSession(sv.Status)
	}
}

// endSession stamps the archived session row once; repeat terminal
// updates for the same session are ignored.
func (c *console) endSession(terminal bridge.Status) {
	if c.archive == nil || c.sessionID == "" {
		return
	}
	id := c.sessionID
	c.sessionID = ""
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.archive.EndSession(ctx, id, terminal, c.ctrl.Transcript(), time.Now()); err != nil {
		c.logger.Warn("archiving session end failed", "error", err)
	}
}

// startKeyReader puts stdin in raw mode when attached to a terminal and
// streams single keypresses. The returned func restores the terminal.
func startKeyReader(ctx context.Context, keys chan<- byte) func() {
	fd := int(os.Stdin.Fd())
	restore := func() {}
	if term.IsTerminal(fd) {
		if oldState, err := term.MakeRaw(fd); err == nil {
			restore = func() { _ = term.Restore(fd, oldState) }
		}
	}

	go func() {
		buf := make([]byte, 1)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil || n == 0 {
				return
			}
			select {
			case keys <- buf[0]:
			case <-ctx.Done():
				return
			}
		}
	}()
	return restore
}

// printf writes one console line; raw mode needs the explicit \r.
func printf(format string, args ...any) {
	fmt.Printf(format+"\r\n", args...)
}
