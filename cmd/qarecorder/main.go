package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"qarecorder/internal/ai"
	"qarecorder/internal/browser"
	"qarecorder/internal/explore"
	"qarecorder/internal/recorder"
	"qarecorder/internal/replay"
	"qarecorder/internal/snapshot"
	"qarecorder/internal/transport"
)

var (
	mode             string
	prompt           string
	provider         string
	model            string
	devtoolsURL      string
	width            int
	height           int
	profile          string
	headless         bool
	logLevel         string
	eventScreenshots bool
	screenshotDelay  int
	previewWidth     int
)

func main() {
	// Load .env file if present (silently ignore if not found)
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "qarecorder <url>",
		Short: "Record and replay browser interactions as structured events",
		Long: `qarecorder opens a page, captures user interactions as normalized JSON
events on stdout, and accepts replay and snapshot commands on stdin.
Stdout carries only protocol lines; logs go to stderr.

Example:
  qarecorder "https://myapp.com" | tee session.jsonl`,
		Args: cobra.ExactArgs(1),
		RunE: run,
	}

	rootCmd.Flags().StringVar(&mode, "mode", "record", "Mode: record (capture user input) or explore (AI-driven)")
	rootCmd.Flags().StringVar(&prompt, "prompt", "", "Exploration goal for explore mode")
	rootCmd.Flags().StringVar(&provider, "provider", "", "AI provider: claude, openai (default: from env or claude)")
	rootCmd.Flags().StringVar(&model, "model", "", "Specific model override")
	rootCmd.Flags().StringVar(&devtoolsURL, "devtools", "", "Attach to a running browser via its DevTools URL instead of launching")
	rootCmd.Flags().IntVar(&width, "width", 1280, "Viewport width")
	rootCmd.Flags().IntVar(&height, "height", 720, "Viewport height")
	rootCmd.Flags().StringVar(&profile, "profile", "", "Chrome/Chromium profile directory for authenticated sessions (close browser first)")
	rootCmd.Flags().BoolVar(&headless, "headless", false, "Run the browser headless")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.Flags().BoolVar(&eventScreenshots, "event-screenshots", false, "Attach a page snapshot to click and submit events")
	rootCmd.Flags().IntVar(&screenshotDelay, "screenshot-delay", 150, "Delay before an event screenshot (ms)")
	rootCmd.Flags().IntVar(&previewWidth, "preview-width", 800, "Max width of snapshot previews (0 disables downscaling)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	url := args[0]
	log := newLogger(logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("url", url).Str("mode", mode).Msg("starting recorder")

	b, err := browser.Open(url, browser.Options{
		Width:       width,
		Height:      height,
		Headless:    headless,
		ProfileDir:  profile,
		DevtoolsURL: devtoolsURL,
	})
	if err != nil {
		return err
	}
	defer b.Close()

	sender := transport.NewSender(os.Stdout)
	gate := &recorder.Gate{}

	snap := snapshot.New(b, log)
	snap.PreviewWidth = previewWidth

	engineOpts := recorder.DefaultOptions()
	engineOpts.ScreenshotDelay = time.Duration(screenshotDelay) * time.Millisecond
	bridge := recorder.NewBridge(b)
	engine := recorder.New(bridge, sender, gate, engineOpts, log)
	if eventScreenshots {
		engine.SetShooter(snap)
	}

	replayer := replay.New(b, gate, sender, log)
	replayer.SetPurger(bridge)

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- engine.Run(ctx)
	}()

	go recorder.NewNetworkWatcher(b.Page(), sender, log).Run(ctx)

	if mode == "explore" {
		if prompt == "" {
			return errors.New("explore mode requires --prompt")
		}
		aiProvider, err := ai.NewProvider(resolveProvider(provider), model)
		if err != nil {
			return err
		}
		runner := explore.NewRunner(b, aiProvider, replayer, sender, log)
		_ = sender.Status("info", "exploration started")
		if err := runner.Run(ctx, prompt); err != nil {
			_ = sender.Status("error", "exploration failed: "+err.Error())
			return err
		}
		_ = sender.Status("info", "exploration complete")
		stop()
		<-engineDone
		return nil
	}

	reader := transport.NewReader(os.Stdin)
	go reader.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			<-engineDone
			return nil
		case command, ok := <-reader.Commands():
			if !ok {
				log.Info().Msg("command stream closed")
				stop()
				<-engineDone
				return nil
			}
			dispatch(ctx, command, engine, replayer, snap, sender, log)
		}
	}
}

// dispatch handles one controller command. Replay and capture run inline; the
// controller serializes its own requests.
func dispatch(ctx context.Context, cmd transport.Command, engine *recorder.Engine, replayer *replay.Engine, snap *snapshot.Capturer, sender *transport.Sender, log zerolog.Logger) {
	switch cmd.Action {
	case transport.ActionBack:
		if err := replayer.Back(ctx); err != nil {
			log.Warn().Err(err).Msg("back navigation failed")
			_ = sender.Status("error", "back navigation failed: "+err.Error())
		}
	case transport.ActionRefocus:
		sel := engine.LastFocused()
		if err := replayer.Refocus(ctx, sel); err != nil {
			log.Debug().Err(err).Str("selector", sel).Msg("refocus failed")
		}
	case transport.ActionCapture:
		dataURL, err := snap.Capture(ctx)
		if err != nil {
			_ = sender.CaptureFailure(cmd.RequestID, err.Error())
			return
		}
		_ = sender.CaptureResult(cmd.RequestID, dataURL)
	case transport.ActionReplayEvent:
		if cmd.Payload == nil {
			log.Debug().Msg("replay-event command without payload")
			return
		}
		replayer.Execute(ctx, *cmd.Payload)
	default:
		log.Debug().Str("action", cmd.Action).Msg("unknown command action")
	}
}

func resolveProvider(name string) string {
	if name != "" {
		return name
	}
	if env := os.Getenv("QARECORDER_DEFAULT_PROVIDER"); env != "" {
		return env
	}
	return "claude"
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()
}
