package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/spance/capwatch/examples"
	"github.com/spance/capwatch/utils"
	"github.com/spance/capwatch/watcher"
	"github.com/spance/capwatch/watcher/definitions"
	"github.com/spance/capwatch/watcher/device"
	"github.com/spance/capwatch/watcher/helper"
	"github.com/spance/capwatch/watcher/llm"
	"github.com/spance/capwatch/watcher/web"
	"github.com/spance/capwatch/watcher/webcam"
)

var config = &Config{}

var rootCmd = &cobra.Command{
	Use:   "capwatch",
	Short: "Capwatch - watch a webcam for a target with a vision model",
	Long: `Capwatch replaces the webcam background, captures a square snapshot at a fixed
interval and asks a vision model whether the target is visible.
Control it from the web UI or start it directly with --autoplay.`,
	Example: `  # Serve the web UI on :8080
  capwatch --apikey sk-xxxxx

  # Use a local OpenAI-compatible endpoint
  capwatch --base-url http://localhost:8000/v1 --model qwen2.5-vl

  # Watch a specific camera every 5 seconds and start immediately
  capwatch -d /dev/video2 --interval 5s --autoplay

  # Look for something else
  capwatch --target "red scarf"

  # List cameras
  capwatch --list-devices

  # Load options from a file
  capwatch --config capwatch.toml`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), config)
	},
}

func init() {
	bindFlags(rootCmd.PersistentFlags(), config)
	rootCmd.PersistentPreRunE = preRun(config)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func setupLogger(cfg *Config) {
	out := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.TimeOnly,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()),
	}
	log.Logger = log.Output(out)

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.Quiet {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func run(ctx context.Context, cfg *Config) error {
	setupLogger(cfg)

	manager := device.NewManager()

	if cfg.ListDevices {
		return listDevices(ctx, manager, cfg.Lang)
	}

	client := llm.NewModelClient(cfg.modelConfig())

	if cfg.CheckAPI {
		return checkModelAPI(ctx, client, cfg)
	}

	log.Debug().Msgf("Configuration: %s", utils.JsonIndent(cfg))

	kind, path := cfg.source()
	processor, err := examples.CreateProcessor(kind, path)
	if err != nil {
		return err
	}
	if vb, ok := processor.(*webcam.VirtualBackground); ok {
		vb.SetLockDir(cfg.LockDir)
	}
	// a bad background or image only stops playback; Play retries and the UI still serves
	if err := processor.Initialize(ctx); err != nil {
		log.Warn().Err(err).Str("source", kind).Str("path", path).Msg("frame source not ready")
	}
	if closer, ok := processor.(io.Closer); ok {
		defer closer.Close()
	}

	loop := watcher.NewLoop(processor, client, cfg.watcherConfig())
	hub := web.NewHub()
	server := web.NewServer(loop, manager, hub)

	loop.Subscribe(server.PublishStatus)
	loop.Subscribe(detectionLogger(cfg.Lang))

	monitor := device.NewMonitor(manager, func(action string, info definitions.DeviceInfo) {
		log.Info().Str("action", action).Str("device", info.DeviceID).Str("name", info.Name).Msg("camera changed")
		server.PublishDevices(ctx)
	})
	if err := monitor.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("camera hotplug monitor unavailable")
	}
	defer monitor.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go hub.Run(ctx)

	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(ctx) }()

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- httpServer.ListenAndServe() }()

	printConfiguration(cfg, client)
	log.Info().Str("addr", cfg.Listen).Msg(helper.GetMessage("listening", cfg.Lang))

	if cfg.Autoplay {
		if err := loop.Play(ctx, cfg.DeviceID); err != nil {
			log.Error().Err(err).Msg("autoplay failed")
		} else if err := loop.Start(ctx); err != nil {
			log.Error().Err(err).Msg("autoplay failed")
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("web server: %w", err)
		}
	}

	log.Info().Msg(helper.GetMessage("shutdown", cfg.Lang))

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("web server shutdown")
	}

	// the loop releases the camera on exit; wait for it before closing the processor
	cancel()
	if err := <-loopDone; err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// detectionLogger logs verdict changes once per transition.
func detectionLogger(lang string) func(watcher.Status) {
	var last *bool
	return func(st watcher.Status) {
		if st.CheckedAt == nil {
			return
		}
		if last != nil && *last == st.Detected {
			return
		}
		detected := st.Detected
		last = &detected

		key := "not_detected"
		if detected {
			key = "detected"
		}
		log.Info().Str("session", st.SessionID).Str("device", st.DeviceID).Msg(helper.GetMessage(key, lang))
	}
}

func listDevices(ctx context.Context, manager watcher.DeviceManager, lang string) error {
	devices, err := manager.ListDevices(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println(helper.GetMessage("no_devices", lang))
		return nil
	}

	rows := make([]table.Row, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, table.Row{d.Index, d.DeviceID, d.Name})
	}
	fmt.Println(helper.GetMessage("devices", lang))
	renderTable(os.Stdout, table.Row{"#", "Device", "Name"}, rows)
	return nil
}

func renderTable(out io.Writer, header table.Row, rows []table.Row) {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.Render()
}

// printConfiguration prints the configuration information
func printConfiguration(cfg *Config, client *llm.ModelClient) {
	log.Info().Msg(strings.Repeat("=", 50))
	log.Info().Msg("Capwatch - webcam target detection")
	log.Info().Msg(strings.Repeat("=", 50))
	log.Info().Msgf("Model: %s", cfg.Model)
	log.Info().Msgf("Base URL: %s", cfg.BaseURL)
	log.Info().Msgf("API Key: %s", utils.MaskSecret(cfg.APIKey))
	log.Info().Msgf("Target: %s", cfg.Target)
	log.Info().Msgf("Interval: %s", cfg.Interval)
	log.Info().Msgf("Language: %s", cfg.Lang)
	if cfg.Image != "" {
		log.Info().Msgf("Image: %s", cfg.Image)
	}
	if cfg.DeviceID != "" {
		log.Info().Msgf("Device: %s", cfg.DeviceID)
	}
	log.Debug().Msgf("Prompt: %s", client.Prompt())
	log.Info().Msg(strings.Repeat("=", 50))
}

func checkModelAPI(ctx context.Context, client *llm.ModelClient, cfg *Config) error {
	log.Info().Msgf("🔍 %s (%s)...", helper.GetMessage("api_check", cfg.Lang), cfg.BaseURL)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	reply, err := client.Ping(ctx)
	if err != nil {
		log.Error().Msg("❌ FAILED")
		errorMsg := err.Error()
		switch {
		case strings.Contains(errorMsg, "connection refused"):
			log.Info().Msgf("   Error: Cannot connect to %s", cfg.BaseURL)
			log.Info().Msg("   Solution: check the model server is running and the base URL is correct")
		case strings.Contains(strings.ToLower(errorMsg), "timeout"):
			log.Info().Msgf("   Error: Connection to %s timed out", cfg.BaseURL)
		case strings.Contains(errorMsg, "no such host"):
			log.Info().Msg("   Error: Cannot resolve hostname")
		default:
			log.Info().Msgf("   Error: %s", errorMsg)
		}
		return err
	}

	log.Info().Msgf("✅ OK, Response: %s", reply)
	log.Info().Msg(helper.GetMessage("api_check_passed", cfg.Lang))
	return nil
}
