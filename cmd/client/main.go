package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"fluxx/internal/core/domain"
	"fluxx/internal/core/ports"
	"fluxx/internal/core/services"
	"fluxx/internal/infrastructure/media"
	"fluxx/internal/infrastructure/monitoring"
	signalinfra "fluxx/internal/infrastructure/signal"
	webrtcinfra "fluxx/internal/infrastructure/webrtc"
	"fluxx/pkg/config"
	"fluxx/pkg/logger"
	"fluxx/pkg/observable"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/term"
)

const commandTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var displayName string
	var noVideo bool

	flagSet := pflag.NewFlagSet("fluxx-client", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to the YAML config file")
	flagSet.StringVar(&displayName, "name", "", "display name for a guest identity (random when empty)")
	flagSet.BoolVar(&noVideo, "no-video", false, "join with audio only")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	format := cfg.Logging.Format
	if term.IsTerminal(int(os.Stderr.Fd())) {
		format = "console"
	}
	zapLogger := logger.NewWithFormat(cfg.Logging.Level, format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	token := cfg.Client.Token
	if token == "" {
		user, issued, err := signalinfra.RequestGuestToken(ctx, cfg.Client.ServerURL, displayName)
		if err != nil {
			return fmt.Errorf("failed to obtain guest identity: %w", err)
		}
		token = issued
		log.Infow("Guest identity issued", "user_id", user.ID, "display_name", user.DisplayName)
	}
	creds := signalinfra.NewTokenStore(token)

	collector := monitoring.NewPrometheusCollector()

	factory, err := webrtcinfra.NewFactory(webrtcinfra.ConfigFrom(cfg), collector, log.Named("webrtc"))
	if err != nil {
		return err
	}
	capture := media.NewCapture(media.ConfigFrom(cfg), log.Named("capture"))
	transport := signalinfra.NewClient(signalinfra.ClientConfigFrom(cfg), creds, log.Named("transport"))

	constraints := ports.Constraints{
		AudioEnabled:      cfg.Capture.AudioEnabled,
		VideoEnabled:      cfg.Capture.VideoEnabled && !noVideo,
		PreferredDeviceID: cfg.Capture.PreferredDeviceID,
	}
	engine := services.NewNegotiationEngine(factory, capture, transport, constraints, collector, log.Named("negotiation"))
	control := services.NewControlSurface(capture, log.Named("control"))

	lcfg := services.DefaultLifecycleConfig()
	lcfg.AutoRejoin = cfg.Client.AutoRejoin
	lcfg.RejoinDelay = cfg.Client.RejoinDelay
	controller := services.NewLifecycleController(lcfg, engine, control, transport, creds, collector, log.Named("lifecycle"))
	transport.SetHandler(controller)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var wg sync.WaitGroup
	spawn := func(fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				cancel(err)
			}
		}()
	}

	spawn(func() error {
		if err := controller.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	spawn(func() error {
		if err := transport.Run(ctx); err != nil {
			return err
		}
		if creds.Token() == "" {
			log.Warn("Signaling closed after credentials were revoked; type quit to exit")
		}
		return nil
	})
	spawn(func() error {
		watch(ctx, controller.Observers(), log)
		return nil
	})

	commands := make(chan string)
	go readCommands(commands)
	spawn(func() error {
		return commandLoop(ctx, commands, controller, transport, log)
	})

	printHelp()
	<-ctx.Done()
	wg.Wait()

	if err := context.Cause(ctx); err != nil && !errors.Is(err, errQuit) && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

var errQuit = errors.New("quit")

func printHelp() {
	fmt.Fprintln(os.Stderr, "commands: join | leave | next | end | mute | camera | status | quit")
}

func readCommands(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- strings.TrimSpace(scanner.Text())
	}
}

func commandLoop(ctx context.Context, in <-chan string, c *services.LifecycleController, transport *signalinfra.Client, log *zap.SugaredLogger) error {
	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-in:
			if !ok {
				_ = transport.Close()
				return errQuit
			}
			line = l
		}

		cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
		var err error
		switch strings.ToLower(line) {
		case "":
		case "join":
			err = c.JoinQueue(cmdCtx)
		case "leave":
			err = c.LeaveQueue(cmdCtx)
		case "next":
			err = c.NextMatch(cmdCtx)
		case "end":
			err = c.EndChat(cmdCtx)
		case "mute":
			log.Infow("Microphone", "muted", c.ToggleMute())
		case "camera":
			log.Infow("Camera", "on", c.ToggleCamera())
		case "status":
			obs := c.Observers()
			log.Infow("Status",
				"queue", obs.QueueStatus.Get(),
				"position", obs.QueuePosition.Get(),
				"connection", obs.ConnectionState.Get(),
				"control", obs.Control.Get(),
			)
		case "quit", "exit":
			cancel()
			_ = transport.Close()
			return errQuit
		default:
			printHelp()
		}
		cancel()
		if err != nil {
			log.Warnw("Command failed", "command", line, "error", err)
		}
	}
}

// watch logs observer changes until ctx is done.
func watch(ctx context.Context, obs services.Observers, log *zap.SugaredLogger) {
	go follow(ctx, obs.QueueStatus, func(s domain.QueueStatus) { log.Infow("Queue status", "status", s) })
	go follow(ctx, obs.QueuePosition, func(p int) {
		if p > 0 {
			log.Infow("Queue position", "position", p)
		}
	})
	go follow(ctx, obs.ConnectionState, func(s domain.ConnectionState) { log.Infow("Connection state", "state", s) })
	go follow(ctx, obs.RemoteReady, func(id domain.SessionID) {
		if id != "" {
			log.Infow("Remote media ready", "session_id", id)
		}
	})
	go follow(ctx, obs.RemoteTracks, func(t domain.TrackSnapshot) {
		log.Infow("Remote tracks", "audio", t.AudioID, "video", t.VideoID)
	})
	go follow(ctx, obs.Ban, func(b domain.Ban) {
		if b.Reason != "" {
			log.Warnw("Banned", "reason", b.Reason, "expires_at", b.ExpiresAt)
		}
	})
	follow(ctx, obs.LastError, func(msg string) {
		if msg != "" {
			log.Warnw("Error", "message", msg)
		}
	})
}

func follow[T comparable](ctx context.Context, v *observable.Value[T], fn func(T)) {
	ch, cancel := v.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-ch:
			if !ok {
				return
			}
			fn(next)
		}
	}
}
