package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/Remote/internal/adapters/rtc"
	wsignal "github.com/dkeye/Remote/internal/adapters/signal"
	"github.com/dkeye/Remote/internal/app/control"
	"github.com/dkeye/Remote/internal/app/media"
	"github.com/dkeye/Remote/internal/app/orch"
	"github.com/dkeye/Remote/internal/config"
	"github.com/dkeye/Remote/internal/core"
	"github.com/dkeye/Remote/internal/domain"
)

type peerApp struct {
	cfg     *config.PeerConfig
	role    domain.Role
	o       *orch.Orchestrator
	forward *media.RTPForwarder
	cancel  context.CancelFunc
}

func main() {
	fs := pflag.NewFlagSet("peer", pflag.ExitOnError)
	config.PeerFlags(fs)
	fs.String("config", "", "optional yaml config file")
	_ = fs.Parse(os.Args[1:])

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.LoadPeer(fs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cancel, cfg); err != nil {
		log.Error().Err(err).Msg("peer exited")
		os.Exit(1)
	}
	log.Info().Msg("peer exited")
}

func run(ctx context.Context, cancel context.CancelFunc, cfg *config.PeerConfig) error {
	role := domain.Role(cfg.Role)

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	client, err := wsignal.Dial(dialCtx, cfg.SignalURL, wsignal.ClientOptions{})
	dialCancel()
	if err != nil {
		return err
	}
	defer client.Close()

	app := &peerApp{cfg: cfg, role: role, cancel: cancel}

	var capture core.CaptureSource
	if role == domain.RoleHost {
		if cfg.RTPListen != "" {
			ingest, err := media.NewRTPIngest(cfg.RTPListen)
			if err != nil {
				return fmt.Errorf("rtp ingest: %w", err)
			}
			defer ingest.Close()
			go func() {
				if err := ingest.Run(ctx); err != nil {
					log.Error().Err(err).Msg("rtp ingest stopped")
				}
			}()
			log.Info().Str("addr", ingest.Addr().String()).Msg("send the VP8 RTP screen stream here")
			capture = ingest
		} else {
			log.Warn().Msg("no --rtp-listen given, approvals will be refused")
		}
	}
	if role == domain.RoleClient && cfg.RTPForward != "" {
		app.forward, err = media.NewRTPForwarder(cfg.RTPForward)
		if err != nil {
			return fmt.Errorf("rtp forward: %w", err)
		}
		defer app.forward.Close()
	}

	var input core.InputSink
	if role == domain.RoleHost {
		input = control.NewLogSink()
	}
	app.o, err = orch.New(orch.Config{
		Role:               role,
		Inbound:            client.Inbound(),
		Signal:             client,
		Peers:              &rtc.Factory{Config: rtc.ConfigFromURLs(cfg.ICEServers)},
		Capture:            capture,
		Input:              input,
		NegotiationTimeout: cfg.NegotiationTimeout,
	})
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- app.o.Run(ctx) }()

	if role == domain.RoleHost {
		err = app.o.CreateSession(ctx)
	} else {
		err = app.o.JoinSession(ctx, cfg.Session)
	}
	if err != nil {
		cancel()
		<-done
		return err
	}

	go app.readCommands(ctx)

	var failure error
	for {
		select {
		case err := <-done:
			if failure != nil {
				return failure
			}
			return err
		case ev := <-app.o.Events():
			if err := app.onEvent(ctx, ev); err != nil && failure == nil {
				failure = err
				cancel()
			}
		}
	}
}

// onEvent reacts to one orchestrator event. A non-nil error ends the peer.
func (a *peerApp) onEvent(ctx context.Context, ev orch.Event) error {
	l := log.Info().Str("event", ev.Kind.String())
	if ev.ClientID != "" {
		l = l.Str("client_id", string(ev.ClientID))
	}
	if ev.SessionID != "" {
		l = l.Str("session", string(ev.SessionID))
	}

	switch ev.Kind {
	case orch.EventSessionCreated:
		l.Msg("session ready, share this code")
	case orch.EventJoinRequested:
		if !a.cfg.AutoApprove {
			l.Msg("join request, type: approve <id> or reject <id>")
			return nil
		}
		l.Msg("join request, auto-approving")
		if err := a.o.Approve(ctx, ev.ClientID); err != nil {
			log.Error().Err(err).Str("client_id", string(ev.ClientID)).Msg("approve")
		}
	case orch.EventPeerConnected:
		l.Msg("peer connected")
		if a.role == domain.RoleHost && a.cfg.AutoGrant {
			_ = a.o.Grant(ev.ClientID)
			log.Info().Str("client_id", string(ev.ClientID)).Msg("control granted")
		}
	case orch.EventRemoteTrack:
		l.Str("codec", ev.Track.Codec().MimeType).Msg("remote screen track")
		if a.forward != nil {
			a.forward.Forward(ctx, ev.Track)
		}
	case orch.EventCursor:
		log.Debug().Str("client_id", string(ev.ClientID)).Float64("x", ev.Cursor.X).Float64("y", ev.Cursor.Y).Msg("cursor")
	default:
		if !ev.Kind.Failure() {
			l.Msg("event")
			return nil
		}
		l.Err(ev.Err).Msg("session ended")
		if ev.Kind == orch.EventSignalingLost || a.role == domain.RoleClient {
			return fmt.Errorf("%s", ev.Kind)
		}
	}
	return nil
}

func (a *peerApp) readCommands(ctx context.Context) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		cmd, err := parseCommand(sc.Text())
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		if cmd.name == "quit" {
			a.cancel()
			return
		}
		if err := a.exec(ctx, cmd); err != nil {
			log.Warn().Err(err).Str("command", cmd.name).Msg("command failed")
		}
	}
}

func (a *peerApp) exec(ctx context.Context, cmd command) error {
	switch cmd.name {
	case "approve":
		return a.o.Approve(ctx, cmd.id)
	case "reject":
		return a.o.Reject(ctx, cmd.id)
	case "grant":
		return a.o.Grant(cmd.id)
	case "revoke":
		return a.o.Revoke(cmd.id)
	case "reset":
		return a.o.Reset(ctx)
	case "status":
		snap, err := a.o.Snapshot(ctx)
		if err != nil {
			return err
		}
		e := log.Info().Str("role", string(snap.Role)).Bool("ready", snap.Ready).
			Str("session", string(snap.SessionID)).Int("queued", snap.Queued).
			Int("control_channels", snap.ControlChannels).Bool("remote_track", snap.HasRemoteTrack)
		for id, st := range snap.Peers {
			e = e.Str("peer_"+string(id), st.String())
		}
		e.Msg("status")
		return nil
	}
	if cmd.msg == nil {
		return errors.New("unknown command")
	}
	return a.o.SendControl(ctx, cmd.msg)
}
