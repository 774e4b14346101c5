package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quickchat/internal/core/domain"
	"quickchat/internal/core/ports"
	"quickchat/internal/core/services"
	"quickchat/internal/infrastructure/repositories/memory"
	signalclient "quickchat/internal/infrastructure/signal"
	webrtcinfra "quickchat/internal/infrastructure/webrtc"
	"quickchat/pkg/config"
	"quickchat/pkg/logger"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// The agent is a headless call endpoint: it registers with the relay, can
// place one call and answers incoming ones. Useful for soak testing a
// deployment without a browser.
func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "path to config file")
		user       = flag.String("user", "", "user id to register as (required)")
		peer       = flag.String("peer", "", "peer to call after connecting (optional)")
		kind       = flag.String("kind", "audio", "call kind: audio or video")
		userAgent  = flag.String("user-agent", "QuickChatAgent/1.0", "user agent for capability detection")
		autoAnswer = flag.Bool("auto-answer", true, "accept incoming calls automatically")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if *user == "" {
		log.Fatal("-user is required")
	}

	capabilityService := services.NewCapabilityService(webrtcinfra.NewRuntimeProbe())
	profile := capabilityService.Detect(*userAgent)

	log.Infow("capability profile",
		"browser", profile.Browser,
		"mobile", profile.Mobile,
		"force_relay", profile.Policy.ForceRelay,
		"video_disabled", profile.Policy.DisableVideo,
		"preferred_codec", profile.Policy.PreferredCodec,
	)

	var iceServers []webrtc.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}

	factoryConfig := webrtcinfra.FactoryConfig{ICEServers: iceServers}
	factoryConfig.PortRange.Min = cfg.WebRTC.PortRange.Min
	factoryConfig.PortRange.Max = cfg.WebRTC.PortRange.Max

	factory, err := webrtcinfra.NewPeerConnectionFactory(factoryConfig, profile.Policy)
	if err != nil {
		log.Fatalw("failed to create peer connection factory", "error", err)
	}

	pool := webrtcinfra.NewConnectionPool(factory, webrtcinfra.PoolConfig{
		MaxIdlePerKind:  cfg.Pool.MaxIdlePerKind,
		CleanupInterval: cfg.Pool.CleanupInterval,
		IdleTimeout:     cfg.Pool.IdleTimeout,
	}, zapLogger)

	media := webrtcinfra.NewSampleMediaProvider(profile.Policy)

	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	token, err := authService.GenerateToken(domain.UserID(*user))
	if err != nil {
		log.Fatalw("failed to generate token", "error", err)
	}

	clientConfig := signalclient.DefaultClientConfig()
	clientConfig.Endpoint = cfg.Signal.Endpoint
	clientConfig.Token = token
	clientConfig.WriteTimeout = cfg.Signal.WriteTimeout
	clientConfig.PongTimeout = cfg.Signal.PongTimeout
	clientConfig.PingInterval = cfg.Signal.PingInterval
	clientConfig.ReconnectAttempts = cfg.Signal.ReconnectAttempts
	clientConfig.ReconnectDelay = cfg.Signal.ReconnectDelay

	channel := signalclient.NewChannel(clientConfig, zapLogger)

	history := services.NewHistoryService(
		memory.NewMemoryCallHistoryRepository(cfg.History.MaxEntries),
		zapLogger,
	)

	manager := webrtcinfra.NewCallSessionManager(
		profile,
		channel,
		pool,
		media,
		history,
		webrtcinfra.ManagerConfig{ChunkInterval: cfg.Recording.ChunkInterval},
		zapLogger,
	)
	manager.AddObserver(&consoleObserver{
		manager:    manager,
		autoAnswer: *autoAnswer,
		logger:     log,
	})

	ctx := context.Background()
	if err := manager.Init(ctx, domain.UserID(*user)); err != nil {
		log.Fatalw("failed to initialize call subsystem", "error", err)
	}
	log.Infow("agent online", "user", *user, "endpoint", cfg.Signal.Endpoint)

	if *peer != "" {
		call, err := manager.StartCall(ctx, domain.UserID(*peer), domain.MediaKind(*kind))
		if err != nil {
			log.Fatalw("failed to start call", "peer", *peer, "error", err)
		}
		log.Infow("calling", "call_id", call.ID, "peer", call.Peer, "kind", call.Kind)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down agent...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	manager.Shutdown(shutdownCtx)
}

// consoleObserver logs lifecycle events and optionally answers calls.
type consoleObserver struct {
	manager    ports.CallService
	autoAnswer bool
	logger     *zap.SugaredLogger
}

func (o *consoleObserver) CallStarted(call *domain.Call) {
	o.logger.Infow("call started", "call_id", call.ID, "peer", call.Peer)
}

func (o *consoleObserver) CallRinging(call *domain.Call) {
	o.logger.Infow("incoming call", "call_id", call.ID, "from", call.Peer, "kind", call.Kind)
	if o.autoAnswer {
		go func() {
			if err := o.manager.AcceptCall(context.Background(), call.ID); err != nil {
				o.logger.Warnw("failed to accept call", "call_id", call.ID, "error", err)
			}
		}()
	}
}

func (o *consoleObserver) CallAccepted(call *domain.Call) {
	o.logger.Infow("call accepted", "call_id", call.ID)
}

func (o *consoleObserver) CallRejected(call *domain.Call) {
	o.logger.Infow("call rejected", "call_id", call.ID)
}

func (o *consoleObserver) CallEnded(record *domain.CallRecord) {
	o.logger.Infow("call ended",
		"call_id", record.CallID,
		"reason", record.EndReason,
		"duration", record.Duration,
	)
}

func (o *consoleObserver) ConnectionStateChanged(callID domain.CallID, state webrtc.PeerConnectionState) {
	o.logger.Debugw("connection state", "call_id", callID, "state", state.String())
}
