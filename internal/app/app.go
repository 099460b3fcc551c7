// Package app wires the gateway runtime from configuration: credential store,
// metrics, dispatcher, transports and their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/nightraid/internal/command"
	"github.com/cory-johannsen/nightraid/internal/config"
	"github.com/cory-johannsen/nightraid/internal/credential"
	"github.com/cory-johannsen/nightraid/internal/dispatch"
	"github.com/cory-johannsen/nightraid/internal/frontend/telnet"
	"github.com/cory-johannsen/nightraid/internal/frontend/websocket"
	"github.com/cory-johannsen/nightraid/internal/gateway"
	"github.com/cory-johannsen/nightraid/internal/observability"
	"github.com/cory-johannsen/nightraid/internal/server"
	"github.com/cory-johannsen/nightraid/internal/session"
	"github.com/cory-johannsen/nightraid/internal/storage/memory"
	"github.com/cory-johannsen/nightraid/internal/storage/postgres"
)

const (
	healthInterval       = 30 * time.Second
	healthTimeout        = 5 * time.Second
	metricsShutdownGrace = 5 * time.Second
)

// App is the assembled gateway runtime.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	lifecycle *server.Lifecycle
	gateway   *gateway.Gateway

	telnet    *telnet.Acceptor
	websocket *websocket.Server
}

// New builds an App from cfg. With store "postgres" it connects to the
// database before returning.
//
// Precondition: cfg must pass Validate; logger must be non-nil.
// Postcondition: Returns an App ready to Run, or an error. No listener is
// opened until Run.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{
		cfg:       cfg,
		logger:    logger,
		lifecycle: server.NewLifecycle(logger),
	}

	digest, err := credential.NewDigester(cfg.Auth.TokenPepper)
	if err != nil {
		return nil, err
	}
	tokens, err := credential.NewTokenGenerator(cfg.Auth.TokenBytes)
	if err != nil {
		return nil, err
	}

	texts, err := gateway.LoadTexts(cfg.Server.TextsFile, cfg.Server.Name)
	if err != nil {
		return nil, err
	}

	var (
		recorder observability.Recorder = observability.NopRecorder{}
		metrics  *observability.Metrics
	)
	if cfg.Metrics.Enabled {
		metrics, err = observability.NewMetrics()
		if err != nil {
			return nil, fmt.Errorf("creating metrics: %w", err)
		}
		recorder = metrics
		a.addMetricsService(metrics)
	}

	store, err := a.newStore(ctx, digest, metrics)
	if err != nil {
		return nil, err
	}

	grammar := command.DefaultGrammar()
	dispatcher := dispatch.NewDispatcher(store, tokens, logger, recorder,
		dispatch.WithGrammar(grammar),
		dispatch.WithCallTimeout(cfg.Database.CallTimeout),
		dispatch.WithFarewell(texts.Farewell),
	)
	a.gateway = gateway.New(session.NewRegistry(), grammar, dispatcher, texts, logger, recorder)
	a.addSessionSweeper()

	if cfg.Telnet.Enabled {
		a.telnet = telnet.NewAcceptor(cfg.Telnet, a.gateway, logger)
		a.lifecycle.Add("telnet", &server.FuncService{
			StartFn: a.telnet.ListenAndServe,
			StopFn:  a.telnet.Stop,
		})
	}
	if cfg.WebSocket.Enabled {
		a.websocket = websocket.NewServer(cfg.WebSocket, a.gateway, logger)
		a.lifecycle.Add("websocket", &server.FuncService{
			StartFn: a.websocket.ListenAndServe,
			StopFn:  a.websocket.Stop,
		})
	}

	return a, nil
}

// Run serves until a termination signal, ctx cancellation, or a service failure.
func (a *App) Run(ctx context.Context) error {
	fields := []zap.Field{zap.String("store", a.cfg.Server.Store)}
	if a.telnet != nil {
		fields = append(fields, zap.String("telnet_addr", a.cfg.Telnet.Addr()))
	}
	if a.websocket != nil {
		fields = append(fields, zap.String("websocket_addr", a.cfg.WebSocket.Addr()+a.cfg.WebSocket.Path))
	}
	if a.cfg.Metrics.Enabled {
		fields = append(fields, zap.String("metrics_addr", a.cfg.Metrics.Addr()+a.cfg.Metrics.Path))
	}
	a.logger.Info("gateway initialized", fields...)

	return a.lifecycle.Run(ctx)
}

// Gateway returns the connection gateway.
func (a *App) Gateway() *gateway.Gateway { return a.gateway }

// TelnetAddr returns the telnet listening address, or "" when telnet is
// disabled or not yet listening.
func (a *App) TelnetAddr() string {
	if a.telnet == nil {
		return ""
	}
	return a.telnet.Addr()
}

// WebSocketAddr returns the websocket listening address, or "" when the
// websocket server is disabled or not yet listening.
func (a *App) WebSocketAddr() string {
	if a.websocket == nil {
		return ""
	}
	return a.websocket.Addr()
}

func (a *App) newStore(ctx context.Context, digest *credential.Digester, metrics *observability.Metrics) (dispatch.CredentialStore, error) {
	switch a.cfg.Server.Store {
	case config.StoreMemory:
		a.logger.Warn("using in-memory credential store; users are lost on restart")
		return memory.NewUserStore(digest), nil
	case config.StorePostgres:
		dbStart := time.Now()
		pool, err := postgres.NewPool(ctx, a.cfg.Database, a.cfg.Server.Name)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		if metrics != nil {
			err := metrics.ObservePool(func() (int32, int32, int32) {
				s := pool.Stats()
				return s.Acquired, s.Idle, s.Total
			})
			if err != nil {
				pool.Close()
				return nil, fmt.Errorf("observing pool: %w", err)
			}
		}
		a.logger.Info("database connected",
			zap.String("host", a.cfg.Database.Host),
			zap.Int("port", a.cfg.Database.Port),
			zap.String("database", a.cfg.Database.Name),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		a.addHealthService(pool)
		return postgres.NewUserRepository(pool.DB(), digest), nil
	default:
		return nil, fmt.Errorf("unknown store %q", a.cfg.Server.Store)
	}
}

// addSessionSweeper registers a service that is stopped after every transport
// and closes whatever sessions are still registered at that point.
func (a *App) addSessionSweeper() {
	done := make(chan struct{})
	a.lifecycle.Add("sessions", &server.FuncService{
		StartFn: func() error {
			<-done
			return nil
		},
		StopFn: func() {
			close(done)
			if n := a.gateway.Registry().CloseAll(gateway.ReasonShutdown); n > 0 {
				a.logger.Warn("closed sessions left open after transport shutdown", zap.Int("count", n))
			}
		},
	})
}

// addHealthService pings the database periodically and closes the pool on stop.
func (a *App) addHealthService(pool *postgres.Pool) {
	done := make(chan struct{})
	a.lifecycle.Add("postgres", &server.FuncService{
		StartFn: func() error {
			ticker := time.NewTicker(healthInterval)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return nil
				case <-ticker.C:
					if err := pool.Health(context.Background(), healthTimeout); err != nil {
						a.logger.Warn("database health check failed", zap.Error(err))
						continue
					}
					s := pool.Stats()
					a.logger.Debug("database healthy",
						zap.Int32("acquired", s.Acquired),
						zap.Int32("total", s.Total),
						zap.Int32("max", s.Max),
					)
				}
			}
		},
		StopFn: func() {
			close(done)
			pool.Close()
		},
	})
}

func (a *App) addMetricsService(metrics *observability.Metrics) {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, metrics.Handler())
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.lifecycle.Add("metrics", &server.FuncService{
		StartFn: func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
		StopFn: func() {
			ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownGrace)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				a.logger.Warn("metrics server shutdown", zap.Error(err))
			}
		},
	})
}
