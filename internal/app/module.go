package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"messenger/internal/auth"
	"messenger/internal/config"
	"messenger/internal/db"
	"messenger/internal/grpcserver"
	"messenger/internal/handlers"
	"messenger/internal/lifecycle"
	"messenger/internal/logging"
	"messenger/internal/media"
	"messenger/internal/observability"
	"messenger/internal/presence"
	"messenger/internal/rabbitmq"
	"messenger/internal/repositories"
	"messenger/internal/telemetry"
	"messenger/internal/typing"
	"messenger/internal/ws"
)

const auditRoutingKey = "audit.events"

// Module returns the fx module for the messaging server, composing all
// providers and lifecycle hooks.
func Module(cfg *config.Config) fx.Option {
	return fx.Options(
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideDB,
			provideUserRepository,
			provideConversationRepository,
			provideMessageRepository,
			presence.NewStore,
			typing.NewTracker,
			ws.NewHub,
			provideEngine,
			provideSessionManager,
			providePublisher,
			provideEvents,
			provideAudit,
			provideVerifier,
			provideMediaStore,
			handlers.NewUserHandler,
			handlers.NewConversationHandler,
			handlers.NewUploadHandler,
			ws.NewSessionHandler,
			grpcserver.New,
			NewRouter,
			provideHTTPServer,
			providePresenceReader,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Log, cfg.Telemetry.ServiceName)
}

func provideDB(cfg *config.Config, logger *zap.Logger) (*sqlx.DB, error) {
	database, result, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("database connected", zap.String("driver", cfg.Database.Driver))
	return database, nil
}

func provideUserRepository(database *sqlx.DB) repositories.UserRepository {
	return repositories.NewUserRepo(database)
}

func provideConversationRepository(database *sqlx.DB) repositories.ConversationRepository {
	return repositories.NewConversationRepo(database)
}

func provideMessageRepository(database *sqlx.DB) repositories.MessageRepository {
	return repositories.NewMessageRepo(database)
}

func providePresenceReader(store *presence.Store) handlers.PresenceReader {
	return store
}

func provideEngine(
	conversations repositories.ConversationRepository,
	messages repositories.MessageRepository,
	users repositories.UserRepository,
	tracker *typing.Tracker,
	hub *ws.Hub,
	logger *zap.Logger,
) *lifecycle.Engine {
	return lifecycle.NewEngine(conversations, messages, users, tracker, hub, logger)
}

func provideSessionManager(
	hub *ws.Hub,
	store *presence.Store,
	users repositories.UserRepository,
	conversations repositories.ConversationRepository,
	engine *lifecycle.Engine,
	logger *zap.Logger,
) *ws.SessionManager {
	return ws.NewSessionManager(hub, store, users, conversations, engine, logger)
}

func providePublisher(cfg *config.Config, logger *zap.Logger) rabbitmq.Publisher {
	return rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
}

func provideEvents(publisher rabbitmq.Publisher, logger *zap.Logger) *observability.Events {
	return observability.NewEvents(publisher, logger)
}

func provideAudit(publisher rabbitmq.Publisher, cfg *config.Config, logger *zap.Logger) *telemetry.AuditEmitter {
	return telemetry.NewAuditEmitter(publisher, auditRoutingKey, cfg.Telemetry.ServiceName, cfg.Telemetry.Environment, logger)
}

func provideVerifier(cfg *config.Config, users repositories.UserRepository, logger *zap.Logger) auth.Verifier {
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("JWT_SECRET is empty, every token will be rejected")
	}
	return auth.NewJWTVerifier(cfg.Auth.JWTSecret, users)
}

func provideMediaStore(cfg *config.Config) (*media.Store, error) {
	if err := os.MkdirAll(cfg.Uploads.Dir, 0o755); err != nil {
		return nil, err
	}
	return media.NewStore(cfg.Uploads.Dir, cfg.Uploads.MaxBytes), nil
}

func provideHTTPServer(cfg *config.Config, router *gin.Engine) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

type lifecycleParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Logger    *zap.Logger
	DB        *sqlx.DB
	HTTP      *http.Server
	GRPC      *grpcserver.Server
	Hub       *ws.Hub
	Engine    *lifecycle.Engine
	Publisher rabbitmq.Publisher
}

func registerLifecycle(p lifecycleParams) {
	var (
		stopTracer  func(context.Context) error
		stopSweeper context.CancelFunc
	)

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			shutdown, err := telemetry.InitTracer(ctx, p.Config.Telemetry, p.Logger)
			if err != nil {
				return err
			}
			stopTracer = shutdown

			httpLis, err := net.Listen("tcp", p.HTTP.Addr)
			if err != nil {
				return err
			}
			grpcLis, err := net.Listen("tcp", ":"+p.Config.Server.GRPCPort)
			if err != nil {
				_ = httpLis.Close()
				return err
			}

			go func() {
				p.Logger.Info("http listening", zap.String("addr", httpLis.Addr().String()))
				if err := p.HTTP.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
					p.Logger.Error("http server error", zap.Error(err))
				}
			}()
			go func() {
				if err := p.GRPC.Serve(grpcLis); err != nil {
					p.Logger.Error("grpc server error", zap.Error(err))
				}
			}()

			sweepCtx, cancel := context.WithCancel(context.Background())
			stopSweeper = cancel
			go p.Engine.RunTypingSweeper(sweepCtx, p.Config.Typing.TTL, p.Config.Typing.SweepInterval)

			p.GRPC.SetServing(true)
			p.Logger.Info("messenger started",
				zap.String("publisher", rabbitmq.PublisherMode(p.Publisher)),
				zap.String("publisher_noop_reason", rabbitmq.PublisherNoopReason(p.Publisher)),
			)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.GRPC.SetServing(false)
			if stopSweeper != nil {
				stopSweeper()
			}
			p.Hub.Close()

			var errs []error
			if err := p.HTTP.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
			p.GRPC.Stop(ctx)
			if err := p.Publisher.Close(); err != nil {
				errs = append(errs, err)
			}
			if stopTracer != nil {
				if err := stopTracer(ctx); err != nil {
					errs = append(errs, err)
				}
			}
			if err := p.DB.Close(); err != nil {
				errs = append(errs, err)
			}
			_ = p.Logger.Sync()
			return errors.Join(errs...)
		},
	})
}
