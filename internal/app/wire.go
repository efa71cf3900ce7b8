package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/aula-web/aula/internal/access"
	"github.com/aula-web/aula/internal/auth"
	"github.com/aula-web/aula/internal/auth/password"
	"github.com/aula-web/aula/internal/cart"
	"github.com/aula-web/aula/internal/catalog"
	"github.com/aula-web/aula/internal/observability"
	"github.com/aula-web/aula/internal/session"
	"github.com/aula-web/aula/internal/shared"
	"github.com/aula-web/aula/internal/users"
	"github.com/aula-web/aula/internal/view"
)

// Infra carries the external connections. Either may be nil when the
// matching store driver is "memory".
type Infra struct {
	Pool  *pgxpool.Pool
	Redis *redis.Client
}

// Application is the assembled HTTP application.
type Application struct {
	Handler  http.Handler
	Sessions *session.Manager
	Metrics  *observability.Metrics
	Users    users.Repository
}

// DemoAccount is a development login created for the memory user store.
type DemoAccount struct {
	Username string
	Password string
	Role     string
}

// DemoAccounts mirror the accounts the seeder writes to Postgres.
var DemoAccounts = []DemoAccount{
	{Username: "admin", Password: "admin", Role: "ROLE_ADMIN"},
	{Username: "user", Password: "user", Role: "ROLE_USER"},
}

// Build wires stores, services, handlers and the router from cfg.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger, infra Infra) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}
	hasher := password.NewBcrypt(cfg.BcryptCost)
	metrics := observability.NewMetrics()

	var (
		userRepo    users.Repository
		catalogRepo catalog.Repository
	)
	switch cfg.UserStore {
	case StorePostgres:
		if infra.Pool == nil {
			return nil, errors.New("app: postgres user store requires a pool")
		}
		userRepo = users.NewRepository(infra.Pool)
		catalogRepo = catalog.NewRepository(infra.Pool)
	default:
		mem := users.NewMemoryRepository()
		if !cfg.IsProduction() {
			if err := seedDemoAccounts(ctx, mem, hasher); err != nil {
				return nil, err
			}
		}
		userRepo = mem
		catalogRepo = catalog.NewMemoryRepository(catalog.DemoProducts, catalog.DemoStudents)
	}

	var store session.Store
	switch cfg.SessionStore {
	case StoreRedis:
		if infra.Redis == nil {
			return nil, errors.New("app: redis session store requires a client")
		}
		store = session.NewRedisStore(infra.Redis, cfg.SessionMaxLifetime)
	default:
		store = session.NewMemoryStore(nil)
	}
	sessions := session.NewManager(store, cfg.SessionConfig(),
		session.WithLogger(logger),
		session.WithMetrics(metrics))

	policy, err := access.NewPolicy(cfg.AccessConfig())
	if err != nil {
		return nil, fmt.Errorf("app: access policy: %w", err)
	}

	templates, err := view.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("app: parse templates: %w", err)
	}
	csrf := shared.NewCSRFManager(cfg.CSRFSecret, cfg.CSRFEnabled)

	authService, err := auth.NewService(userRepo, hasher, cfg.DefaultRole, logger)
	if err != nil {
		return nil, err
	}
	authHandler := auth.NewHandler(logger, authService, templates, sessions, csrf, metrics, auth.HandlerConfig{
		DefaultTarget:    cfg.LoginDefaultTarget,
		AlwaysUseDefault: cfg.LoginAlwaysUseDefault,
		LoginRateLimit:   cfg.LoginRateLimit,
	})

	router := NewRouter(RouterParams{
		Logger:         logger,
		Config:         cfg,
		Templates:      templates,
		SessionManager: sessions,
		CSRFManager:    csrf,
		Policy:         policy,
		AuthHandler:    authHandler,
		UsersHandler:   users.NewHandler(logger, users.NewService(userRepo, hasher), templates, csrf, sessions),
		CatalogHandler: catalog.NewHandler(logger, catalogRepo, templates, csrf),
		CartHandler:    cart.NewHandler(logger, catalogRepo, templates, csrf),
		Metrics:        metrics,
	})

	return &Application{Handler: router, Sessions: sessions, Metrics: metrics, Users: userRepo}, nil
}

func seedDemoAccounts(ctx context.Context, repo users.Store, hasher password.Hasher) error {
	for _, acc := range DemoAccounts {
		hash, err := hasher.Hash(acc.Password)
		if err != nil {
			return fmt.Errorf("app: seed %s: %w", acc.Username, err)
		}
		if _, err := repo.Save(ctx, &users.User{Username: acc.Username, PasswordHash: hash, Role: acc.Role}); err != nil && !errors.Is(err, users.ErrDuplicateUser) {
			return fmt.Errorf("app: seed %s: %w", acc.Username, err)
		}
	}
	return nil
}
