package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/linesmerrill/desktop-auth-api/api"
	"github.com/linesmerrill/desktop-auth-api/api/scheduler"
	"github.com/linesmerrill/desktop-auth-api/broker"
	"github.com/linesmerrill/desktop-auth-api/config"
	"github.com/linesmerrill/desktop-auth-api/databases"
	"github.com/linesmerrill/desktop-auth-api/models"
)

// AdminRole is the session role allowed to reach the debug routes
const AdminRole = "admin"

const defaultRequestTimeout = 30 * time.Second

// App stores the router, the code broker and the db connection, so they can be reused
type App struct {
	Router    *mux.Router
	Config    config.Config
	Broker    *broker.Broker
	Scheduler *scheduler.Scheduler
	Metrics   *api.MetricsCollector
	dbClient  databases.ClientHelper
	dbHelper  databases.DatabaseHelper
}

// New creates a new mux router and all the routes
func (a *App) New() *mux.Router {
	if a.Metrics == nil {
		a.Metrics = api.NewMetricsCollector(1000)
	}
	timeout := a.Config.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	session := api.NewSessionAuth(a.Config.JWTSecret, a.Config.SessionCookie)
	d := DesktopAuth{
		Broker:    a.Broker,
		Scheme:    a.Config.DesktopScheme,
		AppName:   a.Config.DesktopAppName,
		JWTSecret: []byte(a.Config.JWTSecret),
		TokenTTL:  a.Config.DesktopTokenTTL,
	}
	m := Metrics{Collector: a.Metrics}

	r := mux.NewRouter()
	r.Use(a.Metrics.Middleware)
	r.Use(api.TimeoutMiddleware(timeout))

	// healthchex
	r.HandleFunc("/health", healthCheckHandler).Methods("GET")

	r.HandleFunc("/auth/success", d.SuccessPageHandler).Methods("GET")

	apiCreate := r.PathPrefix("/api/v1").Subrouter()

	apiCreate.Handle("/auth/desktop", session.LoginRedirect(a.Config.LoginURL, http.HandlerFunc(d.DesktopRedirectHandler))).Methods("GET")
	apiCreate.Handle("/auth/desktop/code", session.Middleware(http.HandlerFunc(d.IssueCodeHandler))).Methods("POST")
	apiCreate.Handle("/auth/exchange", http.HandlerFunc(d.ExchangeHandler)).Methods("POST")

	if a.Config.DebugRoutes {
		debug := func(h http.HandlerFunc) http.Handler {
			return session.Middleware(api.RequireRole(AdminRole, h))
		}
		apiCreate.Handle("/auth/code-status", debug(d.CodeStatusHandler)).Methods("GET")
		apiCreate.Handle("/auth/debug-codes", debug(d.DebugCodesHandler)).Methods("GET")
		apiCreate.Handle("/auth/broker-stats", debug(d.BrokerStatsHandler)).Methods("GET")
		apiCreate.Handle("/metrics", debug(m.MetricsHandler)).Methods("GET")
	}

	return r
}

// Initialize is invoked by main to set up the code store, the broker, the
// background sweep and the router
func (a *App) Initialize() error {
	if err := a.Config.Validate(); err != nil {
		zap.S().Errorw("invalid configuration", "error", err)
		return err
	}

	store, lockDB, err := a.newStore()
	if err != nil {
		return err
	}

	a.Broker = broker.New(store,
		broker.WithTTL(a.Config.CodeTTL),
		broker.WithConsumedGrace(a.Config.ConsumedGrace),
	)
	a.Metrics = api.NewMetricsCollector(1000)

	a.Scheduler = scheduler.NewScheduler(a.Broker, lockDB, a.Config.SweepSchedule)
	if err := a.Scheduler.Start(); err != nil {
		a.Broker.Close()
		a.Metrics.Stop()
		return err
	}

	// initialize api router
	a.initializeRoutes()
	return nil
}

// newStore picks the code store named by the config. The scheduler lock is only
// needed when several instances share one store.
func (a *App) newStore() (broker.Store, databases.SchedulerLockDatabase, error) {
	if a.Config.CodeStore != config.StoreMongo {
		zap.S().Info("desktop-auth-api is keeping exchange codes in memory")
		return broker.NewMemoryStore(), nil, nil
	}

	client, err := databases.NewClient(&a.Config)
	if err != nil {
		// if we fail to create a new database client, then kill the pod
		zap.S().Errorw("failed to create new client", "error", err)
		return nil, nil, err
	}

	ctx, cancel := api.WithQueryTimeout(context.Background())
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		// if we fail to connect to the database, then kill the pod
		zap.S().Errorw("failed to connect to database", "error", err)
		return nil, nil, err
	}
	a.dbClient = client
	if err := client.Ping(ctx); err != nil {
		zap.S().Errorw("failed to reach database", "error", err)
		return nil, nil, err
	}
	a.dbHelper = databases.NewDatabase(&a.Config, client)
	zap.S().Info("desktop-auth-api has connected to the database")

	codes := databases.NewExchangeCodeDatabase(a.dbHelper)
	if err := codes.EnsureIndexes(ctx); err != nil {
		zap.S().Errorw("failed to create exchange code indexes", "error", err)
		return nil, nil, err
	}
	return codes, databases.NewSchedulerLockDatabase(a.dbHelper), nil
}

func (a *App) initializeRoutes() {
	a.Router = a.New()
}

// Close stops the background workers and disconnects from the database
func (a *App) Close(ctx context.Context) error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Broker != nil {
		a.Broker.Close()
	}
	if a.Metrics != nil {
		a.Metrics.Stop()
	}
	if a.dbClient != nil {
		return a.dbClient.Disconnect(ctx)
	}
	return nil
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	b, _ := json.Marshal(models.HealthCheckResponse{
		Alive: true,
	})
	_, _ = io.WriteString(w, string(b))
}
