package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"

	config "github.com/avvvet/airhockey-services/configs"
	mongodb "github.com/avvvet/airhockey-services/internal/db"
	"github.com/avvvet/airhockey-services/internal/discovery"
	"github.com/avvvet/airhockey-services/internal/gamesvc/broker"
	"github.com/avvvet/airhockey-services/internal/gamesvc/db"
	"github.com/avvvet/airhockey-services/internal/gamesvc/escrow"
	handlers "github.com/avvvet/airhockey-services/internal/gamesvc/handlers"
	"github.com/avvvet/airhockey-services/internal/gamesvc/registry"
	"github.com/avvvet/airhockey-services/internal/gamesvc/service"
	"github.com/avvvet/airhockey-services/internal/gamesvc/store"
	nats "github.com/avvvet/airhockey-services/internal/nats"
	"github.com/avvvet/airhockey-services/internal/notify"
	log "github.com/sirupsen/logrus"
)

const SERVICE_NAME = "game"

var instanceId string

func init() {
	config.LoadEnv(SERVICE_NAME)
	instanceId = config.CreateUniqueInstance(SERVICE_NAME)
	config.Logging(SERVICE_NAME + "_service_" + instanceId[:8])
}

func main() {
	settings := config.LoadGameSettings()

	// Connect to NATS
	n, err := nats.Connect(SERVICE_NAME + "-" + instanceId)
	if err != nil {
		log.Errorf("Error: unable to connect to NATS server %v", err)
		os.Exit(1)
	}
	defer n.Conn.Close()
	log.Printf("NATS connection established successfully %s", n.Url)

	b := broker.NewBroker(n.Conn)
	alerter := notify.FromEnv(SERVICE_NAME)

	// deferred claims live in postgres; without it they are only alerted
	var (
		claimSvc *service.ClaimService
		claims   handlers.Claims
		resolver service.ClaimResolver
	)
	if os.Getenv("POSTGRES_URL") != "" {
		pool, err := db.Connect(context.Background(), "")
		if err != nil {
			log.Fatalf("Failed to connect to postgres: %v", err)
		}
		defer pool.Close()

		claimStore := store.NewClaimStore(pool)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = claimStore.EnsureSchema(ctx)
		cancel()
		if err != nil {
			log.Fatalf("Failed to prepare claims schema: %v", err)
		}
		claimSvc = service.NewClaimService(claimStore, nil)
		claims, resolver = claimSvc, claimSvc
		log.Printf("pg connection established successfully")
	} else {
		log.Warn("POSTGRES_URL not set, deferred claims are not persisted")
	}

	// match history lives in mongo
	var (
		history service.HistoryRecorder
		matches handlers.Matches
	)
	if os.Getenv("MONGODB_URI") != "" {
		mdb, disconnect, err := mongodb.ConnectToDB()
		if err != nil {
			log.Fatalf("Failed to connect to MongoDB: %v", err)
		}
		defer disconnect()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := mongodb.CreateTTLIndexForCollection(ctx, mdb, store.MatchCollection); err != nil {
			log.Errorf("Error: %v", err)
		}
		cancel()

		matchSvc := service.NewMatchService(store.NewMatchStore(mdb, settings.MatchRetention))
		history, matches = matchSvc, matchSvc
		log.Printf("mongo connection established successfully")
	} else {
		log.Warn("MONGODB_URI not set, match history is not recorded")
	}

	// ledger: browser wallets prompted over the socket, or the ledger service
	var (
		ledger escrow.Ledger
		relay  *escrow.WalletRelay
	)
	switch settings.LedgerMode {
	case config.LedgerModeGateway:
		ledger = escrow.NewGateway(n.Conn, os.Getenv("LEDGER_SUBJECT"))
	default:
		relay = escrow.NewWalletRelay(b)
		ledger = relay
	}
	log.Infof("ledger mode %s", settings.LedgerMode)

	opts := []escrow.Option{
		escrow.WithFeePercent(settings.PlatformFeePercent),
		escrow.WithMaxAttempts(settings.SettleMaxAttempts),
		escrow.WithTimeout(settings.LedgerTimeout),
	}
	if alerter != nil {
		opts = append(opts, escrow.WithAlerter(alerter))
	}
	if claimSvc != nil {
		opts = append(opts, escrow.WithClaims(claimSvc))
	}
	coordinator := escrow.NewCoordinator(ledger, opts...)
	if claimSvc != nil && relay == nil {
		claimSvc.UseLedger(coordinator)
	}

	arena := service.NewArena(service.Deps{
		Settings: settings,
		Notifier: b,
		Escrow:   coordinator,
		Relay:    relay,
		Registry: registry.New(settings.RoomGracePeriod),
		Claims:   resolver,
		History:  history,
	})
	b.Bind(arena)

	// subscribe to socket service
	sub, err := b.SubscribSocketService(n.Conn, "socket.service")
	if err != nil {
		log.Errorf("Error: unable to subscribe to socket service %v", err)
		os.Exit(1)
	}

	// Setup router
	r := chi.NewRouter()
	c := config.CORS()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(config.CustomLoggerMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(c.Handler)

	// to protect the service api from any over requests
	r.Use(httprate.LimitByIP(config.RateLimit(), 1*time.Minute))

	// Init handlers and routes
	h := handlers.NewHandler(arena, claims, matches)
	h.InitAuth()
	h.SetRoutes(r)

	port := os.Getenv("GAME_SERVICE_PORT")
	if port == "" {
		port = "8081"
	}

	// Create server with timeout settings
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Infof("%s service running at port %s", SERVICE_NAME, server.Addr)

	var reg *discovery.Registration
	if discovery.Enabled() {
		p, _ := strconv.Atoi(port)
		reg, err = discovery.Register(discovery.Service{Name: SERVICE_NAME + "-service", InstanceID: instanceId, Port: p})
		if err != nil {
			log.Errorf("Error: %v", err)
		}
	}

	// Wait for interrupt signal to gracefully shutdown the server
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	reg.Deregister()
	sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("%s service shutdown Failed:%+v", SERVICE_NAME, err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}
