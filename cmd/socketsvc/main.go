package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/avvvet/airhockey-services/internal/discovery"
	"github.com/avvvet/airhockey-services/internal/nats"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"
	log "github.com/sirupsen/logrus"

	config "github.com/avvvet/airhockey-services/configs"

	"github.com/avvvet/airhockey-services/internal/comm"
	"github.com/avvvet/airhockey-services/internal/socketsvc/broker"
	"github.com/avvvet/airhockey-services/internal/socketsvc/routes"
	"github.com/avvvet/airhockey-services/internal/socketsvc/ws"
)

const SERVICE_NAME = "socket"

var instanceId string

func init() {
	config.LoadEnv(SERVICE_NAME)
	instanceId = config.CreateUniqueInstance(SERVICE_NAME)
	config.Logging(SERVICE_NAME + "_service_" + instanceId[:8])
}

func main() {
	// Connect to NATS
	n, err := nats.Connect(SERVICE_NAME + "-" + instanceId)
	if err != nil {
		log.Errorf("Error: unable to connect to NATS server %v", err)
		os.Exit(1)
	}

	defer n.Conn.Close()
	log.Printf("NATS connection established successfully %s", n.Url)

	// Setup router
	r := chi.NewRouter()
	c := config.CORS()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(config.CustomLoggerMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(c.Handler)

	// to protect the service api from any over requests
	r.Use(httprate.LimitByIP(config.RateLimit(), 1*time.Minute))

	// Initialize websocket handler
	s := ws.NewWs()

	// Initialize routes
	routes.SetRoutes(r, s)

	// Initialize broker; s.Send and s.Broadcast are injected so the broker
	// can reach client sockets
	b := broker.NewBroker(n.Conn, s.Send, s.Broadcast)
	s.Broker = b

	// subscribe to game server
	sub, err := b.Subscribe(n.Conn, comm.GameServiceTopic)
	if err != nil {
		log.Errorf("Error: unable to subscribe to game service %v", err)
		os.Exit(1)
	}

	port := os.Getenv("SOCKET_SERVICE_PORT")
	if port == "" {
		port = "8080"
	}

	// websocket connections are hijacked, so these bound only the upgrade
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
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

	// closing sockets publishes their disconnects before NATS goes away
	s.CloseAll()
	time.Sleep(500 * time.Millisecond)
	sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("%s service shutdown Failed:%+v", SERVICE_NAME, err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}
