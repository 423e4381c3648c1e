package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"processmap-server/config"
	"processmap-server/handlers/api/processmaps"
	"processmap-server/handlers/api/projects"
	"processmap-server/handlers/auth"
	authMiddleware "processmap-server/middleware"
	"processmap-server/session"
	"processmap-server/stores"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 15 * time.Second

func setupRouter(store stores.Store, sessions *session.Manager, cfg config.Config) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]any{
			"status":   "ok",
			"sessions": sessions.Len(),
		})
	})

	r.Route("/api/v2", func(r chi.Router) {
		r.Use(authMiddleware.AuthJWT)

		r.Route("/projects/{projectId}", func(r chi.Router) {
			r.Put("/", projects.HandleSave(store))
			r.Get("/processmaps", processmaps.HandleList(store))
			r.Post("/processmaps", processmaps.HandleCreate(store))
		})

		r.Route("/processmaps/{id}", func(r chi.Router) {
			r.Get("/", processmaps.HandleGet(store))
			r.Delete("/", processmaps.HandleDelete(store, sessions))
			r.Put("/canvas", processmaps.HandlePutCanvas(store, sessions))
			r.Post("/edits", processmaps.HandleEdits(store, sessions))
			r.Post("/save", processmaps.HandleSave(store, sessions))
		})
	})

	return r
}

func waitForShutdown(srv *http.Server, sessions *session.Manager, store stores.Store) {
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	s := <-signalC
	logrus.WithField("signal", s.String()).Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Failed to stop http server")
	}
	if err := sessions.CloseAll(ctx); err != nil {
		logrus.WithError(err).Error("Some editor sessions could not be saved")
	}
	if closer, ok := store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logrus.WithError(err).Error("Failed to close store")
		}
	}
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}
	cfg := config.Load()

	listenAddress := flag.String("listen", cfg.ListenAddr, "The address to listen on.")
	logLevel := flag.String("loglevel", "info", "The log level (debug, info, warn, error).")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	auth.InitAuth(cfg.JWTSecret)
	store, err := stores.GetStore(context.Background(), cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize storage")
	}
	sessions := session.NewManager(store, session.Options{
		AutosaveDelay:   cfg.AutosaveDelay,
		AutosaveTimeout: cfg.AutosaveTimeout,
	})

	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	go sessions.RunReaper(reaperCtx, time.Minute, cfg.SessionIdleTimeout)

	srv := &http.Server{
		Addr:              *listenAddress,
		Handler:           setupRouter(store, sessions, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logrus.WithField("addr", *listenAddress).Info("starting server")
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	waitForShutdown(srv, sessions, store)
}
