package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/microbiomeViz/Picture-library/catalog"
	"github.com/microbiomeViz/Picture-library/config"
	"github.com/microbiomeViz/Picture-library/core"
	"github.com/microbiomeViz/Picture-library/generate"
	"github.com/microbiomeViz/Picture-library/handlers/api/canvas"
	generateapi "github.com/microbiomeViz/Picture-library/handlers/api/generate"
	"github.com/microbiomeViz/Picture-library/handlers/api/library"
	"github.com/microbiomeViz/Picture-library/handlers/api/objects"
	"github.com/microbiomeViz/Picture-library/handlers/api/snapshots"
	"github.com/microbiomeViz/Picture-library/handlers/auth"
	"github.com/microbiomeViz/Picture-library/handlers/websocket"
	authMiddleware "github.com/microbiomeViz/Picture-library/middleware"
	"github.com/microbiomeViz/Picture-library/ingest"
	"github.com/microbiomeViz/Picture-library/projects"
	"github.com/microbiomeViz/Picture-library/stores"
	"github.com/sirupsen/logrus"
)

type app struct {
	authn     *auth.Authenticator
	sessions  *catalog.Sessions
	projects  *projects.Store
	pipeline  *ingest.Pipeline
	generator *generate.Generator
	bridge    *websocket.Bridge
	objects   core.ObjectStore
}

func setupRouter(a *app) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(authMiddleware.Recover)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "X-CSRF-Token", "Origin", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})

	r.Route("/api/v2", func(r chi.Router) {
		r.Use(authMiddleware.AuthJWT(a.authn))

		r.Get("/catalog", library.HandleView(a.sessions))
		r.Post("/catalog/refresh", library.HandleRefresh(a.sessions))
		r.Route("/categories", func(r chi.Router) {
			r.Post("/", library.HandleCreateCategory(a.sessions))
			r.Put("/{label}", library.HandleRenameCategory(a.sessions))
			r.Post("/{label}/select", library.HandleSelectCategory(a.sessions))
		})
		r.Route("/assets", func(r chi.Router) {
			r.Post("/", library.HandleUploadAsset(a.sessions))
			r.Put("/{id}", library.HandleRenameAsset(a.sessions))
			r.Delete("/{id}", library.HandleDeleteAsset(a.sessions))
		})
		r.Route("/projects", func(r chi.Router) {
			r.Get("/", snapshots.HandleList(a.projects))
			r.Post("/", snapshots.HandleSave(a.projects))
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", snapshots.HandleGet(a.projects))
				r.Delete("/", snapshots.HandleDelete(a.projects))
				r.Post("/load", snapshots.HandleLoad(a.projects, a.bridge))
			})
		})
		r.Get("/generate/styles", generateapi.HandleStyles(a.generator))
		r.Post("/generate", generateapi.HandleGenerate(a.generator, a.bridge))
		r.Post("/canvas/drop", canvas.HandleDrop(a.pipeline, a.bridge))
		r.Post("/session/reset", library.HandleResetSession(a.sessions))
	})

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", a.authn.HandleLogin)
		r.Get("/callback", a.authn.HandleCallback)
	})

	if server, ok := a.objects.(core.ObjectServer); ok {
		r.Get("/objects/*", objects.HandleGet(server))
	}

	return r
}

func waitForShutdown(srv *http.Server, bridge *websocket.Bridge, cancel context.CancelFunc) {
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	s := <-signalC
	logrus.WithField("signal", s.String()).Info("Shutting down...")

	cancel()
	bridge.Close()

	ctx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Server shutdown failed")
	}
}

func main() {
	listenAddress := flag.String("listen", ":3002", "The address to listen on.")
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

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())

	store := stores.GetStore(cfg)
	objectStore := stores.GetObjectStore(ctx, cfg)

	authn := auth.New(ctx, cfg.Auth)
	pipeline := ingest.NewPipeline(nil, cfg.DragMarkerKey)
	pipeline.TrustObjects(objectStore)
	a := &app{
		authn:     authn,
		sessions:  catalog.NewSessions(store, objectStore, cfg.DefaultCategory),
		projects:  projects.NewStore(store),
		pipeline:  pipeline,
		generator: generate.NewGenerator(cfg.Gemini, nil, pipeline),
		bridge:    websocket.NewBridge(authn.Subject, cfg.PublicBaseURL),
		objects:   objectStore,
	}
	a.sessions.SetNotifier(a.bridge)

	go a.sessions.Follow(ctx, store)

	r := setupRouter(a)
	r.Mount("/socket.io/", a.bridge.Server().ServeHandler(nil))

	srv := &http.Server{Addr: *listenAddress, Handler: r}
	logrus.WithField("addr", *listenAddress).Info("starting server")
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(srv, a.bridge, cancel)
}
