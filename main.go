package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/sugb/survey-backend/app"
	"github.com/sugb/survey-backend/config"
	"github.com/sugb/survey-backend/database"
	"github.com/sugb/survey-backend/form"
	"github.com/sugb/survey-backend/log"
	"github.com/sugb/survey-backend/queue"
	"github.com/sugb/survey-backend/report"
	"github.com/sugb/survey-backend/routes"
	"github.com/sugb/survey-backend/routes/middlewares"
)

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		log.Fatal("main.config:", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	db, err := database.Open(cfg.DBUrl)
	if err != nil {
		log.Fatal("main.db.open:", err)
	}
	defer db.Close()

	renderer := report.NewRenderer(
		report.NewSQLResponseSource(db),
		report.NewFSStore(cfg.ArtifactDir),
	)

	pdfQueue := queue.New(
		queue.NewSQLStore(db),
		renderer,
		queue.WithMaxAttempts(cfg.MaxAttempts),
		queue.WithJobDelay(cfg.JobDelay),
		queue.WithStaleAfter(cfg.StaleAfter),
	)

	app := app.App{
		DB:       db,
		Config:   cfg,
		Schema:   form.DefaultSchema(),
		Queue:    pdfQueue,
		Renderer: renderer,
		Sessions: middlewares.TokenVerifier{
			Token:         cfg.SessionToken,
			DefaultUserID: "local-user",
		},
	}

	handler := routes.Wire(app)

	err = runServer(cfg, handler)
	if !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("main.server:", err)
	}
}

func runServer(cfg config.Config, handler http.Handler) error {
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	log.Info("Listening on " + cfg.Url())
	return srv.ListenAndServe()
}
