package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/sugb/survey-backend/app"
	"github.com/sugb/survey-backend/routes/middlewares"
)

var validate = validator.New()

func Wire(app app.App) http.Handler {
	root := chi.NewRouter()
	root.Use(middleware.Logger, middleware.Recoverer)

	root.Mount("/api", apiRouter(app))

	return root
}

func apiRouter(app app.App) http.Handler {
	api := chi.NewRouter()
	api.Use(middlewares.RequireSession(app.Sessions))

	api.Route("/survey", func(r chi.Router) {
		r.Get("/", GetSurvey(app))
		r.Post("/save", SaveSurvey(app))
	})

	api.Route("/pdf", func(r chi.Router) {
		r.Post("/generate", GeneratePDF(app))
		r.Get("/status/{jobId}", PDFStatus(app))
		r.Get("/download/{filename}", DownloadPDF(app))
	})

	return api
}

// sessionUserID reads the identity attached by RequireSession. Handlers
// below the middleware can count on it being present.
func sessionUserID(r *http.Request) string {
	session, _ := middlewares.SessionFrom(r.Context())
	return session.UserID
}
