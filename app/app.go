package app

import (
	"database/sql"

	"github.com/sugb/survey-backend/config"
	"github.com/sugb/survey-backend/form"
	"github.com/sugb/survey-backend/queue"
	"github.com/sugb/survey-backend/report"
	"github.com/sugb/survey-backend/routes/middlewares"
)

type App struct {
	*sql.DB
	config.Config
	Schema   *form.Schema
	Queue    *queue.Queue
	Renderer *report.Renderer
	Sessions middlewares.SessionVerifier
}
