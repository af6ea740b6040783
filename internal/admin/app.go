package admin

import (
	"context"
	"html/template"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/vidmed/consultd/internal/core"
	"github.com/vidmed/consultd/internal/queue"
)

type ctxKey string

const (
	sessionNameKey        = "_consultd_session"
	userIDCtxKey   ctxKey = "userID"
)

// App is the operator dashboard: queue depths per doctor and the
// consultation history.
type App struct {
	rootURL       string
	router        *chi.Mux
	db            *sqlx.DB
	registry      *queue.Registry
	queues        *queue.Manager
	consultations core.ConsultationsLister
	sessionStore  *sessions.CookieStore
}

func NewApp(
	db *sqlx.DB,
	registry *queue.Registry,
	queues *queue.Manager,
	consultations core.ConsultationsLister,
	rootURL string,
	sessionSecret []byte,
) *App {
	return &App{
		rootURL:       rootURL,
		router:        chi.NewRouter(),
		db:            db,
		registry:      registry,
		queues:        queues,
		consultations: consultations,
		sessionStore:  sessions.NewCookieStore(sessionSecret),
	}
}

type queueRow struct {
	DoctorID string
	IsOnline bool
	Waiting  []core.QueueEntry
}

type dashboardData struct {
	Queues []queueRow
}

type consultationsData struct {
	Consultations []*core.Consultation
	Page          int
	TotalPages    int
}

// Router returns the admin router.
func (app *App) Router() http.Handler {
	app.router.Get("/login", func(w http.ResponseWriter, r *http.Request) {
		app.render(w, loginTemplate, nil)
	})
	app.router.Post("/login", func(w http.ResponseWriter, r *http.Request) {
		email := r.FormValue("email")
		password := r.FormValue("password")

		user, err := AuthAdminUser(app.db, email, password)
		if err != nil {
			log.Error().Err(err).Str("service", "admin").Msg("can't authenticate")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if user == nil {
			w.WriteHeader(http.StatusUnauthorized)
			app.render(w, loginTemplate, nil)
			return
		}

		session, _ := app.sessionStore.Get(r, sessionNameKey)
		session.Values["id"] = user.ID
		if err := session.Save(r, w); err != nil {
			log.Error().Err(err).Str("service", "admin").Msg("can't save session")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Location", app.rootURL)
		w.WriteHeader(http.StatusFound)
	})

	app.router.With(app.authenticateOrLogin).Route("/", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			snapshot := app.registry.Snapshot()
			data := dashboardData{Queues: make([]queueRow, 0, len(snapshot))}
			for _, d := range snapshot {
				data.Queues = append(data.Queues, queueRow{
					DoctorID: string(d.DoctorID),
					IsOnline: d.IsOnline,
					Waiting:  app.queues.Waiting(d.DoctorID),
				})
			}

			app.render(w, dashboardTemplate, data)
		})

		r.Get("/consultations", func(w http.ResponseWriter, r *http.Request) {
			page, _ := strconv.Atoi(r.URL.Query().Get("page"))
			if page < 1 {
				page = 1
			}

			result, err := app.consultations.GetAll(page, 0)
			if err != nil {
				log.Error().Err(err).Str("service", "admin").Msg("can't list consultations")
				w.WriteHeader(http.StatusInternalServerError)
				return
			}

			app.render(w, consultationsTemplate, consultationsData{
				Consultations: result.Consultations,
				Page:          page,
				TotalPages:    result.TotalPages,
			})
		})
	})

	return app.router
}

func (app *App) render(w http.ResponseWriter, tmpl *template.Template, data interface{}) {
	if err := tmpl.Execute(w, data); err != nil {
		log.Error().Err(err).Str("service", "admin").Msg("can't render template")
	}
}

func (app *App) authenticateOrLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, _ := app.sessionStore.Get(r, sessionNameKey)
		userID, ok := session.Values["id"]
		if !ok {
			w.Header().Set("Location", app.rootURL+"/login")
			w.WriteHeader(http.StatusTemporaryRedirect)
			return
		}
		ctx := context.WithValue(r.Context(), userIDCtxKey, userID.(string))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><title>consultd admin</title></head>
<body>
<form method="post" action="login">
  <input type="email" name="email" placeholder="email">
  <input type="password" name="password" placeholder="password">
  <button type="submit">Sign in</button>
</form>
</body>
</html>`))

var dashboardTemplate = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html>
<head><title>consultd admin</title></head>
<body>
<h1>Queues</h1>
<table border="1">
  <tr><th>Doctor</th><th>Online</th><th>Waiting</th></tr>
  {{range .Queues}}
  <tr>
    <td>{{.DoctorID}}</td>
    <td>{{.IsOnline}}</td>
    <td>
      {{range .Waiting}}#{{.Position}} {{.PatientID}} (est. {{.EstimatedWait}})<br>{{end}}
    </td>
  </tr>
  {{end}}
</table>
<p><a href="consultations">Consultations</a></p>
</body>
</html>`))

var consultationsTemplate = template.Must(template.New("consultations").Parse(`<!DOCTYPE html>
<html>
<head><title>consultd admin</title></head>
<body>
<h1>Consultations</h1>
<table border="1">
  <tr><th>ID</th><th>Doctor</th><th>Patient</th><th>Room</th><th>State</th><th>Created</th><th>Ended</th></tr>
  {{range .Consultations}}
  <tr>
    <td>{{.ID}}</td>
    <td>{{.DoctorID}}</td>
    <td>{{.PatientID}}</td>
    <td>{{.RoomName}}</td>
    <td>{{.State}}</td>
    <td>{{.CreatedAt}}</td>
    <td>{{if .EndedAt}}{{.EndedAt}}{{end}}</td>
  </tr>
  {{end}}
</table>
<p>Page {{.Page}} of {{.TotalPages}}</p>
</body>
</html>`))
