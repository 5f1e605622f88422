// Package control exposes the agent on a local HTTP surface for a
// dashboard: named functions under /func and a status websocket.
package control

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nuha.dev/trackee/internal/liveness"
)

type ApiConfig struct {
	ListenAddr string
}

type Api struct {
	r      chi.Router
	s      *http.Server
	config *ApiConfig
	log    zerolog.Logger
	board  *liveness.Board
}

func NewApi(ctl Controller, board *liveness.Board, config *ApiConfig) *Api {
	api := &Api{config: config, board: board}
	api.log = log.With().Str("module", "control").Logger()
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	fns := &functions{ctl: ctl}
	disp := NewDispatcher(api.log)
	disp.Add("GetStatus", fns.GetStatus)
	disp.Add("StartTracking", fns.StartTracking)
	disp.Add("StopTracking", fns.StopTracking)
	disp.Add("Login", fns.Login)
	disp.Add("Logout", fns.Logout)
	disp.Add("ReportNow", fns.ReportNow)

	r.Post("/func/{name}", func(w http.ResponseWriter, r *http.Request) {
		disp.Call(chi.URLParam(r, "name"), w, r)
	})
	r.Get("/ws", api.StatusStream)

	api.r = r
	api.s = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return api
}

func (api *Api) Handler() http.Handler {
	return api.r
}

// Run serves until ctx is done, then shuts the server down gracefully.
func (api *Api) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", api.config.ListenAddr)
	if err != nil {
		return err
	}
	api.log.Info().Msgf("starting control api on : %s", ln.Addr())
	errc := make(chan error, 1)
	go func() {
		errc <- api.s.Serve(ln)
	}()
	select {
	case err = <-errc:
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = api.s.Shutdown(sctx)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
