package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Router maps HTTP routes onto Handlers
type Router struct {
	router   *mux.Router
	handlers *Handlers
}

// NewRouter creates a router with every route registered
func NewRouter(handlers *Handlers) *Router {
	r := &Router{
		router:   mux.NewRouter(),
		handlers: handlers,
	}

	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	r.router.HandleFunc("/healthz", r.handlers.Liveness).Methods(http.MethodGet)
	r.router.HandleFunc("/tail", r.handlers.Tail).Methods(http.MethodGet)

	api := r.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/events", r.handlers.Events).Methods(http.MethodGet)
	api.HandleFunc("/health", r.handlers.DeviceHealth).Methods(http.MethodGet)
	api.HandleFunc("/stats", r.handlers.Stats).Methods(http.MethodGet)
	api.HandleFunc("/refresh-devices", r.handlers.RefreshDevices).Methods(http.MethodPost)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.router.ServeHTTP(w, req)
}
