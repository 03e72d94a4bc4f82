package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"attendance.sync/internal/api/handler"
)

// NewRouter sets up the gorilla/mux router for the device-local API the
// capture UI talks to.
func NewRouter(h *handler.AgentHandler) *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/capture", h.CaptureEvent).Methods(http.MethodPost)
	api.HandleFunc("/queue/count", h.QueueCount).Methods(http.MethodGet)
	api.HandleFunc("/queue/export", h.ExportQueue).Methods(http.MethodGet)
	api.HandleFunc("/sync", h.SyncNow).Methods(http.MethodPost)
	api.HandleFunc("/connectivity", h.Connectivity).Methods(http.MethodGet)
	api.HandleFunc("/rejected", h.ListRejected).Methods(http.MethodGet)
	api.HandleFunc("/rejected/{id}", h.DiscardRejected).Methods(http.MethodDelete)
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Agent is operational."))
	}).Methods(http.MethodGet)

	return r
}
