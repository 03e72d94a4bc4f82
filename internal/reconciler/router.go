package reconciler

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter sets up the server-side routes: the submission endpoints plus
// the health probe the device connectivity monitors poll.
func NewRouter(h *ReconcileHandler) *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/attendance", h.SubmitSingle).Methods(http.MethodPost)
	api.HandleFunc("/attendance/batch", h.SubmitBatch).Methods(http.MethodPost)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	return r
}
