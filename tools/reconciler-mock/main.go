// reconciler-mock is a stand-in reconciliation endpoint for offline
// drills. It keeps accepted ids in memory and can inject faults so the
// agent's retry and dedup paths can be exercised by hand:
//
//	go run ./tools/reconciler-mock -flaky 0.3 -reject-employee ghost
package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

type submission struct {
	ID         string    `json:"id"`
	EmployeeID string    `json:"employeeId"`
	Action     string    `json:"action"`
	CapturedAt time.Time `json:"capturedAt"`
}

type receipt struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type server struct {
	mu       sync.Mutex
	seen     map[string]bool
	flaky    float64
	rejectID string
	noBatch  bool
}

func (s *server) reconcile(sub submission) (receipt, bool) {
	if s.flaky > 0 && rand.Float64() < s.flaky {
		return receipt{}, false
	}

	if sub.EmployeeID == s.rejectID && s.rejectID != "" {
		return receipt{ID: sub.ID, Status: "rejected", Reason: "unknown employee"}, true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[sub.ID] {
		return receipt{ID: sub.ID, Status: "duplicate"}, true
	}
	s.seen[sub.ID] = true
	log.Printf("accepted %s %s for employee %s", sub.Action, sub.ID, sub.EmployeeID)
	return receipt{ID: sub.ID, Status: "accepted"}, true
}

func (s *server) single(w http.ResponseWriter, r *http.Request) {
	var sub submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	rec, ok := s.reconcile(sub)
	if !ok {
		http.Error(w, "injected transient failure", http.StatusInternalServerError)
		return
	}
	if rec.Status == "rejected" {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	json.NewEncoder(w).Encode(rec)
}

func (s *server) batch(w http.ResponseWriter, r *http.Request) {
	if s.noBatch {
		http.NotFound(w, r)
		return
	}

	var req struct {
		Events []submission `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	results := make([]receipt, 0, len(req.Events))
	for _, sub := range req.Events {
		rec, ok := s.reconcile(sub)
		if !ok {
			http.Error(w, "injected transient failure", http.StatusInternalServerError)
			return
		}
		results = append(results, rec)
	}
	json.NewEncoder(w).Encode(map[string]any{"results": results})
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flaky := flag.Float64("flaky", 0, "probability of answering 500 per request")
	rejectID := flag.String("reject-employee", "", "employee id to permanently reject")
	noBatch := flag.Bool("no-batch", false, "pretend the batch route does not exist")
	flag.Parse()

	s := &server{seen: make(map[string]bool), flaky: *flaky, rejectID: *rejectID, noBatch: *noBatch}

	http.HandleFunc("/api/v1/attendance", s.single)
	http.HandleFunc("/api/v1/attendance/batch", s.batch)
	http.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	log.Printf("reconciler mock listening on %s (flaky=%.2f)", *addr, *flaky)
	log.Fatal(http.ListenAndServe(*addr, nil))
}
