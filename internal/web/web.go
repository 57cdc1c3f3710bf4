package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"code.dogecoin.org/governor"
	"github.com/sirupsen/logrus"

	"github.com/thombles/whoisit/internal/ident"
	"github.com/thombles/whoisit/internal/spec"
)

// WebAPI is the operator status endpoint: recent queries from the
// audit log and a metrics snapshot. It is bound to localhost by
// default and has no role in the ident protocol itself.
type WebAPI struct {
	governor.ServiceCtx
	_store spec.Store
	store  spec.StoreCtx
	srv    http.Server
}

func New(bind spec.Address, store spec.Store) governor.Service {
	mux := http.NewServeMux()
	a := &WebAPI{
		_store: store,
		srv: http.Server{
			Addr:    bind.String(),
			Handler: mux,
		},
	}
	mux.HandleFunc("/queries", a.getQueries)
	mux.HandleFunc("/stats", a.getStats)

	return a
}

// called on any
func (a *WebAPI) Stop() {
	// new goroutine because Shutdown() blocks
	go func() {
		// cannot use ServiceCtx here because it's already cancelled
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		a.srv.Shutdown(ctx) // blocking call
		cancel()
	}()
}

// goroutine
func (a *WebAPI) Run() {
	if a._store != nil {
		a.store = a._store.WithCtx(a.Context) // Service Context is first available here
	}
	logrus.WithField("listener", a.srv.Addr).Info("status API listening")
	if err := a.srv.ListenAndServe(); err != http.ErrServerClosed { // blocking call
		logrus.WithError(err).Error("status API stopped")
	}
}

func (a *WebAPI) getQueries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.store == nil {
		http.Error(w, "query log is disabled", http.StatusServiceUnavailable)
		return
	}
	limit := 100
	if n := r.URL.Query().Get("n"); n != "" {
		if v, err := strconv.Atoi(n); err == nil && v > 0 && v <= 10000 {
			limit = v
		}
	}
	list, err := a.store.RecentQueries(limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("error in query: %s", err.Error()), http.StatusInternalServerError)
		return
	}
	writeJSON(w, list)
}

func (a *WebAPI) getStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := ident.Snapshot()
	if a.store != nil {
		total, failed, err := a.store.QueryStats()
		if err == nil {
			snap["log_queries"] = total
			snap["log_queries_failed"] = failed
		}
	}
	writeJSON(w, snap)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("error encoding JSON: %s", err.Error()), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}
