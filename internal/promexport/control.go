package promexport

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/torosent/cyclebench/internal/activity"
	"github.com/torosent/cyclebench/internal/ratelimit"
)

// Controller is the part of an executor the HTTP surface drives.
type Controller interface {
	SnapshotProvider
	SetThreads(n int) error
	ApplyRate(spec ratelimit.Spec) error
	Stop()
}

type stateResponse struct {
	State       string  `json:"state"`
	Threads     int     `json:"threads"`
	Target      int     `json:"target"`
	Cycles      int64   `json:"cycles"`
	Remaining   int64   `json:"remaining"`
	Recoverable int64   `json:"recoverable"`
	Retries     int64   `json:"retries"`
	Errored     int64   `json:"errored"`
	WaitMs      float64 `json:"wait_ms"`
	Rate        float64 `json:"rate"`
}

func newStateResponse(s activity.Snapshot) stateResponse {
	return stateResponse{
		State:       s.State.String(),
		Threads:     s.Threads,
		Target:      s.Target,
		Cycles:      s.Cycles,
		Remaining:   s.Remaining,
		Recoverable: s.Recoverable,
		Retries:     s.Retries,
		Errored:     s.Errored,
		WaitMs:      float64(s.WaitTime.Microseconds()) / 1000,
		Rate:        s.Rate,
	}
}

// NewMux serves /metrics from g and, when ctl is set, the run control
// endpoints:
//
//	GET  /state           executor snapshot as JSON
//	POST /threads?n=8     change the thread target
//	POST /rate?spec=1K:1.1  apply a cycle rate spec
//	POST /stop            stop the run
//
// Values may also be sent as the request body.
func NewMux(g prom.Gatherer, ctl Controller) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	if ctl == nil {
		return mux
	}

	mux.HandleFunc("/state", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeState(w, ctl)
	})
	mux.HandleFunc("/threads", func(w http.ResponseWriter, r *http.Request) {
		raw, ok := controlValue(w, r, "n")
		if !ok {
			return
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "threads must be an integer", http.StatusBadRequest)
			return
		}
		if err := ctl.SetThreads(n); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		grip.Info(message.Fields{"message": "thread target set over http", "threads": n, "remote": r.RemoteAddr})
		writeState(w, ctl)
	})
	mux.HandleFunc("/rate", func(w http.ResponseWriter, r *http.Request) {
		raw, ok := controlValue(w, r, "spec")
		if !ok {
			return
		}
		spec, err := ratelimit.ParseSpec(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := ctl.ApplyRate(spec); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		grip.Info(message.Fields{"message": "rate applied over http", "spec": spec.String(), "remote": r.RemoteAddr})
		writeState(w, ctl)
	})
	mux.HandleFunc("/stop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ctl.Stop()
		writeState(w, ctl)
	})
	return mux
}

// controlValue reads a setting from the query or the request body.
func controlValue(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return "", false
	}
	if v := strings.TrimSpace(r.URL.Query().Get(key)); v != "" {
		return v, true
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1024))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	if v := strings.TrimSpace(string(body)); v != "" {
		return v, true
	}
	http.Error(w, "missing "+key, http.StatusBadRequest)
	return "", false
}

func writeState(w http.ResponseWriter, ctl Controller) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(newStateResponse(ctl.Snapshot())); err != nil {
		grip.Warning(message.WrapError(err, message.Fields{"message": "writing state response"}))
	}
}
