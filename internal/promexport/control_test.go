package promexport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/torosent/cyclebench/internal/activity"
	"github.com/torosent/cyclebench/internal/ratelimit"
)

type fakeController struct {
	mu      sync.Mutex
	snap    activity.Snapshot
	threads int
	spec    ratelimit.Spec
	stopped bool
	fail    bool
}

func (f *fakeController) Snapshot() activity.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeController) SetThreads(n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("not running")
	}
	f.threads = n
	f.snap.Target = n
	return nil
}

func (f *fakeController) ApplyRate(spec ratelimit.Spec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("not running")
	}
	f.spec = spec
	f.snap.Rate = spec.OpsPerSec
	return nil
}

func (f *fakeController) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	f.snap.State = activity.StateStopping
}

func TestControlEndpoints(t *testing.T) {
	ctl := &fakeController{snap: activity.Snapshot{State: activity.StateRunning, Threads: 2, Target: 2}}
	srv := httptest.NewServer(NewMux(prom.NewRegistry(), ctl))
	defer srv.Close()

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"state", http.MethodGet, "/state", "", http.StatusOK},
		{"state wrong method", http.MethodPost, "/state", "", http.StatusMethodNotAllowed},
		{"threads by query", http.MethodPost, "/threads?n=8", "", http.StatusOK},
		{"threads by body", http.MethodPut, "/threads", "3", http.StatusOK},
		{"threads not a number", http.MethodPost, "/threads?n=lots", "", http.StatusBadRequest},
		{"threads missing", http.MethodPost, "/threads", "", http.StatusBadRequest},
		{"threads wrong method", http.MethodGet, "/threads?n=1", "", http.StatusMethodNotAllowed},
		{"rate", http.MethodPost, "/rate?spec=1K:1.2", "", http.StatusOK},
		{"rate invalid", http.MethodPost, "/rate?spec=-5", "", http.StatusBadRequest},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("NewRequest() error = %v", err)
			}
			resp, err := srv.Client().Do(req)
			if err != nil {
				t.Fatalf("Do() error = %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}

	ctl.mu.Lock()
	threads, spec := ctl.threads, ctl.spec
	ctl.mu.Unlock()
	if threads != 3 {
		t.Fatalf("threads = %d, want 3", threads)
	}
	if spec.OpsPerSec != 1000 || spec.BurstRatio != 1.2 {
		t.Fatalf("spec = %+v", spec)
	}

	resp, err := srv.Client().Post(srv.URL+"/stop", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST /stop error = %v", err)
	}
	defer resp.Body.Close()
	var state stateResponse
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("decoding state: %v", err)
	}
	if state.State != "stopping" || state.Rate != 1000 {
		t.Fatalf("after stop: %+v", state)
	}
}

func TestControlConflict(t *testing.T) {
	ctl := &fakeController{fail: true}
	srv := httptest.NewServer(NewMux(prom.NewRegistry(), ctl))
	defer srv.Close()

	resp, err := srv.Client().Post(srv.URL+"/threads?n=2", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
}

func TestMetricsOnlyMux(t *testing.T) {
	srv := httptest.NewServer(NewMux(prom.NewRegistry(), nil))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL + "/state")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 without a controller", resp.StatusCode)
	}
}
