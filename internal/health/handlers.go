package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/vaayugo-api/internal/common"
)

// draining flips once graceful shutdown starts; readiness then fails while liveness keeps passing.
var draining atomic.Bool

// SetReady toggles the process-wide readiness flag.
func SetReady(ready bool) {
	draining.Store(!ready)
}

// Checker probes the dependencies the api cannot serve without.
type Checker interface {
	PingDB(ctx context.Context, timeout time.Duration) error
	PingRedis(ctx context.Context, timeout time.Duration) error
}

// Handler serves /health/live and /health/ready.
type Handler struct {
	Checker      Checker
	DBTimeout    time.Duration
	RedisTimeout time.Duration
}

// Report is the readiness body.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// Ready pings postgres and redis concurrently. Any failure answers 503 with the failing probe's
// error in checks.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	switch {
	case draining.Load():
		common.JSON(w, http.StatusServiceUnavailable, Report{Status: "draining"})
		return
	case h.Checker == nil:
		common.JSON(w, http.StatusServiceUnavailable, Report{Status: "unconfigured"})
		return
	}

	probes := map[string]func(context.Context) error{
		"postgres": func(ctx context.Context) error {
			return h.Checker.PingDB(ctx, orDefault(h.DBTimeout, 500*time.Millisecond))
		},
		"redis": func(ctx context.Context) error {
			return h.Checker.PingRedis(ctx, orDefault(h.RedisTimeout, 300*time.Millisecond))
		},
	}
	report := Report{Status: "ok", Checks: make(map[string]string, len(probes))}
	var mu sync.Mutex
	var g errgroup.Group
	for name, probe := range probes {
		name, probe := name, probe
		g.Go(func() error {
			result := "ok"
			if err := probe(r.Context()); err != nil {
				result = err.Error()
			}
			mu.Lock()
			report.Checks[name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	code := http.StatusOK
	for _, result := range report.Checks {
		if result != "ok" {
			report.Status = "unavailable"
			code = http.StatusServiceUnavailable
		}
	}
	common.JSON(w, code, report)
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
