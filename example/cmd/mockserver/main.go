// Standalone mock service for trying the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/fanout run -c example/batch.yaml
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

// mockState tracks the status and next change time for one svc/env pair.
type mockState struct {
	statusIdx    int
	nextChangeAt time.Time
}

func nextChange() time.Time {
	return time.Now().Add(time.Duration(20+rand.Intn(41)) * time.Second)
}

func main() {
	fmt.Println("Mock service starting on :9999")
	fmt.Println("  /health?svc=&env=  status cycles ok -> degraded -> down")
	fmt.Println("  /slow?ms=          responds after the given delay")
	fmt.Println("  /redirect?n=       redirects n times before answering")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	var (
		states   = make(map[string]*mockState)
		mu       sync.Mutex
		statuses = []string{"ok", "degraded", "down"}
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		svc := r.URL.Query().Get("svc")
		env := r.URL.Query().Get("env")
		key := svc + "-" + env

		time.Sleep(time.Duration(50+rand.Intn(150)) * time.Millisecond)

		mu.Lock()
		state, exists := states[key]
		if !exists {
			state = &mockState{nextChangeAt: nextChange()}
			states[key] = state
		}
		if time.Now().After(state.nextChangeAt) {
			old := statuses[state.statusIdx]
			state.statusIdx = (state.statusIdx + 1) % len(statuses)
			state.nextChangeAt = nextChange()
			slog.Info("status change", "key", key, "from", old, "to", statuses[state.statusIdx])
		}
		status := statuses[state.statusIdx]
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"svc": svc, "env": env, "status": status}); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		ms, _ := strconv.Atoi(r.URL.Query().Get("ms"))
		time.Sleep(time.Duration(ms) * time.Millisecond)
		fmt.Fprintf(w, "slept %dms\n", ms)
	})

	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.Atoi(r.URL.Query().Get("n"))
		if n <= 0 {
			fmt.Fprintln(w, "ok")
			return
		}
		http.Redirect(w, r, fmt.Sprintf("/redirect?n=%d", n-1), http.StatusFound)
	})

	if err := http.ListenAndServe(":9999", mux); err != nil {
		slog.Error("mock server error", "error", err)
		os.Exit(1)
	}
}
