// Command example fans a grid of requests out to a local mock service with
// the fanout SDK and prints each result as it lands.
//
//	go run ./example
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jpalmerr/fanout"
	"github.com/jpalmerr/fanout/loop"
)

const concurrency = 3

func main() {
	if err := run(); err != nil {
		slog.Error("example failed", "error", err)
		os.Exit(1)
	}
}

// mockService answers /health with a random status after 50-200ms and
// tracks how many requests it is serving at once.
func mockService(inFlight, peak *atomic.Int32) *httptest.Server {
	statuses := []string{"ok", "degraded", "down"}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}

		time.Sleep(time.Duration(50+rand.Intn(150)) * time.Millisecond)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"svc":    r.URL.Query().Get("svc"),
			"env":    r.URL.Query().Get("env"),
			"status": statuses[rand.Intn(len(statuses))],
		})
	}))
}

func run() error {
	var inFlight, peak atomic.Int32
	srv := mockService(&inFlight, &peak)
	defer srv.Close()

	l, err := loop.New()
	if err != nil {
		return err
	}
	defer l.Close()

	c, err := fanout.New(l,
		fanout.WithConcurrency(concurrency),
		fanout.WithTimeout(5*time.Second),
	)
	if err != nil {
		return err
	}

	var urls []string
	for _, svc := range []string{"users", "orders", "billing"} {
		for _, env := range []string{"prod", "staging", "dev"} {
			urls = append(urls, fmt.Sprintf("%s/health?svc=%s&env=%s", srv.URL, svc, env))
		}
	}

	remaining := len(urls)
	finish := func() {
		remaining--
		if remaining == 0 {
			l.Stop()
		}
	}
	c.OnResponse(func(c *fanout.Client, req fanout.Request, resp *fanout.Response, st fanout.Stats) {
		var body struct{ Svc, Env, Status string }
		_ = json.Unmarshal(resp.Body, &body)
		fmt.Printf("%-8s %-8s %-9s %4dms  admitted=%d pending=%d\n",
			body.Svc, body.Env, body.Status, st.Total.Milliseconds(), c.Admitted(), c.Pending())
		finish()
	})
	c.OnError(func(c *fanout.Client, req fanout.Request, err error, st fanout.Stats) {
		fmt.Printf("%s failed: %v\n", req.(fanout.Message).URL, err)
		finish()
	})

	err = l.Submit(func() {
		for _, u := range urls {
			if _, err := c.Request(fanout.Message{URL: u}); err != nil {
				fmt.Println(err)
				finish()
			}
		}
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := l.Run(ctx); err != nil {
		return err
	}
	if err := c.Close(); err != nil {
		return err
	}

	fmt.Printf("\n%d requests, at most %d in flight (limit %d)\n", len(urls), peak.Load(), concurrency)
	return nil
}
