// Command devbackend serves the in-memory WildWatch backend for local portal
// and wwctl development. Demo accounts use the password "wildcats".
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wildwatch.app/internal/backend/backendtest"
	"wildwatch.app/internal/obs"
)

func main() {
	addr := flag.String("addr", ":8081", "listen address")
	tick := flag.Duration("upvotes", 3*time.Second, "interval between simulated upvotes (0 disables)")
	flag.Parse()

	be := backendtest.New()
	be.SeedDemo()
	if *tick > 0 {
		stopDemo := be.StartDemo(*tick)
		defer stopDemo()
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           be.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()
	obs.Info("devbackend_started", map[string]any{"addr": *addr, "accounts": []string{"student@cit.edu", "osa@cit.edu"}})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
