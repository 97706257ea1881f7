// Command server runs the tarot websocket server.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"tarot/internal/auth"
	"tarot/internal/config"
	"tarot/internal/server"
)

func main() {
	configPath := flag.String("config", "", "Path to a JSON config file")
	addr := flag.String("addr", "", "Listen address (overrides config and TAROT_ADDR)")
	webDir := flag.String("web", filepath.Join("web", "dist"), "Frontend build to serve; empty disables it")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		log.Fatalf("config: %v", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	tcfg, err := cfg.Table()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var verifier server.TokenVerifier
	if cfg.TokenSecret != "" {
		v, err := auth.NewVerifier(cfg.TokenSecret)
		if err != nil {
			log.Fatalf("auth: %v", err)
		}
		verifier = v
	}

	tables := server.NewRegistry(tcfg, nil, server.TimerScheduler{})
	api := server.NewHandler(tables, cfg.Origins, verifier).Routes()

	mux := http.NewServeMux()
	mux.Handle("/health", api)
	mux.Handle("/ws", api)
	mux.Handle("/distributions/", api)
	if *webDir != "" {
		mux.Handle("/", spa(*webDir))
	}

	srv := &http.Server{
		Addr:        cfg.Addr,
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Printf("listening on %s (%d rounds, bot delay %s)", cfg.Addr, cfg.MaxRounds, tcfg.BotDelay)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errChan:
		log.Fatal(err)
	case sig := <-quit:
		log.Printf("received %v, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	tables.Close()
	log.Println("server stopped")
}

// spa serves the frontend build, falling back to index.html for client
// routes.
func spa(dir string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(dir, filepath.Clean(r.URL.Path))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			http.ServeFile(w, r, path)
			return
		}
		http.ServeFile(w, r, filepath.Join(dir, "index.html"))
	})
}
