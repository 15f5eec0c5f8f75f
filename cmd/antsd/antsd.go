package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/meridianspace/antdeploy/internal/ants"
	"github.com/meridianspace/antdeploy/internal/antsim"
	"github.com/meridianspace/antdeploy/internal/api"
	"github.com/meridianspace/antdeploy/internal/buslink"
	"github.com/meridianspace/antdeploy/internal/config"
	"github.com/meridianspace/antdeploy/internal/history"
	"github.com/meridianspace/antdeploy/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to YAML config file")
	devMode     = flag.Bool("dev", false, "Run against a simulated controller instead of a serial port")
	listen      = flag.String("listen", "", "HTTP listen address (overrides config)")
	port        = flag.String("port", "", "Serial port of the deployment controller (overrides config)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *port != "" {
		cfg.Link.Port = *port
	}
	if !*devMode && cfg.Link.Port == "" {
		log.Fatal("Serial port is required (set -port, configure link.port, or run with -dev)")
	}

	// Open the controller link: a simulated controller in dev mode, the
	// real serial device otherwise.
	var link *buslink.Link
	if *devMode {
		log.Print("dev mode: using simulated deployment controller")
		link = buslink.New(antsim.New(nil), cfg.Link.Timeouts(), nil)
	} else {
		link, err = buslink.Open(cfg.Link.Port, cfg.Link.PortOptions, cfg.Link.Timeouts())
		if err != nil {
			log.Fatalf("failed to open controller link: %v", err)
		}
		log.Printf("opened controller link on %s", cfg.Link.Port)
	}

	driver := ants.NewDriver(link, ants.DriverConfig{
		RetryCeiling:      cfg.Deploy.RetryCeiling,
		DefaultBurn:       cfg.Deploy.DefaultBurn(),
		MaxBurn:           cfg.Deploy.MaxBurn(),
		PollInterval:      cfg.Deploy.PollInterval(),
		PollCadence:       cfg.Poller.Cadence(),
		LinkDownThreshold: cfg.Poller.LinkDownThreshold,
	}, nil)
	defer driver.Close()

	// History is optional; an empty path disables run recording.
	var hist api.History
	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			log.Fatalf("failed to open history database: %v", err)
		}
		defer store.Close()
		driver.SetRecorder(store)
		hist = store
		log.Printf("recording deployment history to %s", cfg.History.Path)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the background poller to keep the status snapshot fresh
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := driver.RunPoller(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("status poller stopped: %v", err)
		}
		log.Print("poller routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(driver, hist).ServeMux()
		server := &http.Server{
			Addr:    cfg.Listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("listening on %s", cfg.Listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
