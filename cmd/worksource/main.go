// Command worksource runs a standalone getwork + long-poll work source
// against a configured pool/node, exposing Prometheus metrics over HTTP.
// It is a demonstration harness: the enclosing mining framework is the
// minimal internal/corefw stand-in, not a real hardware-driving miner.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/chimera-pool/getwork-worksource/internal/config"
	"github.com/chimera-pool/getwork-worksource/internal/corefw"
	"github.com/chimera-pool/getwork-worksource/internal/metrics"
	"github.com/chimera-pool/getwork-worksource/internal/worksource"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML settings file")
	metricsAddr := flag.String("metrics-addr", ":9191", "address to serve /metrics on")
	queueTarget := flag.Int("queue-target", 16, "target depth of the in-memory demo work queue")
	flag.Parse()

	settings, err := config.LoadSettings(*configPath)
	if err != nil {
		log.Fatalf("worksource: loading settings: %v", err)
	}
	if settings.Host == "" {
		log.Fatalf("worksource: no host configured (set WORKSOURCE_HOST or -config)")
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)
	registry := metrics.NewRegistry()
	framework := corefw.NewFramework(logger, *queueTarget)

	source := worksource.NewSource(settings, framework, registry)

	httpServer := &http.Server{Addr: *metricsAddr, Handler: registry.Handler()}
	go func() {
		logger.Printf("serving metrics on %s", *metricsAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server: %v", err)
		}
	}()

	source.Start()
	logger.Printf("worksource started against %s:%d%s", settings.Host, settings.Port, settings.Path)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Println("shutting down")
	source.Stop()
	httpServer.Close()
}
