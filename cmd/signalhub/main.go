package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"signalhub/internal/hub"
)

func main() {
	addr := flag.String("addr", ":8080", "address to listen on")
	path := flag.String("path", "/api/signaling", "signaling upgrade path")
	origins := flag.String("allowed-origins", "", "comma-separated allowlist of origin host patterns (empty allows same-origin only)")
	auditWorkers := flag.Int("audit-workers", 2, "number of async audit-logging goroutines")
	outboundQueueDepth := flag.Int("outbound-queue-depth", 256, "per-session outbound frame queue depth")
	writeTimeout := flag.Duration("write-timeout", 10*time.Second, "per-session write timeout")
	readIdleTimeout := flag.Duration("read-idle-timeout", 5*time.Minute, "per-session idle read timeout (0 disables)")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg := hub.DefaultConfig()
	cfg.ListenAddr = *addr
	cfg.SignalingPath = *path
	cfg.AuditWorkers = *auditWorkers
	cfg.Session.OutboundQueueDepth = *outboundQueueDepth
	cfg.Session.WriteTimeout = *writeTimeout
	cfg.Session.ReadIdleTimeout = *readIdleTimeout
	if *origins != "" {
		cfg.AllowedOrigins = splitAndTrim(*origins)
	}

	h := hub.New(cfg, log)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.Shutdown(ctx); err != nil {
			log.Error("shutdown error", slog.String("error", err.Error()))
		}
	}()

	if err := h.ListenAndServe(); err != nil {
		log.Error("hub stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
