// Command chatty runs the group-chat server: the JSON resolver API, the
// subscription websocket endpoint, and the metrics endpoint on one
// listener.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/chattyapp/chatty-server/pkg/api"
	"github.com/chattyapp/chatty-server/pkg/bus"
	"github.com/chattyapp/chatty-server/pkg/config"
	obs "github.com/chattyapp/chatty-server/pkg/observability/prometheus"
	"github.com/chattyapp/chatty-server/pkg/schema"
	"github.com/chattyapp/chatty-server/pkg/store"
	"github.com/chattyapp/chatty-server/pkg/subs"
	"github.com/chattyapp/chatty-server/pkg/wsproto"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("configuration invalid")
	}
	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		log = log.Level(level)
	}

	st, err := store.Open(cfg.Database.Path, log)
	if err != nil {
		log.Fatal().Err(err).Msg("store open failed")
	}
	defer st.Close()

	b := bus.New(log, schema.Topics()...)
	engine := subs.NewEngine(schema.Default(), b, log)

	wsServer := wsproto.NewServer(engine, wsproto.Options{
		KeepaliveInterval: cfg.Subscriptions.KeepaliveInterval.Std(),
		InitTimeout:       cfg.Subscriptions.InitTimeout.Std(),
		QueueCapacity:     cfg.Subscriptions.QueueCapacity,
		OverflowWindow:    cfg.Subscriptions.OverflowWindow.Std(),
		OverflowLimit:     cfg.Subscriptions.OverflowLimit,
		WriteTimeout:      cfg.Subscriptions.WriteTimeout.Std(),
	}, log)
	apiServer := api.New(st, b, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/subscriptions", wsServer.HandleWebSocket)
	mux.Handle("/api/", apiServer.Routes())
	mux.Handle("/metrics", promhttp.HandlerFor(obs.DefaultRegistry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", cfg.Listen).Msg("server started")
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := wsServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("subscription shutdown incomplete")
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
}
