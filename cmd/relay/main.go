// Command relay runs the cloud relay: the WebSocket endpoints that
// broker messaging between robot devices and their owners' mobile
// apps. Wiring follows secure/tools/cmd/keyserver/main.go's shape —
// parse flags, build dependencies, construct one mux.Router, serve —
// generalized with graceful shutdown for the grace-timer teardown
// process lifecycle requires.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/pflag"
	"github.com/xmidt-org/sallust"
	"go.uber.org/zap"

	"github.com/wimz-robotics/cloud-relay/auth"
	"github.com/wimz-robotics/cloud-relay/config"
	"github.com/wimz-robotics/cloud-relay/connection"
	"github.com/wimz-robotics/cloud-relay/store/memstore"
	"github.com/wimz-robotics/cloud-relay/turn"
	"github.com/wimz-robotics/cloud-relay/wsrouter"
	"github.com/wimz-robotics/cloud-relay/xhttp"
)

func main() {
	flags := pflag.NewFlagSet("relay", pflag.ExitOnError)
	listenAddr := flags.String("listen-addr", "", "address to bind the HTTP server to")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.New(flags)
	if err != nil {
		panic(err)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	logger := sallust.Default()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := memstore.New()

	opts := &connection.Options{
		GracePeriod:          cfg.GracePeriod,
		RateLimitWindow:      cfg.RateLimitWindow,
		RateLimitMaxCommands: cfg.RateLimitMaxCommands,
		DiversityWindow:      cfg.DiversityWindow,
		DiversityThreshold:   cfg.DiversityThreshold,
		Logger:               logger,
	}

	mgr, err := connection.NewManager(ctx, st, st, opts, connection.NewMeasures(nil))
	if err != nil {
		logger.Fatal("failed to build connection manager", zap.Error(err))
	}
	defer mgr.Shutdown()

	hmacVerifier := auth.NewVerifier(cfg.DeviceHMACSecret)
	tokenCodec := auth.NewTokenCodec(cfg.TokenSigningKey, cfg.TokenLifetime)
	tokenCodec.Algorithm = cfg.TokenAlgorithm

	turnClient := turn.NewClient(cfg.TURNProviderURL, cfg.TURNProviderToken, retryingHTTPClient(cfg.TURNRetries, logger))

	router := wsrouter.NewRouter(mgr, hmacVerifier, tokenCodec, turnClient, st, st, st, logger)
	router.PingInterval = cfg.WSPingInterval
	router.PongTimeout = cfg.WSPongTimeout
	router.MaxFrameSize = int64(cfg.MaxFrameSize)
	router.SoftFrameSize = int64(cfg.SoftFrameSize)
	router.TURNTTL = cfg.TURNTTL
	router.StaleCommandAge = cfg.StaleCommandAge
	router.MaxConnections = cfg.MaxConnections

	m := mux.NewRouter()
	router.Routes(m)

	srv := xhttp.NewServer(xhttp.ServerOptions{
		Logger:  logger,
		Address: cfg.ListenAddr,
	})
	srv.Handler = m

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	start := xhttp.NewStarter(xhttp.StartOptions{Logger: logger}, srv)
	if err := start(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// retryingHTTPClient wraps the default transport's RoundTrip in
// xhttp.RetryTransactor so transient TURN-provider network failures (DNS,
// connection reset) get a couple of retries rather than failing the
// app's webrtc_request on the first blip.
func retryingHTTPClient(retries int, logger *zap.Logger) *http.Client {
	base := &http.Client{
		Timeout:       10 * time.Second,
		CheckRedirect: xhttp.CheckRedirect(xhttp.RedirectPolicy{Logger: logger}),
	}
	do := xhttp.RetryTransactor(xhttp.RetryOptions{
		Logger:      logger,
		Retries:     retries,
		ShouldRetry: xhttp.ShouldRetry,
	}, base.Do)

	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return do(r)
		}),
	}
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
