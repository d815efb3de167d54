package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BonfaceGabriel/chapchat/cmd/internal/sellerapi"
)

// DevServer is the local seller API behind the standard middleware chain.
type DevServer struct {
	API     *sellerapi.Server
	Handler http.Handler
}

// NewDevServer builds the dev seller API from scfg and seeds the demo seller
// named in cfg.Dev.
func NewDevServer(ctx context.Context, cfg Config, scfg sellerapi.Config, log *slog.Logger) (*DevServer, error) {
	api, err := sellerapi.New(scfg, nil, log)
	if err != nil {
		return nil, err
	}
	sel, err := api.Seed(ctx, sellerapi.SellerInput{
		Username:    cfg.Dev.Seller,
		Password:    cfg.Dev.Password,
		Email:       cfg.Dev.Seller + "@example.com",
		CompanyName: cfg.Dev.Company,
	})
	if err != nil {
		return nil, fmt.Errorf("app: seed dev seller: %w", err)
	}
	log.Info("devserver.seeded", "seller", sel.Username, "seller_id", sel.ID)

	mux := http.NewServeMux()
	api.Register(mux)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return &DevServer{API: api, Handler: Wrap(mux, log)}, nil
}

// RunDevServer serves the dev seller API on cfg.Dev.Addr until ctx is done.
func RunDevServer(ctx context.Context, cfg Config, log *slog.Logger) error {
	scfg, err := sellerapi.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	dev, err := NewDevServer(ctx, cfg, scfg, log)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.Dev.Addr,
		Handler:           dev.Handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	err = serveHTTP(ctx, srv, log)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
