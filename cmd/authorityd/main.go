// Command authorityd boots the off-chain authority plane: the Match
// Authority Service, the Multisig Governance Core, and the Slashing Core,
// served over HTTP and WebSocket. Wiring follows the teacher's
// services/otc-gateway/main.go shape.
package main

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"matchguard/config"
	"matchguard/internal/chain"
	"matchguard/internal/events"
	"matchguard/internal/governance"
	"matchguard/internal/httpapi"
	"matchguard/internal/identity"
	"matchguard/internal/matchauthority"
	"matchguard/internal/slashing"
	"matchguard/internal/store/gormstore"
	"matchguard/internal/wsapi"
	"matchguard/observability/logging"
	telemetry "matchguard/observability/otel"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logging.Setup("authorityd", cfg.Env, cfg.LogFile)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "authorityd",
		Environment: cfg.Env,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		Headers:     cfg.OTLPHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatalf("database connection error: %v", err)
	}
	if err := gormstore.AutoMigrate(db); err != nil {
		log.Fatalf("auto migrate error: %v", err)
	}
	st := gormstore.New(db)

	// internal/chain.Gateway is a pure interface in this repo (spec
	// Non-goals exclude a real signing/RPC client); authorityd wraps the
	// fake with the production retry policy so the wiring this service
	// owns (backoff schedule, poller, reconciler) runs against something
	// chain-shaped.
	baseGateway := chain.NewFakeGateway()
	gw := chain.NewRetryingGateway(baseGateway, cfg.Global.ChainRetry)

	hub := events.NewHub()

	idOracle := identity.NewJWTOracle([]byte(cfg.JWTPublicKeyPEM), cfg.JWTIssuer, "", st)

	matchSvc := matchauthority.New(st, gw, hub, matchauthority.NoopSettlement{}, cfg.Global.InFlightTTL(),
		matchauthority.WithFinalizerRequiredStates(cfg.Global.Match.FinalizerRequiredStates))
	poller := matchauthority.NewPoller(st, gw, 5*time.Second, cfg.WorkerPoolSize)
	reconciler := matchauthority.NewReconciler(matchSvc, st, cfg.Global.ReconcileInterval())

	govCore := governance.New(st, gw, hub, int(cfg.Global.Governance.MaxSigners), cfg.Global.ProposalTTL())

	escrow := slashing.ChainEscrow{Gateway: gw, ContractID: "escrow_contract"}
	slashCore := slashing.New(st, escrow, hub)

	ws := wsapi.New(hub)
	apiServer := httpapi.New(matchSvc, govCore, slashCore, idOracle, ws)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go poller.Run(ctx)
	go reconciler.Run(ctx)

	handler := otelhttp.NewHandler(apiServer.Handler(), "authorityd")

	srv := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	log.Printf("starting authorityd on %s", cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && !strings.Contains(err.Error(), "Server closed") {
		log.Fatalf("server error: %v", err)
	}
}
