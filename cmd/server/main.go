package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shielded-relay/relayer/internal/challenge"
	"github.com/shielded-relay/relayer/internal/circuitbreaker"
	"github.com/shielded-relay/relayer/internal/config"
	"github.com/shielded-relay/relayer/internal/cryptox"
	"github.com/shielded-relay/relayer/internal/httpserver"
	"github.com/shielded-relay/relayer/internal/idempotency"
	"github.com/shielded-relay/relayer/internal/lifecycle"
	"github.com/shielded-relay/relayer/internal/logger"
	"github.com/shielded-relay/relayer/internal/metrics"
	"github.com/shielded-relay/relayer/internal/payout"
	"github.com/shielded-relay/relayer/internal/relay/credit"
	"github.com/shielded-relay/relayer/internal/relay/direct"
	"github.com/shielded-relay/relayer/internal/settlement"
	"github.com/shielded-relay/relayer/internal/store"
	"github.com/shielded-relay/relayer/internal/verifier"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("load config: " + err.Error())
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Environment: cfg.Logging.Environment,
	})

	registry := prometheus.NewRegistry()
	metricsCollector := metrics.New(registry)

	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker).WithMetrics(metricsCollector)

	resources := lifecycle.NewManager()
	defer resources.Close()

	settlementStore, err := store.Open(cfg.Storage)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("open settlement store")
	}
	resources.Register("settlement-store", settlementStore)

	verifierAdapter, err := openVerifier(cfg, breakers, metricsCollector)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("open proof verifier")
	}

	settlementAdapter, err := openSettlement(cfg, breakers, metricsCollector)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("open settlement adapter")
	}

	creditSettler, err := openCreditSettlement(cfg, breakers, metricsCollector)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("open credit-channel settler")
	}

	payoutAdapter, err := payout.Open(cfg.Relayer, cfg.Chain, breakers)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("open payout adapter")
	}

	merchantPubKey := cryptox.Word(common.HexToAddress(cfg.Chain.VerifyingContract).Hash())
	challengeClient := &http.Client{Timeout: cfg.Relayer.MerchantForwardTimeout.Duration}
	bridge := challenge.New(challengeClient, challenge.RelayerIdentity{
		Network:           cfg.Chain.Network,
		MerchantPubKey:    merchantPubKey,
		VerifyingContract: common.HexToAddress(cfg.Chain.VerifyingContract),
	}, cfg.Relayer.ChallengeTTL.Duration)

	directProcessor := direct.New(verifierAdapter, settlementAdapter, payoutAdapter, settlementStore, bridge, cfg.Relayer).
		WithMetrics(metricsCollector)

	creditProcessor, err := credit.New(
		verifierAdapter,
		settlementAdapter,
		creditSettler,
		payoutAdapter,
		settlementStore,
		cfg.Relayer,
		cfg.Chain.RelayerPrivateKeyHex,
		"shielded-relay-credit-channel",
		cfg.Chain.ChainID,
		common.HexToAddress(cfg.Chain.VerifyingContract),
	)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("build credit-channel processor")
	}
	creditProcessor = creditProcessor.WithMetrics(metricsCollector)

	idempotencyStore := idempotency.NewMemoryStore()
	if cfg.Idempotency.CacheMaxSize > 0 {
		idempotencyStore = idempotency.NewMemoryStoreWithSize(cfg.Idempotency.CacheMaxSize)
	}

	srv := httpserver.New(cfg, directProcessor, creditProcessor, bridge, idempotencyStore, metricsCollector, appLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		appLogger.Info().Str("address", cfg.Server.Address).Msg("relayer listening")
		if err := srv.ListenAndServe(); err != nil && err.Error() != "http: Server closed" {
			appLogger.Error().Err(err).Msg("server error")
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	appLogger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	appLogger.Info().Msg("server exited")
}

func openVerifier(cfg *config.Config, breakers *circuitbreaker.Manager, metricsCollector *metrics.Metrics) (verifier.Verifier, error) {
	switch cfg.Chain.VerifierMode {
	case "", "stub":
		return verifier.NewStubVerifier().WithMetrics(metricsCollector), nil
	case "onchain":
		v := verifier.NewOnchainVerifier(cfg.Chain.VerifierRPCURL, common.HexToAddress(cfg.Chain.VerifyingContract), cfg.Chain.Network, breakers)
		return v.WithMetrics(metricsCollector), nil
	default:
		return nil, fmt.Errorf("config: unknown verifier_mode %q", cfg.Chain.VerifierMode)
	}
}

func openSettlement(cfg *config.Config, breakers *circuitbreaker.Manager, metricsCollector *metrics.Metrics) (settlement.ChannelSettler, error) {
	switch cfg.Chain.SettlementMode {
	case "", "stub":
		return settlement.NewStubAdapter(cfg.Chain.Network).WithMetrics(metricsCollector), nil
	case "onchain":
		a, err := settlement.NewOnchainAdapter(
			cfg.Chain.SettlementRPCURL,
			common.HexToAddress(cfg.Chain.SettlementContract),
			cfg.Chain.ChainID,
			cfg.Chain.RelayerPrivateKeyHex,
			cfg.Chain.Network,
			cfg.Chain.TxConfirmTimeout.Duration,
			breakers,
		)
		if err != nil {
			return nil, err
		}
		return a.WithMetrics(metricsCollector), nil
	default:
		return nil, fmt.Errorf("config: unknown settlement_mode %q", cfg.Chain.SettlementMode)
	}
}

func openCreditSettlement(cfg *config.Config, breakers *circuitbreaker.Manager, metricsCollector *metrics.Metrics) (settlement.CreditSettler, error) {
	switch cfg.Chain.CreditSettlementMode {
	case "", "stub":
		return settlement.NewStubCreditSettler(cfg.Chain.Network).WithMetrics(metricsCollector), nil
	case "onchain":
		a, err := settlement.NewOnchainCreditSettler(
			cfg.Chain.CreditSettlementRPCURL,
			common.HexToAddress(cfg.Chain.CreditSettlementContract),
			cfg.Chain.ChainID,
			cfg.Chain.RelayerPrivateKeyHex,
			cfg.Chain.Network,
			cfg.Chain.TxConfirmTimeout.Duration,
			breakers,
		)
		if err != nil {
			return nil, err
		}
		return a.WithMetrics(metricsCollector), nil
	default:
		return nil, fmt.Errorf("config: unknown credit_settlement_mode %q", cfg.Chain.CreditSettlementMode)
	}
}
