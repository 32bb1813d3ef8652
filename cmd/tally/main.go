// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blinklabs-io/tally/internal/api"
	"github.com/blinklabs-io/tally/internal/balance"
	"github.com/blinklabs-io/tally/internal/config"
	"github.com/blinklabs-io/tally/internal/debounce"
	"github.com/blinklabs-io/tally/internal/fetch"
	"github.com/blinklabs-io/tally/internal/logging"
	"github.com/blinklabs-io/tally/internal/metrics"
	"github.com/blinklabs-io/tally/internal/position"
	"github.com/blinklabs-io/tally/internal/price"
	"github.com/blinklabs-io/tally/internal/provider"
	"github.com/blinklabs-io/tally/internal/storage"
	"github.com/blinklabs-io/tally/internal/txsubmit"
	"github.com/blinklabs-io/tally/internal/verify"
	"github.com/blinklabs-io/tally/internal/version"
	"github.com/blinklabs-io/tally/internal/wallet"
	"go.uber.org/automaxprocs/maxprocs"
)

const (
	programName = "tally"
)

var cmdlineFlags struct {
	configFile string
	version    bool
}

func main() {
	flag.StringVar(&cmdlineFlags.configFile, "config", "", "path to config file to load")
	flag.BoolVar(&cmdlineFlags.version, "version", false, "show version")
	flag.Parse()

	if cmdlineFlags.version {
		fmt.Printf("%s %s\n", programName, version.GetVersionString())
		os.Exit(0)
	}

	// Load config
	cfg, err := config.Load(cmdlineFlags.configFile)
	if err != nil {
		fmt.Printf("Failed to load config: %s\n", err)
		os.Exit(1)
	}

	// Configure logging
	logging.Configure()
	logger := logging.GetLogger()

	logger.Info(
		"starting",
		"version", version.GetVersionString(),
		"network", cfg.Network,
	)

	// Match GOMAXPROCS to the container CPU quota
	undo, err := maxprocs.Set(maxprocs.Logger(func(msg string, args ...any) {
		logger.Debug(fmt.Sprintf(msg, args...))
	}))
	defer undo()
	if err != nil {
		logger.Warn("failed to set GOMAXPROCS", "error", err)
	}

	// Start debug listener
	if cfg.Debug.ListenPort > 0 {
		debugAddr := fmt.Sprintf("%s:%d", cfg.Debug.ListenAddress, cfg.Debug.ListenPort)
		logger.Info("starting debug listener", "addr", debugAddr)
		go func() {
			debugServer := &http.Server{
				Addr:              debugAddr,
				ReadHeaderTimeout: 60 * time.Second,
			}
			if err := debugServer.ListenAndServe(); err != nil {
				logger.Error("failed to start debug listener", "error", err)
				os.Exit(1)
			}
		}()
	}

	// Load storage
	store := storage.GetStorage()
	if err := store.Load(); err != nil {
		logger.Error("failed to load storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close storage", "error", err)
		}
	}()

	m := metrics.Get()
	providerConfig := func(baseUrl string) provider.Config {
		return provider.Config{
			BaseUrl:   baseUrl,
			Timeout:   cfg.Providers.Timeout,
			RateLimit: cfg.Providers.RateLimit,
			Metrics:   m,
		}
	}
	chainClient := provider.NewChainClient(providerConfig(cfg.Providers.ChainUrl))

	balances := balance.NewCache(
		provider.NewBalanceClient(providerConfig(cfg.Providers.BalanceUrl)),
		balance.WithTTL(cfg.Balance.TTL),
		balance.WithStore(store),
		balance.WithMetrics(m),
	)

	positions := position.NewAggregator(chainClient, store)
	defer positions.Stop()

	prices := price.NewResolver(
		provider.NewMarketClient(providerConfig(cfg.Providers.MarketUrl)),
		chainClient,
		price.WithCacheTTL(cfg.Price.CacheTTL),
		price.WithSourceOrder(cfg.SourceOrder),
		price.WithOverrideStore(store),
		price.WithMetrics(m),
	)
	if err := prices.LoadOverrides(); err != nil {
		logger.Warn("failed to load price overrides", "error", err)
	}

	obligations, err := fetch.New[[]*position.Obligation](
		fetch.PolicyFromConfig(cfg.Retry),
		fetch.WithRetryRateLimit[[]*position.Obligation](cfg.Retry.RateLimit),
		fetch.WithMetrics[[]*position.Obligation](m),
	)
	if err != nil {
		logger.Error("invalid retry policy", "error", err)
		os.Exit(1)
	}

	debouncer := debounce.New(txsubmit.DefaultRefreshDelay)
	defer debouncer.Stop()

	verifier := verify.NewManager(
		cfg.Verify.Delay,
		cfg.Verify.TTL,
		verify.WithPollInterval(cfg.Verify.Interval),
	)
	defer verifier.Stop()

	wallet.Init(provider.NewWalletClient(providerConfig(cfg.Providers.WalletUrl)))
	session := wallet.GetSession()
	session.OnChange(func(account string) {
		// Connecting a different account starts with fresh obligation loads
		obligations.Invalidate("obligations:")
		logger.Info("wallet account changed", "account", account)
	})

	submitter := txsubmit.Start(txsubmit.Deps{
		Builder:     provider.NewBuilderClient(providerConfig(cfg.Providers.BuilderUrl)),
		Executor:    session,
		Balances:    balances,
		Positions:   positions,
		Prices:      prices,
		Verifier:    verifier,
		Debouncer:   debouncer,
		Metrics:     m,
		ExplorerUrl: cfg.Explorer.BaseUrl,
	})

	apiServer := api.New(api.Deps{
		Balances:    balances,
		Positions:   positions,
		Prices:      prices,
		Submitter:   submitter,
		Session:     session,
		Obligations: obligations,
	})
	apiServer.Start(fmt.Sprintf("%s:%d", cfg.Api.ListenAddress, cfg.Api.ListenPort))

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		logger.Error("failed to shut down API server", "error", err)
	}
}
