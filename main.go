package main

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"icosale/api"
	"icosale/config"
	"icosale/internal/bank"
	"icosale/internal/host"
	"icosale/internal/logging"
	"icosale/internal/metrics"
	"icosale/internal/sales"
	"icosale/internal/store/levelstore"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Errorf("error loading config: %v", err))
	}
	logger, err := logging.New("icosale", cfg.Log)
	if err != nil {
		panic(fmt.Errorf("error building logger: %v", err))
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	program, err := cfg.ProgramKey()
	if err != nil {
		return err
	}
	mint, err := cfg.MintKey()
	if err != nil {
		return err
	}

	ledger := bank.New(program)
	var store sales.Storage = sales.NewLocalStorage()
	fresh := true
	if cfg.Storage.Backend == config.BackendLevelDB {
		ls, err := levelstore.Open(cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer ls.Close()
		state, err := ls.LoadBalances()
		if err != nil {
			return err
		}
		ledger.Restore(state)
		ledger.SetJournal(ls)
		store = ls
		fresh = state.Empty()
	}

	svc, err := sales.NewService(host.New(ledger, store, logger), sales.Config{
		ProgramID: program,
		Mint:      mint,
		Pricing:   cfg.Pricing,
	}, logger)
	if err != nil {
		return err
	}
	if err := ledger.OpenTokenAccount(svc.Holding(), mint, svc.Holding()); err != nil && !errors.Is(err, bank.ErrAccountExists) {
		return err
	}
	if fresh {
		if err := applyGenesis(ledger, svc, cfg.Genesis); err != nil {
			return err
		}
	} else {
		logger.Info("restored balances, skipping genesis", zap.String("path", cfg.Storage.Path))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	saleMetrics := metrics.New(registry)
	svc.SetEmitter(sales.MultiEmitter{sales.LogEmitter{Logger: logger}, saleMetrics})
	svc.SetObserver(saleMetrics)

	r := gin.New()
	r.Use(gin.Recovery())
	err = api.InitRoutes(r, api.Deps{
		Sales:     svc,
		Bank:      ledger,
		Gatherer:  registry,
		RateLimit: api.RateLimit(cfg.RateLimit),
		Auth: api.Auth{
			MaxSkew:        time.Duration(cfg.Auth.MaxSkewSeconds) * time.Second,
			NonceCacheSize: cfg.Auth.NonceCacheSize,
		},
		TrustedProxies: cfg.TrustedProxies,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	logger.Info("starting sale server",
		zap.String("listen", cfg.ListenAddress),
		zap.Stringer("program", program),
		zap.Stringer("mint", mint),
		zap.Stringer("holding", svc.Holding()),
		zap.String("storage", cfg.Storage.Backend),
	)
	if err := r.Run(cfg.ListenAddress); err != nil {
		return fmt.Errorf("error trying to start server: %v", err)
	}
	return nil
}

// applyGenesis funds configured wallets in a bank that started empty.
func applyGenesis(ledger *bank.Bank, svc *sales.Service, accounts []config.GenesisAccount) error {
	for _, g := range accounts {
		owner, err := solana.PublicKeyFromBase58(g.Owner)
		if err != nil {
			return err
		}
		if g.Lamports > 0 {
			if err := ledger.Deposit(owner, g.Lamports); err != nil {
				return err
			}
		}
		ata, err := svc.TokenAccount(owner)
		if err != nil {
			return err
		}
		if err := ledger.OpenTokenAccount(ata, svc.Mint(), owner); err != nil {
			return err
		}
		if g.Units == 0 {
			continue
		}
		raw, err := svc.Pricing().RawUnits(g.Units)
		if err != nil {
			return err
		}
		if err := ledger.MintTo(ata, raw); err != nil {
			return err
		}
	}
	return nil
}
