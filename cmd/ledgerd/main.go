// Command ledgerd runs the UTXO ledger daemon: storage, recovery, chain
// verification, optional mining, and the RPC surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ledgerdb/ledgerdb/config"
	"github.com/ledgerdb/ledgerdb/internal/chain"
	"github.com/ledgerdb/ledgerdb/internal/log"
	"github.com/ledgerdb/ledgerdb/internal/miner"
	"github.com/ledgerdb/ledgerdb/internal/rpc"
	"github.com/ledgerdb/ledgerdb/internal/storage"
	"github.com/ledgerdb/ledgerdb/pkg/crypto"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Default()

	var genesisAddr string
	flag.StringVar(&cfg.DataDir, "datadir", cfg.DataDir, "data directory")
	backend := flag.String("backend", string(cfg.Backend), "storage backend: badger or bolt")
	flag.BoolVar(&cfg.RPC.Enabled, "rpc", cfg.RPC.Enabled, "enable the RPC server")
	flag.StringVar(&cfg.RPC.Addr, "rpc-addr", cfg.RPC.Addr, "RPC listen address")
	flag.IntVar(&cfg.RPC.Port, "rpc-port", cfg.RPC.Port, "RPC listen port")
	flag.BoolVar(&cfg.Mining.Enabled, "mine", cfg.Mining.Enabled, "enable continuous mining")
	flag.StringVar(&cfg.Mining.Coinbase, "coinbase", cfg.Mining.Coinbase, "address receiving block rewards")
	flag.DurationVar(&cfg.Mining.Timeout, "mine-timeout", cfg.Mining.Timeout, "per-session mining timeout (0 = none)")
	flag.StringVar(&genesisAddr, "genesis-address", "", "address receiving the genesis subsidy (fresh chains only)")
	flag.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level: debug, info, warn, error")
	flag.BoolVar(&cfg.Log.JSON, "log-json", cfg.Log.JSON, "log JSON instead of colored console output")
	flag.StringVar(&cfg.Log.File, "log-file", cfg.Log.File, "also append JSON logs to this file")
	flag.Parse()

	cfg.Backend = config.StorageBackend(*backend)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerd: %v\n", err)
		return 1
	}
	if err := log.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerd: init logging: %v\n", err)
		return 1
	}

	db, err := openBackend(cfg)
	if err != nil {
		log.Logger.Error().Err(err).Msg("open storage")
		return 1
	}

	params := config.DefaultParams()
	minerCfg := miner.Config{
		ProgressInterval: cfg.Mining.ProgressInterval,
		Timeout:          cfg.Mining.Timeout,
		MaxAttempts:      cfg.Mining.MaxAttempts,
	}
	ledger, err := chain.Open(db, params, crypto.Ed25519Verifier{}, minerCfg)
	if err != nil {
		log.Logger.Error().Err(err).Msg("open chain")
		db.Close()
		return 1
	}
	defer ledger.Close()

	// Fresh chain: create genesis if an address was supplied.
	if _, err := ledger.Height(); errors.Is(err, chain.ErrNoGenesis) {
		addrStr := genesisAddr
		if addrStr == "" {
			addrStr = cfg.Mining.Coinbase
		}
		if addrStr == "" {
			log.Logger.Error().Msg("fresh chain: provide --genesis-address (or --coinbase) to initialize")
			return 1
		}
		addr, err := types.ParseAddress(addrStr)
		if err != nil {
			log.Logger.Error().Err(err).Msg("parse genesis address")
			return 1
		}
		if err := ledger.InitGenesis(addr, uint64(time.Now().Unix())); err != nil {
			log.Logger.Error().Err(err).Msg("init genesis")
			return 1
		}
		log.Chain.Info().Str("address", addr.String()).Msg("genesis created")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var server *rpc.Server
	if cfg.RPC.Enabled {
		server = rpc.NewServer(ledger)
		addr := fmt.Sprintf("%s:%d", cfg.RPC.Addr, cfg.RPC.Port)
		if err := server.Start(addr); err != nil {
			log.Logger.Error().Err(err).Msg("start rpc server")
			return 1
		}
	}

	go compactLoop(ctx, ledger)

	if cfg.Mining.Enabled {
		coinbase, err := types.ParseAddress(cfg.Mining.Coinbase)
		if err != nil {
			log.Logger.Error().Err(err).Msg("parse coinbase address")
			return 1
		}
		go mineLoop(ctx, ledger, coinbase)
		go logProgress(ctx, ledger)
	}

	<-ctx.Done()
	log.Logger.Info().Msg("shutting down")
	ledger.Miner().Stop()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.RPC.Warn().Err(err).Msg("rpc shutdown")
		}
	}
	return 0
}

// openBackend opens the configured embedded database.
func openBackend(cfg *config.Config) (storage.DB, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	switch cfg.Backend {
	case config.BackendBolt:
		return storage.NewBolt(filepath.Join(cfg.DataDir, "ledger.db"))
	default:
		return storage.NewBadger(filepath.Join(cfg.DataDir, "badger"))
	}
}

// mineLoop builds and mines blocks back to back until the context ends.
func mineLoop(ctx context.Context, ledger *chain.Chain, coinbase types.Address) {
	for ctx.Err() == nil {
		blk, err := ledger.BuildBlock(coinbase)
		if err != nil {
			log.Miner.Error().Err(err).Msg("build block")
			return
		}

		report, err := ledger.MineAndAppend(blk)
		switch {
		case err != nil && errors.Is(err, chain.ErrStaleTip):
			continue
		case err != nil:
			log.Miner.Error().Err(err).Msg("append mined block")
			return
		case report.Result.Outcome != miner.Found:
			// Stopped or bounded out; only a raised stop flag ends the loop.
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// compactLoop periodically drops committed journal entries past the
// retention window.
func compactLoop(ctx context.Context, ledger *chain.Chain) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := ledger.CompactJournal(chain.DefaultJournalRetention)
			if err != nil {
				log.Storage.Warn().Err(err).Msg("journal compaction")
				continue
			}
			if n > 0 {
				log.Storage.Info().Int("entries", n).Msg("journal compacted")
			}
		}
	}
}

// logProgress surfaces miner progress snapshots in the log.
func logProgress(ctx context.Context, ledger *chain.Chain) {
	progress, cancel := ledger.Miner().Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-progress:
			if !ok {
				return
			}
			log.Miner.Debug().
				Uint64("nonce", p.Nonce).
				Uint64("attempts", p.Attempts).
				Float64("hash_rate", p.HashRate).
				Str("best", p.BestHash.String()).
				Msg("mining")
		}
	}
}
