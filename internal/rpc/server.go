// Package rpc exposes the ledger over a JSON HTTP surface.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ledgerdb/ledgerdb/internal/chain"
	"github.com/ledgerdb/ledgerdb/internal/log"
	"github.com/ledgerdb/ledgerdb/internal/miner"
	"github.com/ledgerdb/ledgerdb/pkg/tx"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

// Server serves read queries and the submit/mine writer surface.
type Server struct {
	ledger     *chain.Chain
	httpServer *http.Server
}

// NewServer creates an RPC server over the ledger.
func NewServer(ledger *chain.Chain) *Server {
	return &Server{ledger: ledger}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /block/{ref}", s.handleBlock)
	mux.HandleFunc("GET /tx/{hash}", s.handleTx)
	mux.HandleFunc("GET /balance/{addr}", s.handleBalance)
	mux.HandleFunc("GET /utxos/{addr}", s.handleUTXOs)
	mux.HandleFunc("GET /mempool", s.handleMempool)
	mux.HandleFunc("POST /tx", s.handleSubmit)
	mux.HandleFunc("POST /mine", s.handleMine)
	mux.Handle("GET /metrics", promhttp.Handler())
	return logRequests(mux)
}

// Start begins serving on addr in a background goroutine.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.RPC.Error().Err(err).Msg("rpc server stopped")
		}
	}()
	log.RPC.Info().Str("addr", addr).Msg("rpc server listening")
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.RPC.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResp{Error: err.Error()})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	stats, err := s.ledger.Stats()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleBlock resolves {ref} as a height when numeric, a hash otherwise.
func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")

	if height, err := strconv.ParseUint(ref, 10, 64); err == nil {
		blk, err := s.ledger.GetBlockByHeight(height)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, blk)
		return
	}

	hash, err := types.HexToHash(ref)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("ref must be a height or block hash: %w", err))
		return
	}
	blk, err := s.ledger.GetBlock(hash)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, blk)
}

func (s *Server) handleTx(w http.ResponseWriter, r *http.Request) {
	hash, err := types.HexToHash(r.PathValue("hash"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	t, blockHash, err := s.ledger.GetTransaction(hash)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	resp := TxResp{Transaction: t, Pending: blockHash.IsZero()}
	if !blockHash.IsZero() {
		resp.BlockHash = &blockHash
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := types.ParseAddress(r.PathValue("addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResp{
		Address: addr.String(),
		Balance: s.ledger.GetBalance(addr),
	})
}

func (s *Server) handleUTXOs(w http.ResponseWriter, r *http.Request) {
	addr, err := types.ParseAddress(r.PathValue("addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ledger.GetUTXOs(addr))
}

func (s *Server) handleMempool(w http.ResponseWriter, _ *http.Request) {
	hashes := s.ledger.PendingHashes()
	writeJSON(w, http.StatusOK, MempoolResp{Count: len(hashes), Hashes: hashes})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var t tx.Transaction
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ledger.SubmitTransaction(&t); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitResp{TxHash: t.Hash()})
}

func (s *Server) handleMine(w http.ResponseWriter, r *http.Request) {
	var req MineReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	addr, err := types.ParseAddress(req.MinerAddress)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	blk, err := s.ledger.BuildBlock(addr)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	report, err := s.ledger.MineAndAppend(blk)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	resp := MineResp{
		Outcome:  report.Result.Outcome.String(),
		Appended: report.Appended,
		Attempts: report.Result.Attempts,
		HashRate: report.Result.HashRate,
	}
	if report.Result.Outcome == miner.Found {
		resp.Hash = report.Hash
		resp.Height = blk.Index
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusFor maps ledger errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, chain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chain.ErrNoGenesis):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
