package kvchain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ledgerdb/ledgerdb/internal/log"
	"github.com/ledgerdb/ledgerdb/pkg/crypto"
)

// Server exposes the chain over a small JSON HTTP surface, mirroring the
// shell commands. Mining over HTTP runs without progress output.
type Server struct {
	chain *Chain

	mu     sync.RWMutex
	signer *crypto.Ed25519Signer

	httpServer *http.Server
}

// NewServer creates a server for the given chain.
func NewServer(chain *Chain) *Server {
	return &Server{chain: chain}
}

// SetSigner installs the signing key used by mutating endpoints.
func (s *Server) SetSigner(signer *crypto.Ed25519Signer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signer = signer
}

func (s *Server) currentSigner() *crypto.Ed25519Signer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.signer
}

// Start begins serving on addr in a background goroutine.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /get/{key}", s.handleGet)
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("GET /verify", s.handleVerify)
	mux.HandleFunc("POST /set", s.handleSet)
	mux.HandleFunc("POST /del", s.handleDel)
	mux.HandleFunc("POST /begin", s.handleBegin)
	mux.HandleFunc("POST /addput", s.handleAddPut)
	mux.HandleFunc("POST /adddel", s.handleAddDel)
	mux.HandleFunc("POST /commit", s.handleCommit)
	mux.HandleFunc("POST /abort", s.handleAbort)
	mux.HandleFunc("POST /difficulty", s.handleDifficulty)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           logRequests(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.RPC.Error().Err(err).Msg("kv server stopped")
		}
	}()
	log.RPC.Info().Str("addr", addr).Msg("kv server listening")
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

type messageResp struct {
	Message string `json:"message"`
}

type errorResp struct {
	Error string `json:"error"`
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	value, ok := s.chain.Get(key)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResp{Error: "not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.chain.Materialize())
}

func (s *Server) handleVerify(w http.ResponseWriter, _ *http.Request) {
	type verifyResp struct {
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
	}
	if err := s.chain.VerifyAll(); err != nil {
		writeJSON(w, http.StatusOK, verifyResp{OK: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, verifyResp{OK: true})
}

type setReq struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	signer := s.currentSigner()
	if signer == nil {
		writeJSON(w, http.StatusConflict, errorResp{Error: ErrNoKey.Error()})
		return
	}
	var req setReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if _, err := s.chain.AppendSigned([]Op{Put(req.Key, req.Value)}, signer, nil); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, messageResp{Message: "ok"})
}

type delReq struct {
	Key string `json:"key"`
}

func (s *Server) handleDel(w http.ResponseWriter, r *http.Request) {
	signer := s.currentSigner()
	if signer == nil {
		writeJSON(w, http.StatusConflict, errorResp{Error: ErrNoKey.Error()})
		return
	}
	var req delReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if _, err := s.chain.AppendSigned([]Op{Del(req.Key)}, signer, nil); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, messageResp{Message: "ok"})
}

func (s *Server) handleBegin(w http.ResponseWriter, _ *http.Request) {
	if err := s.chain.BeginBatch(); err != nil {
		writeJSON(w, http.StatusConflict, errorResp{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, messageResp{Message: "batch begun"})
}

func (s *Server) handleAddPut(w http.ResponseWriter, r *http.Request) {
	var req setReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if err := s.chain.AddPut(req.Key, req.Value); err != nil {
		writeJSON(w, http.StatusConflict, errorResp{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, messageResp{Message: "added"})
}

func (s *Server) handleAddDel(w http.ResponseWriter, r *http.Request) {
	var req delReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if err := s.chain.AddDel(req.Key); err != nil {
		writeJSON(w, http.StatusConflict, errorResp{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, messageResp{Message: "added"})
}

func (s *Server) handleCommit(w http.ResponseWriter, _ *http.Request) {
	signer := s.currentSigner()
	if signer == nil {
		writeJSON(w, http.StatusConflict, errorResp{Error: ErrNoKey.Error()})
		return
	}
	n, err := s.chain.CommitBatch(signer, nil)
	if err != nil {
		writeJSON(w, http.StatusConflict, errorResp{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, messageResp{Message: fmt.Sprintf("committed %d ops", n)})
}

func (s *Server) handleAbort(w http.ResponseWriter, _ *http.Request) {
	s.chain.AbortBatch()
	writeJSON(w, http.StatusOK, messageResp{Message: "aborted"})
}

func (s *Server) handleDifficulty(w http.ResponseWriter, r *http.Request) {
	var req struct {
		N int `json:"n"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if err := s.chain.SetDifficulty(req.N); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, messageResp{Message: fmt.Sprintf("difficulty set to %d", req.N)})
}
