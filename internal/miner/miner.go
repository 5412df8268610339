// Package miner implements the proof-of-work nonce search.
package miner

import (
	"encoding/binary"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/ledgerdb/ledgerdb/internal/consensus"
	"github.com/ledgerdb/ledgerdb/pkg/block"
	"github.com/ledgerdb/ledgerdb/pkg/crypto"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

// Outcome classifies how a mining session ended.
type Outcome int

const (
	// Found means a nonce satisfying the target was discovered.
	Found Outcome = iota
	// Stopped means the cancellation flag was raised.
	Stopped
	// TimedOut means the session's wall-clock bound elapsed.
	TimedOut
	// AttemptsExhausted means the attempt bound was reached.
	AttemptsExhausted
)

// String returns a human-readable outcome name.
func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case Stopped:
		return "stopped"
	case TimedOut:
		return "timed out"
	case AttemptsExhausted:
		return "attempts exhausted"
	default:
		return "unknown"
	}
}

// Result describes a finished mining session.
type Result struct {
	Outcome  Outcome
	Nonce    uint64
	Hash     types.Hash
	Attempts uint64
	Elapsed  time.Duration
	HashRate float64 // attempts per second
}

// Progress is a point-in-time snapshot of a running session. Attempt
// counts are monotonically non-decreasing across snapshots.
type Progress struct {
	Nonce    uint64     `json:"nonce"`
	Attempts uint64     `json:"attempts"`
	HashRate float64    `json:"hash_rate"`
	Elapsed  float64    `json:"elapsed_seconds"`
	BestHash types.Hash `json:"best_hash"`
}

// Config bounds a mining session.
type Config struct {
	// ProgressInterval is how often progress snapshots are emitted.
	// Zero disables emission.
	ProgressInterval time.Duration
	// Timeout bounds the session wall clock (0 = unbounded).
	Timeout time.Duration
	// MaxAttempts bounds the nonce attempts (0 = unbounded).
	MaxAttempts uint64
}

// timeCheckMask controls how often the wall clock and progress limiter
// are consulted: every 1024 attempts.
const timeCheckMask = 0x3FF

// Miner searches the nonce space for a header hash meeting the target.
// A Miner may run one session at a time; Stop preempts the active session.
type Miner struct {
	cfg      Config
	stop     atomic.Bool
	progress *Broadcaster
}

// New creates a miner.
func New(cfg Config) *Miner {
	return &Miner{
		cfg:      cfg,
		progress: NewBroadcaster(),
	}
}

// Subscribe returns a channel of progress snapshots. Slow consumers lose
// messages; they never block the search.
func (m *Miner) Subscribe() (<-chan Progress, func()) {
	return m.progress.Subscribe()
}

// Stop raises the cancellation flag. The running session returns Stopped
// at its next check, bounded by one hash iteration.
func (m *Miner) Stop() {
	m.stop.Store(true)
}

// Mine iterates the nonce from 0 until the header hash meets the target
// implied by the header's difficulty. On success the winning nonce is
// written into the header. The header's non-nonce fields must be final.
func (m *Miner) Mine(h *block.Header) Result {
	m.stop.Store(false)

	target := consensus.Target(h.Difficulty)
	prefix := h.MiningPrefix()
	buf := make([]byte, len(prefix)+8)
	copy(buf, prefix)

	start := time.Now()
	var limiter *rate.Limiter
	if m.cfg.ProgressInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(m.cfg.ProgressInterval), 1)
	}

	best := types.Hash{}
	haveBest := false
	var attempts uint64

	finish := func(outcome Outcome, nonce uint64, hash types.Hash) Result {
		elapsed := time.Since(start)
		hashRate := 0.0
		if secs := elapsed.Seconds(); secs > 0 {
			hashRate = float64(attempts) / secs
		}
		return Result{
			Outcome:  outcome,
			Nonce:    nonce,
			Hash:     hash,
			Attempts: attempts,
			Elapsed:  elapsed,
			HashRate: hashRate,
		}
	}

	for nonce := uint64(0); ; nonce++ {
		if m.stop.Load() {
			return finish(Stopped, nonce, best)
		}
		if m.cfg.MaxAttempts > 0 && attempts >= m.cfg.MaxAttempts {
			return finish(AttemptsExhausted, nonce, best)
		}

		if nonce&timeCheckMask == 0 {
			if m.cfg.Timeout > 0 && time.Since(start) >= m.cfg.Timeout {
				return finish(TimedOut, nonce, best)
			}
			if limiter != nil && limiter.Allow() {
				elapsed := time.Since(start).Seconds()
				hashRate := 0.0
				if elapsed > 0 {
					hashRate = float64(attempts) / elapsed
				}
				m.progress.Publish(Progress{
					Nonce:    nonce,
					Attempts: attempts,
					HashRate: hashRate,
					Elapsed:  elapsed,
					BestHash: best,
				})
			}
		}

		binary.LittleEndian.PutUint64(buf[len(prefix):], nonce)
		hash := crypto.Sum(buf)
		attempts++

		if consensus.MeetsTarget(hash, target) {
			h.Nonce = nonce
			return finish(Found, nonce, hash)
		}

		if !haveBest || hash.Compare(best) < 0 {
			best = hash
			haveBest = true
		}

		if nonce == ^uint64(0) {
			return finish(AttemptsExhausted, nonce, best)
		}
	}
}
