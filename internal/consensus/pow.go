// Package consensus implements proof-of-work rules and block validation.
package consensus

import (
	"errors"
	"fmt"

	"github.com/ledgerdb/ledgerdb/config"
	"github.com/ledgerdb/ledgerdb/pkg/block"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

// PoW errors.
var (
	ErrInsufficientWork = errors.New("hash does not meet difficulty target")
	ErrZeroDifficulty   = errors.New("difficulty must be > 0")
	ErrBadDifficulty    = errors.New("block difficulty does not match expected")
)

// MaxDifficulty is the hard cap on difficulty bits (a 256-bit hash cannot
// have more than 255 leading zero bits and still leave a target).
const MaxDifficulty = 255

// Target returns the 32-byte upper bound for a hash at the given
// difficulty: the first `bits` bits are zero, all remaining bits are one.
func Target(bits uint32) types.Hash {
	var target types.Hash
	for i := range target {
		target[i] = 0xFF
	}
	if bits > MaxDifficulty {
		bits = MaxDifficulty
	}
	zeroBytes := int(bits / 8)
	remaining := bits % 8
	for i := 0; i < zeroBytes; i++ {
		target[i] = 0
	}
	if zeroBytes < types.HashSize && remaining > 0 {
		target[zeroBytes] = 0xFF >> remaining
	}
	return target
}

// MeetsTarget reports whether a candidate hash satisfies the target:
// lexicographic comparison, hash <= target.
func MeetsTarget(hash, target types.Hash) bool {
	return hash.Compare(target) <= 0
}

// VerifyHeader checks that the header hash meets the target implied by
// the header's own difficulty.
func VerifyHeader(h *block.Header) error {
	if h.Difficulty == 0 {
		return ErrZeroDifficulty
	}
	if !MeetsTarget(h.Hash(), Target(h.Difficulty)) {
		return fmt.Errorf("%w: hash=%s difficulty=%d", ErrInsufficientWork, h.Hash(), h.Difficulty)
	}
	return nil
}

// NextDifficulty computes the post-retarget difficulty:
// current * expectedSpan / actualSpan, with the actual span clamped to
// [expected/step, expected*step] so a single window can move difficulty
// by at most the configured step. The result stays in [1, MaxDifficulty].
func NextDifficulty(current uint32, actualSpan, expectedSpan int64, step uint64) uint32 {
	if current == 0 {
		current = 1
	}
	if actualSpan <= 0 {
		actualSpan = 1
	}
	if expectedSpan <= 0 {
		expectedSpan = 1
	}
	if step < 2 {
		step = 2
	}

	minSpan := expectedSpan / int64(step)
	if minSpan == 0 {
		minSpan = 1
	}
	maxSpan := expectedSpan * int64(step)
	if actualSpan < minSpan {
		actualSpan = minSpan
	}
	if actualSpan > maxSpan {
		actualSpan = maxSpan
	}

	// 64-bit intermediate cannot overflow: current <= 255 and spans are
	// clamped within step of one another.
	next := uint64(current) * uint64(expectedSpan) / uint64(actualSpan)
	// The span clamp truncates expected/step, so cap the result itself at
	// step times the current difficulty.
	if maxNext := uint64(current) * step; next > maxNext {
		next = maxNext
	}
	if next < 1 {
		next = 1
	}
	if next > MaxDifficulty {
		next = MaxDifficulty
	}
	return uint32(next)
}

// TimestampFn retrieves the timestamp of the block at a given height.
type TimestampFn func(height uint64) (uint64, error)

// ExpectedDifficulty computes the required difficulty for a block at the
// given height. Between retarget boundaries difficulty is constant; at a
// boundary (height a positive multiple of the retarget window) the actual
// elapsed time over the last window is compared to the target.
func ExpectedDifficulty(p config.Params, height uint64, prevDifficulty uint32, getTimestamp TimestampFn) uint32 {
	if height <= 1 || prevDifficulty == 0 {
		return p.InitialDifficulty
	}
	if height%p.RetargetWindow != 0 {
		return prevDifficulty
	}

	window := p.RetargetWindow
	startTS, err := getTimestamp(height - window)
	if err != nil {
		return prevDifficulty
	}
	endTS, err := getTimestamp(height - 1)
	if err != nil {
		return prevDifficulty
	}

	actual := int64(endTS) - int64(startTS)
	expected := int64(window) * int64(p.TargetBlockTime.Seconds())
	return NextDifficulty(prevDifficulty, actual, expected, p.RetargetMaxStep)
}

// VerifyDifficulty checks that a header's stated difficulty matches the
// value required by the retarget rule given chain history.
func VerifyDifficulty(p config.Params, h *block.Header, height uint64, prevDifficulty uint32, getTimestamp TimestampFn) error {
	expected := ExpectedDifficulty(p, height, prevDifficulty, getTimestamp)
	if h.Difficulty != expected {
		return fmt.Errorf("%w: height %d has difficulty %d, want %d",
			ErrBadDifficulty, height, h.Difficulty, expected)
	}
	return nil
}
