// Package circuitbreaker implements the per-turn loop guard consulted after
// every recorded tool execution: it halts the tool-calling loop on a
// repeated error for the same tool, or on two consecutive identical
// results (loop detection).
package circuitbreaker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/mira-ai/mira/internal/models"
)

// Breaker accumulates an ordered record list for one turn. It is discarded
// when the turn ends — callers construct a fresh Breaker per turn.
type Breaker struct {
	records []models.BreakerRecord
}

// New returns an empty Breaker for one turn.
func New() *Breaker {
	return &Breaker{}
}

// HashResult produces the stable hex digest used to compare two tool
// results for equality without retaining the (possibly large) result text.
func HashResult(result string) string {
	sum := sha256.Sum256([]byte(result))
	return hex.EncodeToString(sum[:])
}

// Record appends one (tool_name, result_hash|"", error|nil) entry. Pass
// result when the tool succeeded (its hash is computed internally), or err
// when it failed; never both.
func (b *Breaker) Record(toolName string, result string, err error) {
	rec := models.BreakerRecord{ToolName: toolName}
	if err != nil {
		rec.Err = err
	} else {
		rec.ResultHash = HashResult(result)
	}
	b.records = append(b.records, rec)
}

// ShouldContinue reports whether the tool loop may proceed, and a reason
// string describing the decision:
//
//   - First call ever: (true, "First tool").
//   - The last record errored AND an earlier record for the *same* tool
//     also errored: (false, "Tool '<name>' failed after correction
//     attempt: <err>"). The first error for a tool is always allowed one
//     retry.
//   - The last two records both have non-empty, equal result hashes:
//     (false, "Repeated identical results") — loop detection.
//   - Otherwise: (true, "Continue").
func (b *Breaker) ShouldContinue() (bool, string) {
	n := len(b.records)
	if n == 0 {
		return true, "First tool"
	}

	last := b.records[n-1]

	if last.Err != nil {
		for i := 0; i < n-1; i++ {
			if b.records[i].ToolName == last.ToolName && b.records[i].Err != nil {
				return false, fmt.Sprintf("Tool '%s' failed after correction attempt: %v", last.ToolName, last.Err)
			}
		}
		return true, "Continue"
	}

	if n >= 2 {
		prev := b.records[n-2]
		if last.ResultHash != "" && prev.ResultHash != "" && last.ResultHash == prev.ResultHash {
			return false, "Repeated identical results"
		}
	}

	return true, "Continue"
}

// Records returns a copy of the accumulated record list, for logging.
func (b *Breaker) Records() []models.BreakerRecord {
	out := make([]models.BreakerRecord, len(b.records))
	copy(out, b.records)
	return out
}
