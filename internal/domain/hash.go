package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gowebpki/jcs"
)

// CanonicalJSON renders v as RFC 8785 (JCS) canonical JSON: object keys
// sorted, no insignificant whitespace, numbers in canonical form. Every
// hash and checksum in the system is computed over bytes produced here.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical transform: %w", err)
	}
	return out, nil
}

// HashHex returns the SHA-256 digest of b as lowercase hex.
func HashHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// TraceIDFor derives the deterministic per-event trace id. The same event
// under the same ruleset version always maps to the same trace id, which
// is what makes signal ids stable across replays.
func TraceIDFor(inputEventHash, rulesetVersion string) string {
	return HashHex([]byte(inputEventHash + rulesetVersion))
}

// SignalIDFromTrace formats the standard signal id for a trace.
func SignalIDFromTrace(traceID string) string {
	return "OMEN-" + strings.ToUpper(clip(traceID, 12))
}

// LiveSignalIDFromTrace formats the id used for signals produced by the
// live background generator. The distinct prefix keeps mode filtering a
// pure prefix test.
func LiveSignalIDFromTrace(traceID string) string {
	return LiveSignalPrefix + strings.ToUpper(clip(traceID, 8))
}

// LiveSignalPrefix marks signals generated by a live fetch cycle.
const LiveSignalPrefix = "OMEN-LIVE"

func clip(s string, n int) string {
	if len(s) < n {
		return s
	}
	return s[:n]
}

// fixed renders a float with exactly prec decimals. Hash payloads embed
// numbers as pre-formatted strings so canonicalization can never change
// their representation.
func fixed(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}
