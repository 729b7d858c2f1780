package http

import (
	"fmt"
	"time"

	"github.com/omenworks/omen/internal/domain"
)

// DetailLevel controls how much of a signal a response carries.
type DetailLevel string

const (
	// DetailMinimal is the id, title and headline numbers.
	DetailMinimal DetailLevel = "minimal"
	// DetailStandard is the full signal without the explanation chain.
	DetailStandard DetailLevel = "standard"
	// DetailFull adds the explanation chain and the attestation.
	DetailFull DetailLevel = "full"
)

// ParseDetailLevel validates the detail_level query parameter. Empty
// means standard.
func ParseDetailLevel(s string) (DetailLevel, error) {
	switch DetailLevel(s) {
	case "":
		return DetailStandard, nil
	case DetailMinimal, DetailStandard, DetailFull:
		return DetailLevel(s), nil
	default:
		return "", fmt.Errorf("unknown detail_level %q", s)
	}
}

// minimalView is the compact list projection of a signal.
type minimalView struct {
	SignalID        string                 `json:"signal_id"`
	Title           string                 `json:"title"`
	Category        domain.SignalCategory  `json:"category"`
	Probability     float64                `json:"probability"`
	ConfidenceLevel domain.ConfidenceLevel `json:"confidence_level"`
	GeneratedAt     time.Time              `json:"generated_at"`
}

// signalView projects a signal at the given detail level. Minimal and
// standard strip the explanation chain; only full carries it.
func signalView(signal domain.OmenSignal, level DetailLevel) interface{} {
	switch level {
	case DetailMinimal:
		return minimalView{
			SignalID:        signal.SignalID,
			Title:           signal.Title,
			Category:        signal.Category,
			Probability:     signal.Probability,
			ConfidenceLevel: signal.ConfidenceLevel,
			GeneratedAt:     signal.GeneratedAt,
		}
	case DetailFull:
		return signal
	default:
		redacted := signal
		redacted.Explanation = nil
		return redacted
	}
}

// signalViews projects a slice of signals.
func signalViews(signals []domain.OmenSignal, level DetailLevel) []interface{} {
	views := make([]interface{}, 0, len(signals))
	for _, s := range signals {
		views = append(views, signalView(s, level))
	}
	return views
}
