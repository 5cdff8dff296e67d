package dataprocessing

import (
	"donorpulse/pkg/contracts/domain"
)

// Normalizer defines the interface for ledger normalization
type Normalizer interface {
	// Normalize takes a raw ledger table and returns normalized rows
	Normalize(table *domain.RawTable) ([]domain.NormalizedRow, error)
}

// NormalizeOptions configures normalization behavior
type NormalizeOptions struct {
	// Parallel normalizes each sheet on its own goroutine
	Parallel bool

	// MaxWorkers caps the number of sheets normalized at once
	MaxWorkers int
}

// DefaultOptions returns default normalization options
func DefaultOptions() NormalizeOptions {
	return NormalizeOptions{
		Parallel:   true,
		MaxWorkers: 4,
	}
}
