package dataprocessing

import (
	"fmt"
	"strings"
)

// SchemaError reports ledger columns that are missing from the input table entirely.
// It is the only error the reconciliation engine returns.
type SchemaError struct {
	Missing []string
}

// Error implements the error interface
func (e *SchemaError) Error() string {
	return fmt.Sprintf("ledger schema: missing required columns: %s", strings.Join(e.Missing, ", "))
}
