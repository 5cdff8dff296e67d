// Package services holds the application's business services.
//
// LedgerService owns ledger sessions: Load ingests a workbook, reconciles it
// and keeps the result under a session ID; the query methods (Rows, Filters,
// Pivot, Delta, Lapsed, Report) derive views from a session and memoize them
// in a cache.Store scoped to that session. HealthService reports liveness and
// readiness for the HTTP layer.
package services
