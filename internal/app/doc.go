// Package app wires the donor ledger service together and runs it.
//
// New builds every component from a config.Config: OpenTelemetry providers
// and ledger metrics, the result cache (memory or redis), the ledger and
// health services, the chi router with its middleware chain and the HTTP
// server. NewApplication does the same from the environment and config file.
//
// Run starts the server and the idle-session janitor, then blocks until
// SIGINT or SIGTERM (or a listen failure) and shuts everything down within
// the configured shutdown timeout.
package app
