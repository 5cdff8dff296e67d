// Package config loads the ledger server configuration.
//
// Sources, lowest precedence first:
//
//  1. Default()
//  2. config.yaml (or configs/config.yaml)
//  3. LEDGER_* environment variables
//
// Environment variable names follow the struct layout, for example
// LEDGER_SERVER_PORT, LEDGER_LEDGER_MATCH_POLICY, LEDGER_CACHE_BACKEND or
// LEDGER_CACHE_REDIS_ADDR.
package config
