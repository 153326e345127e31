// Package e2e runs account-service and transaction-service in process, each
// behind its own HTTP server, and drives them through their public APIs.
// Storage is in memory; Redis is miniredis; the transaction service reaches
// the account service through the real HTTP client.
package e2e
