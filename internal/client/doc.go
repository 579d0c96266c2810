// Package client is the execution-context side of the link: typed wrappers
// over the wire subjects with per-call budgets. Listing calls degrade to
// empty results on timeout so editor UIs stay responsive while the gateway
// session settles.
package client
