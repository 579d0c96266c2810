// Package chat defines the boundary between discgate and the chat platform.
//
// The concrete platform library is an external collaborator. Everything the
// gateway needs from it is expressed through the Client interface and the
// closed Event union; an adapter at the platform boundary converts raw
// library payloads into typed events before the router sees them.
//
// # Single guild
//
// The gateway serves exactly one guild per process. Channel and role
// listings, role mutations, and command registration all act on the first
// guild of the session. Multi-tenant support would require keying every
// correlation table by guild id and is deliberately out of scope.
package chat
