// Package link implements the local RPC channel connecting execution
// contexts to the gateway process.
//
// Frames are JSON over a loopback WebSocket. Three frame types exist:
// request (carries an id), response (echoes the id), and push (no id,
// matched by subject). Pushes serve two purposes: follow-up notification
// after an asynchronous login, and broadcast to every connected context.
//
// The client side tolerates the gateway process not existing yet by
// redialing with a fixed backoff, and bounds every request with a timeout
// so a dead gateway degrades to "no answer" instead of a hung caller.
package link
