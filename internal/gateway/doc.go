// Package gateway is the long-lived process that owns the single platform
// session and multiplexes it across every workflow that wants chat triggers
// or chat operations.
//
// Execution contexts never touch the platform library. They connect to the
// link server and speak subjects: credentials to request a login, trigger to
// register or replace a trigger, execution to announce an in-flight workflow
// run, and the send:* family to post messages, prompts, and moderation
// actions through the shared session. Listings (list:channels, list:roles)
// and bot:status round out the surface.
//
// Internally the gateway fans work out to focused components: the session
// manager funnels concurrent logins, the trigger registry keeps the
// per-channel dispatch index, the router matches platform events against it,
// the correlation engine tracks executions and placeholder messages, and the
// command debouncer coalesces slash-command re-registrations. The gateway
// itself only wires these together and translates link payloads.
package gateway
