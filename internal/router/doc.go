// Package router evaluates inbound platform events against the trigger
// registry and dispatches each match to its workflow webhook.
//
// Matching is a two-stage predicate: a role allow-list gate first, then a
// kind-specific condition (content regex, command name, message identity,
// presence status, or plain membership). Delivery failures deactivate the
// failing trigger and never interrupt evaluation of the other candidates.
package router
