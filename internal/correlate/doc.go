// Package correlate owns the cross-process correlation tables of the
// gateway: execution↔channel, placeholder↔message, and the placeholder
// waiting flags.
//
// # Ownership
//
// The gateway process is the single owner of every table. Execution
// contexts never touch them directly; all mutation arrives as link
// messages handled on the gateway side.
//
// # The finalize race
//
// A placeholder message is continuously edited by its animation loop.
// Any consumer wanting to finalize or delete the message must first claim
// it via FinalizePlaceholder, which removes the table entry (making a
// second finalizer a no-op) and then waits for the animation loop to
// yield, bounded by a retry budget so a stuck loop cannot deadlock the
// caller.
package correlate
