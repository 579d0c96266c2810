// Package store persists gateway activity to SQLite: a bounded ring of
// recent log lines and an audit trail of webhook dispatch attempts.
package store
