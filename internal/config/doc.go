// Package config handles configuration loading for discgate.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults; discgate runs with
// no config file at all using Default().
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	workflow:
//	  base_url: "${DISCGATE_WORKFLOW_URL}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	timing:
//	  command_debounce: "500ms"
//	  placeholder_tick: "800ms"
//	  finalize_retry_delay: "300ms"
//	  status_poll_interval: "3s"
//
// # Configuration Sections
//
// Link listener:
//
//	link:
//	  addr: "127.0.0.1:9131"
//
// Workflow engine:
//
//	workflow:
//	  base_url: "http://localhost:5678"
//	  test_mode: false
//
// Activity store:
//
//	database:
//	  path: "/var/lib/discgate/activity.db"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
