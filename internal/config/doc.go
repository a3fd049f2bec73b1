// Package config loads the inboxtriage configuration.
//
// Values are resolved in this order, later sources winning:
//   - built-in defaults
//   - environment variables (LOG_LEVEL, INBOXTRIAGE_ACCOUNT, LLM_PROVIDER,
//     ANTHROPIC_API_KEY, HISTORY_BACKEND, VALKEY_URL, the instrumentation
//     variables, ...)
//   - the YAML file (default ~/.config/inboxtriage/config.yaml)
//   - command line flags
package config
