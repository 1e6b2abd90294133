// Package config loads hypo-sim settings.
//
// Each layer overrides the one before it:
//   - built-in defaults
//   - a YAML file named by --config or HYPO_CONFIG
//   - a .env file (--env-file, HYPO_ENV_FILE, or ./.env when present)
//   - HYPO_* process environment variables
//   - command-line flags
//
// Variables already set in the process environment win over the same
// names in the .env file.
package config
