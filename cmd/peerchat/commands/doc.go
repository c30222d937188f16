// Package commands defines the peerchat CLI.
//
// Commands
//
//   - chat         Interactive end-to-end encrypted chat over a relay
//   - relay        Run the signaling relay
//   - fingerprint  Print the fingerprint of a fresh identity
//
// Every command reads peerchat.yaml (or --config) and PEERCHAT_* environment
// variables through package config before it runs; flags override both.
package commands
