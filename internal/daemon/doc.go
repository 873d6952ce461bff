// Package daemon hosts the long-running packetwatch process: it enforces
// single-instance execution with a file lock, runs the workflow scheduler,
// and serves the HTTP API the CLI and dashboard consume.
package daemon
