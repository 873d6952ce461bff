// Package logs reads the daemon log file for the API log endpoint and the
// CLI logs command. Reads are offset-based so a follower can poll without
// re-reading the whole file.
package logs
