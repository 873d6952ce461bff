// Package api defines the transport-facing read models and services shared by
// the HTTP server and the CLI. DTOs are plain JSON-friendly structs; services
// adapt storage reads into them without mutating anything.
package api
