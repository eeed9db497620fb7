// Package api exposes the job lifecycle over HTTP. It translates requests into
// calls on the job manager and maps domain errors to status codes without
// leaking internal details.
package api
