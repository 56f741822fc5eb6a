// Package api implements the HTTP handlers of the analysis service.
//
// Handlers decode and validate requests, call the service layer and map its
// errors to status codes with a stable "kind" field (see errors.go). Route
// registration lives in cmd/server.
package api
