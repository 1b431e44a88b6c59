// Package api exposes the dispatch pipeline over HTTP: message submission,
// job inspection, the agent directory, health and Prometheus metrics.
package api
