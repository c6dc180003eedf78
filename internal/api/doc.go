// Package api provides the HTTP REST API and WebSocket server for
// PumpLink Core.
//
// It exposes pump administration, the operator command surface
// (start/stop/pause/resume) and the real-time streaming endpoint used by
// ward dashboards.
//
// # Architecture
//
//	HTTP (chi)
//	  /api/v1/health                     aggregate component health
//	  /api/v1/pumps                      registry CRUD
//	  /api/v1/pumps/{id}/infusions       operator commands → dispatcher.Service
//	  /api/v1/infusions/{id}             infusion lookup
//	  /api/v1/ws?token=                  WebSocket → stream.Broker
//
// Operator command responses are 202 Accepted: the durable transition and
// the publish have happened, but device confirmation arrives later over
// the stream. The error envelope distinguishes a rejected command
// (409 invalid_transition) from an undeliverable one
// (503 transport_unavailable).
//
// All routes except health require an HS256 bearer token verified
// against the configured secret and issuer; token issuance belongs to
// the deployment's identity service. The WebSocket endpoint takes the
// token as a query parameter because browsers cannot set headers on
// WebSocket dials.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
