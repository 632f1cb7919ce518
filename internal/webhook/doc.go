// Package webhook accepts domain events over HTTP as an alternative to the
// RabbitMQ consumers. Every request must carry an HMAC-SHA256 signature of
// its body.
//
// # Request Flow
//
//  1. POST /events/{eventType} arrives
//  2. Body size checked (413 if too large)
//  3. Signature header verified in constant time (403 on any mismatch)
//  4. Body decoded as the named event (404 unknown type, 400 malformed)
//  5. Event handed to the dispatcher; the response lists per-policy outcomes
//
// The message id is taken from X-Message-Id when present, which lets a
// publisher retry without creating a second trace id.
//
// # Configuration
//
//	webhook:
//	  enabled: true
//	  listen: "127.0.0.1:8090"
//	  secret: ${ORCH_WEBHOOK_SECRET}
//	  max_body_size: 1MB
package webhook
