// Package webhooks verifies and decodes billing webhook deliveries and hands
// them to the billing event handler.
//
// Dedupe is owned by the processed-event store behind the handler, so a
// redelivered event is acknowledged with 200 without touching the gateway.
// Status codes: 200 processed or deduped, 400 undecodable or invalid payload,
// 401 bad signature, 500 anything retryable.
package webhooks
