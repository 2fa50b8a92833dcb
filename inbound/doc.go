// Package inbound moves verified provider webhooks onto a job queue and
// processes them in background workers.
//
// The HTTP request is acknowledged once the delivery is verified and
// enqueued. Workers verify the carried raw bytes again, claim the delivery in
// the dedupe ledger and run the provider's handler; a failure never reaches
// the original HTTP response.
package inbound
