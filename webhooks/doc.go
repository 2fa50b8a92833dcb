// Package webhooks verifies inbound provider deliveries and runs them through
// a dedupe ledger.
//
// A delivery moves processing -> processed, or processing -> retry_ready ->
// processing on redelivery, ending in dead once the attempt budget is spent.
// An expired processing lease makes the delivery claimable again.
package webhooks
