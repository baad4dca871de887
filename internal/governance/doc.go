// Package governance holds the outbound safety controls of the Anchor client:
// retry classification, exponential backoff, Retry-After parsing and
// client-side request throttling.
//
// The request layer owns the attempt loop; this package only answers the
// questions the loop asks (retry or not, how long to wait, may I send now)
// so each control can be tested without a network.
package governance
