// Package webhook delivers signed JSON requests to HTTP endpoints.
//
// A Sender makes exactly one attempt per Deliver call. Retrying belongs to the
// job queue: the returned error tells whether another attempt makes sense.
//
//	s := webhook.New(webhook.WithSecret(secret), webhook.WithCircuitBreaker(5, 2, 30*time.Second))
//	_, err := s.Deliver(ctx, webhook.Request{URL: url, Body: payload})
//	if webhook.IsPermanent(err) {
//		// do not retry
//	}
//
// # Signatures
//
// With a secret set, requests carry X-Jobqueue-Signature, X-Jobqueue-Timestamp
// and X-Jobqueue-Delivery headers. The signature is the hex HMAC-SHA256 of
// "<timestamp>.<body>". Receivers check it with Verify.
//
// # Circuit breaking
//
// WithCircuitBreaker keeps one breaker per host. After the failure threshold
// is reached Deliver returns ErrCircuitOpen without touching the network until
// the recovery timeout passes. 4xx responses do not count as failures.
package webhook
