/*
Package health verifies that the services an asset advertises are reachable.

Each enabled capability is checked with an HTTP GET on its endpoint
(LabelingPath or TrainingPath). When the check fails, a TCP dial on the same
port tells whether the host is down or the service itself is misbehaving,
and the result message says which.

The verdict is kept per asset and capability in a Status: one successful
check marks the capability verified, and a verified capability only loses
the flag after Config.Retries consecutive failures, so a single slow answer
does not flip it. The verdict, the time and the message are written to the
asset's capability block.

Verification is informational. The scheduler does not skip unverified
assets; operators use the flag to spot misconfigured ports.

	v := health.NewVerifier(store, broker, health.DefaultConfig())
	asset, err := v.Verify(ctx, assetID)
*/
package health
