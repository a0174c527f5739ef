/*
Package remote talks to the labeling and training services running on
assets.

Both services are asynchronous. Submit posts a job and returns its id, Poll
reports progress until the job is terminal, and Cancel asks the service to
stop. The scheduler, monitor and rollback only see the Client interface, so
tests swap in remotetest.Client.

# Services

	Labeling (ComfyUI-style API)
	  Submit  POST {endpoint}/prompt             → {"prompt_id": "..."}
	  Poll    GET  {endpoint}/history/{id}       → status, messages, outputs
	  Cancel  POST {endpoint}/interrupt

	Training
	  Submit  POST {endpoint}/api/v1/jobs        → {"job_id": "..."}
	  Poll    GET  {endpoint}/api/v1/jobs/{id}   → state, progress, error
	  Cancel  POST {endpoint}/api/v1/jobs/{id}/cancel
	  Loss    GET  {endpoint}/api/v1/jobs/{id}/loss

A labeling job missing from the history is still queued and reports
progress -1 (unknown). Training progress is clamped to 0..100.
TrainingClient also implements LossReporter; the monitor stores the loss
curve on the execution record when a training job completes.

# Errors

Non-2xx responses become *StatusError carrying the code and a trimmed body.
A submit response without a job id is ErrNoJobID. Each call has its own
timeout from Options (submit 60s, poll and cancel 15s by default).

# Rate limiting

All calls of one client share a golang.org/x/time/rate limiter, 20
requests per second with a burst of 10 by default, so a large fleet of
monitors cannot flood the services. A RateLimit of 0 disables it.
*/
package remote
