/*
Package api serves the trainyard HTTP API with gin. Handlers are thin: they
parse the request, call pkg/manager and map errors to status codes.

	GET    /api/tasks[?status=marking,training]
	POST   /api/tasks                    create
	GET    /api/tasks/:id
	DELETE /api/tasks/:id
	POST   /api/tasks/:id/images         multipart, field "file" (repeatable)
	POST   /api/tasks/:id/submit
	POST   /api/tasks/:id/stop
	POST   /api/tasks/:id/restart        {"stage": "labeling"|"training"}
	POST   /api/tasks/:id/rollback       {"target": "new"|"submitted"|"marked"}
	GET    /api/tasks/:id/executions

	GET    /api/assets
	POST   /api/assets
	GET    /api/assets/:id
	PUT    /api/assets/:id
	DELETE /api/assets/:id
	POST   /api/assets/:id/verify

	GET    /api/events[?task_id=N]       server-sent events
	GET    /health  /ready  /metrics

Error mapping:

	storage.ErrNotFound                      404
	manager.ErrValidation, malformed input   400
	manager.ErrConflict, rollback.ErrInvalidTarget  409
	anything else                            500

Errors are returned as {"error": "..."}. Asset responses never include the
sealed SSH password.
*/
package api
