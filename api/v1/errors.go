package v1

var (
	// common errors
	ErrSuccess             = newError(0, "ok")
	ErrBadRequest          = newError(400, "bad request")
	ErrUnauthorized        = newError(401, "unauthorized")
	ErrForbidden           = newError(403, "forbidden")
	ErrNotFound            = newError(404, "not found")
	ErrInternalServerError = newError(500, "internal server error")

	// migration errors
	ErrTaskNotFound        = newError(3001, "task not found")
	ErrTaskNotRunning      = newError(3002, "task is not running")
	ErrVMLocked            = newError(3003, "VM is locked by another operation")
	ErrInvalidMigration    = newError(3004, "invalid migration request")
	ErrInvalidTunnelTicket = newError(3005, "invalid tunnel ticket")
	ErrTunnelBusy          = newError(3006, "a tunnel for this VM is already open")
)
