package api

// ErrorResponse is returned on caller errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ClassifiedError is returned on server-side failures.
type ClassifiedError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	TraceID string `json:"traceId"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ActionTestRequest is the body of POST /api/test/action.
type ActionTestRequest struct {
	ActionType   string            `json:"actionType" validate:"required"`
	MembershipID string            `json:"membershipId" validate:"required"`
	Params       map[string]string `json:"params"`
}

// BatchResponse is returned by POST /api/routes/batch.
type BatchResponse struct {
	Registered int `json:"registered"`
}
