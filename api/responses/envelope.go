package responses

// SuccessBody is the {"data": ...} wrapper of every successful response.
type SuccessBody struct {
	Data any `json:"data"`
}

// ErrorDetail is the public view of a failed request. The checkout bridge
// shows Message to the payer; RequestID matches the X-Request-Id header.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// ErrorBody is the {"error": {...}} wrapper of every failed response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}
