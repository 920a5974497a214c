package models

// ErrorResponse is the standard error envelope
type ErrorResponse struct {
	Success bool  `json:"success"`
	Error   Error `json:"error"`
}

// Error represents error details
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// MessageResponse is a minimal success envelope
type MessageResponse struct {
	Message string `json:"message"`
}
