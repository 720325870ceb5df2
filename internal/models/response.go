// This file defines the API response envelope shared by HTTP handlers.

package models

// APIResponse is the uniform JSON envelope returned by HTTP endpoints.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success wraps a result in a success envelope.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: "ok", Result: result}
}

// SuccessWithMessage wraps a result and a human-readable message.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: "ok", Message: message, Result: result}
}

// Error builds an error envelope with the given message.
func Error(message string) APIResponse {
	return APIResponse{Status: "error", Message: message}
}
