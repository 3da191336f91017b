package common

// ResponseStatus is the outcome field carried by every response envelope
type ResponseStatus string

const (
	StatusSuccess ResponseStatus = "success"
	StatusFailure ResponseStatus = "failure"
)

// Response is the base envelope embedded in every service response
type Response struct {
	Status  ResponseStatus `json:"status"`
	Message string         `json:"message,omitempty"`
}

// OK returns a success envelope
func OK() Response {
	return Response{Status: StatusSuccess}
}

// Fail returns a failure envelope with the given message
func Fail(message string) Response {
	return Response{Status: StatusFailure, Message: message}
}
