package api

// APIError is the body of every non-2xx response. The sender decodes the
// same shape.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}
