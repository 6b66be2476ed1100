package api

const (
	// Generic request/server errors
	CodeInvalidRequest   = "E_INVALID_REQUEST"    // bad or invalid request
	CodeRateLimited      = "E_RATE_LIMITED"       // rate limit exceeded
	CodeInternalError    = "E_INTERNAL_ERROR"     // internal server error
	CodeNotFound         = "E_NOT_FOUND"          // no such route
	CodeMethodNotAllowed = "E_METHOD_NOT_ALLOWED" // route exists, method does not

	// Collection errors
	CodeUnknownCollection = "E_UNKNOWN_COLLECTION" // game_name is not configured on this receiver

	// Storage errors
	CodeStorageFailed = "E_STORAGE_FAILED" // writing, indexing or evicting an archive failed
)
