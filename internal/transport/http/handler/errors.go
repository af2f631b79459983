package handler

const (
	errInternalServer = "Internal server error"
	errInvalidBody    = "Invalid request body"
	errInvalidLogin   = "Invalid login"
	errUnauthorized   = "Unauthorized"
	errUserNotFound   = "User not found"
)
