package resputil

type ErrorCode int

const (
	OK ErrorCode = 0

	// General
	InvalidRequest ErrorCode = 40001

	// Token
	TokenExpired ErrorCode = 40101
	TokenInvalid ErrorCode = 40102

	// Login
	InvalidCredentials ErrorCode = 40103
	UserInactive       ErrorCode = 40104

	// User is not allowed to access the resource
	UserNotAllowed ErrorCode = 40301

	// Workflow
	InvalidState       ErrorCode = 40901
	BackendUnavailable ErrorCode = 50301
	BackendRejected    ErrorCode = 50302

	// Indicates laziness of the developer
	// Frontend will directly print the message without any translation
	NotSpecified ErrorCode = 99999
)
