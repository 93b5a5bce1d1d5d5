package errkit

// This is compiling time check for interface implementation.
var _ error = Error("") //nolint: errcheck // OK here.

const (
	// ErrNotFound indicates that requested entity can not be found.
	ErrNotFound Error = "not found"

	// ErrInvalidArgument indicates that client has specified an invalid argument.
	ErrInvalidArgument Error = "invalid argument"

	// ErrUnauthenticated indicates the request does not have valid
	// authentication credentials to perform the operation.
	ErrUnauthenticated Error = "authentication failed"

	// ErrUnauthorized indicates the caller was identified but is not allowed
	// to perform the operation, e.g. an untrusted browser origin.
	ErrUnauthorized Error = "permission denied"

	// ErrMethodNotAllowed indicates an HTTP method the relay never accepts.
	ErrMethodNotAllowed Error = "method not allowed"

	// ErrPayloadTooLarge indicates a request body above the configured cap.
	ErrPayloadTooLarge Error = "payload too large"

	// ErrRateLimited indicates that the client exhausted its request quota.
	ErrRateLimited Error = "rate limit exceeded"

	// ErrUnavailable indicates that the service is currently unavailable.
	// This kind of error is retryable. Caller should retry with a backoff.
	ErrUnavailable Error = "temporarily unavailable"

	// ErrConnFailed shows that connection to a resource failed.
	ErrConnFailed Error = "connection failed"

	// ErrDeliveryFailed indicates that the mail provider did not accept the message.
	ErrDeliveryFailed Error = "delivery failed"

	// ErrInvalidID represents an error which indicates that given identifier is invalid.
	ErrInvalidID Error = "invalid identifier"

	// ErrValidation indicates that the data is not valid.
	ErrValidation Error = "validation failed"
)

// Error type represents package level errors.
type Error string

func (e Error) Error() string { return string(e) }
