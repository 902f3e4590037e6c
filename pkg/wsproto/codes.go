package wsproto

// Error codes carried in error frame payloads. They are part of the wire
// contract.
const (
	CodeInvalidOperation      = "INVALID_OPERATION"
	CodeValidationError       = "VALIDATION_ERROR"
	CodeUnknownSubscription   = "UNKNOWN_SUBSCRIPTION"
	CodeDuplicateSubscription = "DUPLICATE_SUBSCRIPTION"
	CodeSlowConsumer          = "SLOW_CONSUMER"
	CodeProtocolError         = "PROTOCOL_ERROR"
	CodeInternalError         = "INTERNAL_ERROR"
)
