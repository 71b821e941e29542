package protocol

import "encoding/json"

// ErrorCode identifies the type of a reported failure.
type ErrorCode string

const (
	ErrCodeUnknown         ErrorCode = "unknown"
	ErrCodeBadMessage      ErrorCode = "bad_message"      // malformed envelope or payload
	ErrCodeHandlerNotFound ErrorCode = "handler_not_found" // no handler at the event's path
	ErrCodeHandlerFailed   ErrorCode = "handler_failed"    // handler returned or panicked with an error
	ErrCodeTypeMismatch    ErrorCode = "type_mismatch"     // Set value violated a declared kind
	ErrCodeSequenceGap     ErrorCode = "sequence_gap"      // client observed a delta discontinuity
	ErrCodeLockTimeout     ErrorCode = "lock_timeout"      // background task waited too long for the state lock
	ErrCodeSessionExpired  ErrorCode = "session_expired"   // token no longer valid
	ErrCodeRateLimited     ErrorCode = "rate_limited"      // event queue full
	ErrCodeServerError     ErrorCode = "server_error"      // internal failure
)

// ErrorMessage reports a failure to the peer. Non-fatal errors leave the
// channel open: the session's state as of the last successful flush stays
// authoritative and the queue continues with the next event.
type ErrorMessage struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message,omitempty"`
	Fatal   bool      `json:"fatal,omitempty"`
}

// NewError creates a non-fatal ErrorMessage.
func NewError(code ErrorCode, message string) *ErrorMessage {
	return &ErrorMessage{Code: code, Message: message}
}

// NewFatalError creates an ErrorMessage after which the channel closes.
func NewFatalError(code ErrorCode, message string) *ErrorMessage {
	return &ErrorMessage{Code: code, Message: message, Fatal: true}
}

// Error implements the error interface.
func (em *ErrorMessage) Error() string {
	if em.Fatal {
		return "fatal: " + string(em.Code) + ": " + em.Message
	}
	return string(em.Code) + ": " + em.Message
}

// DecodeErrorMessage decodes an error payload.
func DecodeErrorMessage(raw json.RawMessage) (*ErrorMessage, error) {
	var em ErrorMessage
	if err := decodePayload(raw, &em); err != nil {
		return nil, err
	}
	if em.Code == "" {
		em.Code = ErrCodeUnknown
	}
	return &em, nil
}

// EncodeErrorMessage serializes an error message into its envelope.
func EncodeErrorMessage(em *ErrorMessage) []byte {
	return MustEncode(MsgError, em)
}
