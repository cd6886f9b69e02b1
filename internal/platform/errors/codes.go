package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// CodeUnauthorized indicates missing or invalid credential material.
	CodeUnauthorized Code = "UNAUTHORIZED"

	// CodeNotFound indicates a requested record is missing.
	CodeNotFound Code = "NOT_FOUND"

	// Conversation validation codes.
	CodeConversationOwnerEmpty   Code = "CONVERSATION_OWNER_EMPTY"
	CodeConversationIDEmpty      Code = "CONVERSATION_ID_EMPTY"
	CodeConversationInvalidState Code = "CONVERSATION_INVALID_STATE"

	// Message validation codes.
	CodeMessageConversationEmpty Code = "MESSAGE_CONVERSATION_EMPTY"
	CodeMessageTextEmpty         Code = "MESSAGE_TEXT_EMPTY"
	CodeMessageTextTooLong       Code = "MESSAGE_TEXT_TOO_LONG"
	CodeMessageInvalidSenderRole Code = "MESSAGE_INVALID_SENDER_ROLE"
)
