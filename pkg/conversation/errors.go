package conversation

import "errors"

// Recovered-to-caller errors. Handlers map these to stable HTTP statuses;
// the core never retries them.
var (
	ErrPermissionDenied        = errors.New("permission denied")
	ErrConversationNotFound    = errors.New("conversation not found")
	ErrKeyOrListUserIDRequired = errors.New("key or list of user ids required")
)
