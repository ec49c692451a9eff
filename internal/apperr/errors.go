package apperr

var (
	ErrConversationNotFound   = NotFound("conversation not found")
	ErrMessageNotFound        = NotFound("message not found")
	ErrUserNotFound           = NotFound("user not found")
	ErrSelfConversation       = New(CodeSelfConversationRejected, "cannot create a conversation with yourself")
	ErrNoCurrentUser          = Unauthenticated("no current user")
	ErrNotMember              = Forbidden("not a conversation member")
	ErrBlankMessage           = InvalidArg("message content is empty")
	ErrMessageIDConflict      = InvalidArg("message id already used in another conversation")
	ErrInvalidConversationKey = InvalidArg("conversation requires two distinct members")
)
