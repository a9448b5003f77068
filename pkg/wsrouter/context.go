package wsrouter

import "context"

type ctxKey string

const (
	messageTypeKey ctxKey = "message_type"
	refKey         ctxKey = "ref"
)

func GetMessageTypeFromCtx(ctx context.Context) string {
	messageType, _ := ctx.Value(messageTypeKey).(string)
	return messageType
}

// GetRefFromCtx returns the correlation ref of the message being handled.
func GetRefFromCtx(ctx context.Context) string {
	ref, _ := ctx.Value(refKey).(string)
	return ref
}
