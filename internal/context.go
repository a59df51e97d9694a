package internal

import "context"

type ctxKey string

const ContextOperatorKey ctxKey = "operatorID"

// OperatorIDFromContext returns the authenticated operator, or "" when absent.
func OperatorIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if operatorID, ok := ctx.Value(ContextOperatorKey).(string); ok {
		return operatorID
	}
	return ""
}

func ContextWithOperatorID(ctx context.Context, operatorID string) context.Context {
	return context.WithValue(ctx, ContextOperatorKey, operatorID)
}
