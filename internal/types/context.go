package types

import (
	"context"
)

// ContextKey is a type for the keys of values stored in the context
type ContextKey string

const (
	CtxRequestID ContextKey = "ctx_request_id"
	CtxUserID    ContextKey = "ctx_user_id"
	CtxUserEmail ContextKey = "ctx_user_email"
	CtxJWT       ContextKey = "ctx_jwt"

	// DefaultUserID is the actor recorded on rows created outside an
	// authenticated request (webhook and cron paths).
	DefaultUserID = "00000000-0000-0000-0000-000000000000"
)

const (
	HeaderRequestID     = "X-Request-ID"
	HeaderAuthorization = "Authorization"
	HeaderCronSecret    = "X-Cron-Secret"
	// HeaderGatewaySignature carries the HMAC the gateway signs event
	// payloads with
	HeaderGatewaySignature = "Stripe-Signature"
)

func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(CtxUserID).(string); ok {
		return userID
	}
	return ""
}

func GetUserEmail(ctx context.Context) string {
	if email, ok := ctx.Value(CtxUserEmail).(string); ok {
		return email
	}
	return ""
}

func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(CtxRequestID).(string); ok {
		return requestID
	}
	return ""
}

func GetJWT(ctx context.Context) string {
	if jwt, ok := ctx.Value(CtxJWT).(string); ok {
		return jwt
	}
	return ""
}

// SetUserID sets the user ID in the context
func SetUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, CtxUserID, userID)
}

// SetUserEmail sets the user email in the context
func SetUserEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, CtxUserEmail, email)
}

// SetRequestID sets the request ID in the context
func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, CtxRequestID, requestID)
}
