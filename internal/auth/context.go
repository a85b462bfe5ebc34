package auth

import "context"

type ctxKey string

const (
	clientKey ctxKey = "clientID"
	vinKey    ctxKey = "vin"
)

func WithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, clientKey, id)
}

// ClientID returns the authenticated rider id, or "" outside a rider request.
func ClientID(ctx context.Context) string {
	if v, ok := ctx.Value(clientKey).(string); ok {
		return v
	}
	return ""
}

func WithVIN(ctx context.Context, vin string) context.Context {
	return context.WithValue(ctx, vinKey, vin)
}

// VIN returns the authenticated telematics VIN, or "" outside a car request.
func VIN(ctx context.Context) string {
	if v, ok := ctx.Value(vinKey).(string); ok {
		return v
	}
	return ""
}
