package ports

import "context"

// Logger is the structured logger every component receives. Only the first
// fields map is used.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	// Error logs err under the "error" field alongside msg.
	Error(ctx context.Context, err error, msg string, fields ...map[string]interface{})
}
