package ports

import "context"

// Logger is the structured logging port used by sessions, adapters and commands.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	// Error logs err alongside msg.
	Error(ctx context.Context, err error, msg string, fields ...map[string]interface{})
}
