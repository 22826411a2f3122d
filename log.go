package wsauth

import (
	"os"

	"go.uber.org/zap"
)

func debugEnabled() bool {
	v := os.Getenv("DEBUG")
	return v != ""
}

// DefaultLogger returns a development logger when the DEBUG environment
// variable is set, and a no-op logger otherwise.
func DefaultLogger() *zap.Logger {
	if !debugEnabled() {
		return zap.NewNop()
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}

	return logger
}

func sessionFields(s *Session) []zap.Field {
	fields := []zap.Field{zap.String("session", s.id)}
	if s.CustomID != "" {
		fields = append(fields, zap.String("custom_id", s.CustomID))
	}
	return fields
}
