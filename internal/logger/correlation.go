package logger

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateCorrelationID returns a new random (v4) UUID string.
func GenerateCorrelationID() string {
	return uuid.NewString()
}

// GenerateShortID returns a 16 character hex ID for compact log lines.
func GenerateShortID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:16]
}
