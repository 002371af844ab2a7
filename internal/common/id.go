package common

import (
	"github.com/google/uuid"
)

// NewSessionID generates a unique progress session ID
func NewSessionID() string {
	return uuid.New().String()
}
