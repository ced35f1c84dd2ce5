package utils

import "github.com/google/uuid"

// GenID returns a new random message id.
func GenID() string {
	return uuid.NewString()
}

// GenThreadID returns a new thread grouping key.
func GenThreadID() string {
	return "thread-" + uuid.NewString()
}
