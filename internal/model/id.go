package model

import (
	"fmt"

	"github.com/google/uuid"
)

// NewRequestID creates a unique request/workflow identifier.
// Example: gen-7f9c24e8-3b2a-4d1e-9f6a-8c5b2d1e0f3a
func NewRequestID() string {
	return fmt.Sprintf("gen-%s", uuid.New().String())
}

// NewBatchID creates a unique batch workflow identifier.
func NewBatchID() string {
	return fmt.Sprintf("batch-%s", uuid.New().String())
}
