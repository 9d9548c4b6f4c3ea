package uid

import "github.com/google/uuid"

// New generates a random identifier.
func New() string {
	return uuid.New().String()
}

// NewOrdered generates a time-ordered (version 7) identifier, so run ids sort
// by creation time. It falls back to a random id if the clock read fails.
func NewOrdered() string {
	id, err := uuid.NewV7()
	if err != nil {
		return New()
	}
	return id.String()
}

// IsValid checks if a string is a valid UUID.
func IsValid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
