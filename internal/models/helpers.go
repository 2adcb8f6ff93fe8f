package models

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

const orderNumberTokenLength = 9

// GenerateID generates a new unique record ID
func GenerateID() string {
	return uuid.NewString()
}

// GenerateEventID generates an identifier for an outbox event
func GenerateEventID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// NewOrderNumber builds a human-facing order identifier: ORD-<epoch millis>-<9 char base36 token>.
// The token comes from a random UUID so two calls in the same millisecond are still distinct.
func NewOrderNumber(at time.Time) string {
	return fmt.Sprintf("ORD-%d-%s", at.UnixMilli(), randomToken(orderNumberTokenLength))
}

func randomToken(n int) string {
	id := uuid.New()
	token := new(big.Int).SetBytes(id[:]).Text(36)

	if len(token) < n {
		token = strings.Repeat("0", n-len(token)) + token
	}
	return token[len(token)-n:]
}

// GetCurrentTime returns the current time in UTC
func GetCurrentTime() time.Time {
	return time.Now().UTC()
}
