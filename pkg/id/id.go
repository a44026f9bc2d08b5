package id

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

func Generate() string {
	return uuid.New().String()
}

func IsValidUUID(id string) (uuid.UUID, error) {
	return uuid.Parse(id)

}

// NewReference mints a transaction reference, unique per request and
// monotonic by wall clock.
func NewReference() string {
	return fmt.Sprintf("TXN-%d-%04d", time.Now().UnixNano(), rand.Intn(10000))
}

// PlatformFeeReference derives the reference of the hidden fee sibling from
// its parent's reference.
func PlatformFeeReference(parent string) string {
	return "PFEE" + parent
}
