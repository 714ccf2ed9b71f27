package booking

import (
	"crypto/rand"
	"strconv"
	"time"
)

const referenceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ReferenceGenerator produces booking references.  Uniqueness is enforced
// by the tickets table; a collision surfaces as ErrConcurrencyConflict.
type ReferenceGenerator func() (string, error)

// NewBookingReference returns TKT followed by the Unix time in milliseconds
// and five random upper-case alphanumerics.
func NewBookingReference() (string, error) {
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = referenceAlphabet[int(b[i])%len(referenceAlphabet)]
	}
	return "TKT" + strconv.FormatInt(time.Now().UnixMilli(), 10) + string(b), nil
}
