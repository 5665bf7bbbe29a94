package hasher

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrEmptyPassword = errors.New("password must not be empty or blank")

// Hasher hashes and verifies passwords with bcrypt.
type Hasher struct {
	cost int
}

// New returns a Hasher with the given bcrypt cost, clamped to the range
// bcrypt accepts. A non-positive cost selects bcrypt.DefaultCost.
func New(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{cost: cost}
}

func (h *Hasher) Hash(password string) ([]byte, error) {
	if strings.TrimSpace(password) == "" {
		return nil, ErrEmptyPassword
	}
	return bcrypt.GenerateFromPassword([]byte(password), h.cost)
}

// Verify reports whether password matches hash. A malformed hash never matches.
func (h *Hasher) Verify(hash []byte, password string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}
