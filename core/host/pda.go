package host

import (
	"crypto/sha256"

	"filippo.io/edwards25519"
	"github.com/pkg/errors"
)

const (
	// MaxSeeds is the maximum number of seeds in a derivation.
	MaxSeeds = 16
	// MaxSeedLength is the maximum length of a single seed.
	MaxSeedLength = 32

	pdaMarker = "ProgramDerivedAddress"
)

var (
	ErrMaxSeedLengthExceeded = errors.New("length of the seed is too long for address generation")
	ErrInvalidSeeds          = errors.New("provided seeds do not result in a valid address")
	ErrNoViableBump          = errors.New("unable to find a viable program address bump seed")
)

// CreateProgramAddress derives the address owned by program for the given
// seeds. The result is rejected when it lies on the ed25519 curve, since such
// an address could have a private key.
func CreateProgramAddress(seeds [][]byte, program Pubkey) (Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return Pubkey{}, ErrMaxSeedLengthExceeded
	}
	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return Pubkey{}, ErrMaxSeedLengthExceeded
		}
		h.Write(seed)
	}
	h.Write(program[:])
	h.Write([]byte(pdaMarker))

	var key Pubkey
	h.Sum(key[:0])
	if IsOnCurve(key[:]) {
		return Pubkey{}, ErrInvalidSeeds
	}
	return key, nil
}

// FindProgramAddress searches for the highest bump seed that makes the
// derivation fall off the curve, returning the address and the bump.
func FindProgramAddress(seeds [][]byte, program Pubkey) (Pubkey, uint8, error) {
	bumped := make([][]byte, len(seeds)+1)
	copy(bumped, seeds)

	bump := []byte{0}
	bumped[len(seeds)] = bump
	for b := 255; b >= 0; b-- {
		bump[0] = byte(b)
		key, err := CreateProgramAddress(bumped, program)
		switch {
		case err == nil:
			return key, byte(b), nil
		case errors.Is(err, ErrInvalidSeeds):
			continue
		default:
			return Pubkey{}, 0, err
		}
	}
	return Pubkey{}, 0, ErrNoViableBump
}

// IsOnCurve reports whether b is the encoding of a point on edwards25519.
func IsOnCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}
