// Package host models the account-based runtime the EVM is embedded in:
// 32-byte account keys, lamport-holding cells with opaque data, program
// derived addresses and the native cross-program invocation facility.
package host

import (
	"bytes"
	"encoding/hex"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// PubkeyLength is the length of a host account key.
const PubkeyLength = 32

// Pubkey identifies a host account.
type Pubkey [PubkeyLength]byte

// BytesToPubkey sets b to the key. If b is larger than 32 bytes, it is
// cropped from the left.
func BytesToPubkey(b []byte) Pubkey {
	var p Pubkey
	if len(b) > len(p) {
		b = b[len(b)-PubkeyLength:]
	}
	copy(p[PubkeyLength-len(b):], b)
	return p
}

// ParsePubkey decodes a base58 encoded key.
func ParsePubkey(s string) (Pubkey, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Pubkey{}, errors.Wrapf(err, "decoding pubkey %q", s)
	}
	if len(raw) != PubkeyLength {
		return Pubkey{}, errors.Errorf("pubkey %q has %d bytes", s, len(raw))
	}
	return BytesToPubkey(raw), nil
}

// MustParsePubkey is ParsePubkey for constants.
func MustParsePubkey(s string) Pubkey {
	p, err := ParsePubkey(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Bytes returns the byte representation of the key.
func (p Pubkey) Bytes() []byte { return p[:] }

// String implements fmt.Stringer using the base58 text form.
func (p Pubkey) String() string { return base58.Encode(p[:]) }

// Hex returns the hex encoding of the key.
func (p Pubkey) Hex() string { return "0x" + hex.EncodeToString(p[:]) }

// IsZero reports whether p is the all-zero key.
func (p Pubkey) IsZero() bool { return p == Pubkey{} }

// Cmp compares two keys bytewise.
func (p Pubkey) Cmp(other Pubkey) int { return bytes.Compare(p[:], other[:]) }

// MarshalText implements encoding.TextMarshaler.
func (p Pubkey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Pubkey) UnmarshalText(input []byte) error {
	key, err := ParsePubkey(string(input))
	if err != nil {
		return err
	}
	*p = key
	return nil
}
