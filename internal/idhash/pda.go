// Package idhash derives the content-addressed identifiers of pools,
// questions, vaults, DAOs and their subsidiary accounts.
//
// Addresses are program-derived: SHA256(seeds || bump || program_id ||
// "ProgramDerivedAddress"), taking the highest bump whose hash is not a
// valid ed25519 point, so no private key can ever sign for them.
package idhash

import (
	"crypto/sha256"
	"errors"

	"filippo.io/edwards25519"

	"futarchy-core/internal/domain"
)

// MaxSeedLen is the longest seed accepted.
const MaxSeedLen = 32

const pdaMarker = "ProgramDerivedAddress"

var (
	// ErrSeedTooLong is returned for a seed longer than MaxSeedLen.
	ErrSeedTooLong = errors.New("seed exceeds 32 bytes")

	// ErrNoViableBump is returned when every bump lands on the curve.
	ErrNoViableBump = errors.New("no viable bump seed")
)

// FindProgramAddress returns the derived address and its bump.
func FindProgramAddress(seeds [][]byte, programID domain.Address) (domain.Address, uint8, error) {
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return domain.Address{}, 0, ErrSeedTooLong
		}
	}

	for bump := byte(255); bump > 0; bump-- {
		data := make([]byte, 0, 64*len(seeds)+len(pdaMarker)+33)
		for _, seed := range seeds {
			data = append(data, seed...)
		}
		data = append(data, bump)
		data = append(data, programID[:]...)
		data = append(data, pdaMarker...)

		hash := sha256.Sum256(data)
		if !IsOnCurve(hash[:]) {
			return domain.Address(hash), bump, nil
		}
	}
	return domain.Address{}, 0, ErrNoViableBump
}

// IsOnCurve reports whether point decodes as an ed25519 point.
func IsOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

// mustDerive is used with fixed-length seeds that cannot fail validation.
func mustDerive(programID domain.Address, seeds ...[]byte) domain.Address {
	addr, _, err := FindProgramAddress(seeds, programID)
	if err != nil {
		// 2^-255 odds; treat as a programming error.
		panic(err)
	}
	return addr
}
