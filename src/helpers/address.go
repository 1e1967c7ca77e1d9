package helpers

import (
	"bytes"
	"crypto/sha256"

	"github.com/mr-tron/base58"
)

// ledger account addresses use their own base58 alphabet
var ledgerAlphabet = base58.NewAlphabet("rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz")

const (
	accountIDPrefix  = 0x00
	familySeedPrefix = 0x21
)

var ed25519SeedPrefix = []byte{0x01, 0xE1, 0x4B}

// -----------------------------------------------------------------------------

// ValidateClassicAddress checks the encoding, version byte and checksum of an
// r-address. It returns ErrInvalidAddress on any mismatch.
func ValidateClassicAddress(address string) error {
	if len(address) < 25 || len(address) > 35 || address[0] != 'r' {
		return ErrInvalidAddress
	}

	raw, err := base58.DecodeAlphabet(address, ledgerAlphabet)
	if err != nil || len(raw) != 25 || raw[0] != accountIDPrefix {
		return ErrInvalidAddress
	}

	if !validChecksum(raw) {
		return ErrInvalidAddress
	}
	return nil
}

// -----------------------------------------------------------------------------

// ClassifySeed checks the encoding and checksum of a family seed and returns
// the key type it is meant for, "secp256k1" or "ed25519".
func ClassifySeed(seed string) (string, error) {
	if len(seed) < 25 || len(seed) > 35 || seed[0] != 's' {
		return "", ErrInvalidSeed
	}

	raw, err := base58.DecodeAlphabet(seed, ledgerAlphabet)
	if err != nil || !validChecksum(raw) {
		return "", ErrInvalidSeed
	}

	switch {
	case len(raw) == 21 && raw[0] == familySeedPrefix:
		return "secp256k1", nil
	case len(raw) == 23 && bytes.Equal(raw[:3], ed25519SeedPrefix):
		return "ed25519", nil
	}
	return "", ErrInvalidSeed
}

// validChecksum verifies the trailing double sha256 checksum
func validChecksum(raw []byte) bool {
	if len(raw) <= 4 {
		return false
	}
	payload, checksum := raw[:len(raw)-4], raw[len(raw)-4:]
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return bytes.Equal(second[:4], checksum)
}
