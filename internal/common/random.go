package common

import (
	"crypto/rand"
	"encoding/binary"
	"strconv"
)

// MakeRandDecimalToken returns the decimal rendering of a crypto-random
// 64-bit unsigned integer. Used for sharing tokens.
func MakeRandDecimalToken() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return strconv.FormatUint(binary.BigEndian.Uint64(b[:]), 10), nil
}
