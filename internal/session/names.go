package session

import (
	nanoid "github.com/jaevor/go-nanoid"
)

// nameAlphabet keeps generated names valid as DNS labels.
const nameAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

const nameLength = 12

// NewNameGenerator returns a generator of random lowercase site name
// suffixes.
func NewNameGenerator() (func() string, error) {
	return nanoid.CustomASCII(nameAlphabet, nameLength)
}
