package password

import (
	"errors"

	"github.com/MrEthical07/goCred/internal"
)

const (
	upperChars   = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	lowerChars   = "abcdefghijkmnopqrstuvwxyz"
	digitChars   = "23456789"
	specialChars = "!@#$%^&*()-_=+[]{}<>?"
)

// MaxGeneratedLength bounds GenerateSecure output.
const MaxGeneratedLength = 256

// GenerateSecure returns a random password of the given length containing at least one
// uppercase letter, lowercase letter and digit, plus a special character when
// includeSpecial is set. The guaranteed characters are shuffled into random positions.
func GenerateSecure(length int, includeSpecial bool) (string, error) {
	sets := []string{upperChars, lowerChars, digitChars}
	if includeSpecial {
		sets = append(sets, specialChars)
	}
	if length < len(sets) || length > MaxGeneratedLength {
		return "", errors.New("invalid generated password length")
	}

	var alphabet string
	for _, s := range sets {
		alphabet += s
	}

	out := make([]byte, 0, length)
	for _, s := range sets {
		c, err := pick(s)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < length {
		c, err := pick(alphabet)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	// Fisher-Yates.
	for i := len(out) - 1; i > 0; i-- {
		j, err := internal.RandomIndex(i + 1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}

func pick(set string) (byte, error) {
	i, err := internal.RandomIndex(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}
