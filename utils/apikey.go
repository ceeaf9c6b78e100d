package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

const apiKeyScheme = "lk"

var ErrMalformedAPIKey = errors.New("malformed api key")

// GenerateAPIKey returns a new integration key of the form lk_<prefix>_<secret>
// together with its lookup prefix and bcrypt hash. Only the hash is stored.
func GenerateAPIKey() (key, prefix, hash string, err error) {
	prefix, err = randomHex(6)
	if err != nil {
		return "", "", "", err
	}
	secret, err := randomHex(24)
	if err != nil {
		return "", "", "", err
	}
	key = apiKeyScheme + "_" + prefix + "_" + secret
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", errors.Wrap(err, "hash api key")
	}
	return key, prefix, string(hashed), nil
}

// APIKeyPrefix extracts the lookup prefix from a presented key.
func APIKeyPrefix(key string) (string, error) {
	parts := strings.Split(strings.TrimSpace(key), "_")
	if len(parts) != 3 || parts[0] != apiKeyScheme || parts[1] == "" || parts[2] == "" {
		return "", ErrMalformedAPIKey
	}
	return parts[1], nil
}

func VerifyAPIKey(hash, key string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "read random bytes")
	}
	return hex.EncodeToString(buf), nil
}
