package keys

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const keyLength = 32

// Purpose labels the cookie a derived key signs. Distinct purposes never share key material.
type Purpose string

const (
	PurposeMobileMarker Purpose = "authbridge mobile redirect marker"
	PurposeFlowState    Purpose = "authbridge oauth flow state"
)

// Derive expands secret into a 256-bit key bound to purpose.
func Derive(secret string, purpose Purpose) ([]byte, error) {
	if secret == "" {
		return nil, errors.New("[keys Derive] secret is required")
	}
	key := make([]byte, keyLength)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("[keys Derive] failed to derive key: %w", err)
	}
	return key, nil
}
