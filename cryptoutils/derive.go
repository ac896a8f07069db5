package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

// DeriveP256Key deterministically derives a P-256 private key from secret
// material and a derivation label. The same inputs always produce the same
// key. Candidate scalars are drawn from an HKDF stream and rejected until
// one falls in [1, N), so the result is uniform over the group order.
func DeriveP256Key(secret, salt []byte, label string) (*ecdsa.PrivateKey, error) {
	if len(secret) == 0 {
		return nil, errors.New("derivation secret is empty")
	}

	kdf := hkdf.New(sha256.New, secret, salt, []byte(label))
	curve := elliptic.P256()
	n := curve.Params().N

	buf := make([]byte, 32)
	for attempt := 0; attempt < 128; attempt++ {
		if _, err := io.ReadFull(kdf, buf); err != nil {
			return nil, fmt.Errorf("failed to read derivation stream: %w", err)
		}

		d := new(big.Int).SetBytes(buf)
		if d.Sign() == 0 || d.Cmp(n) >= 0 {
			continue
		}

		privateKey := new(ecdsa.PrivateKey)
		privateKey.PublicKey.Curve = curve
		privateKey.D = d
		privateKey.PublicKey.X, privateKey.PublicKey.Y = curve.ScalarBaseMult(buf)
		return privateKey, nil
	}

	// Each candidate is rejected with probability under 2^-32.
	return nil, errors.New("derivation stream produced no valid scalar")
}

// MarshalPrivkey encodes an ECDSA private key into the PEM form the
// credential types carry.
func MarshalPrivkey(key *ecdsa.PrivateKey) (DevicePrivkey, error) {
	keyBytes, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "EC PRIVATE KEY",
		Bytes: keyBytes,
	})
	return NewDevicePrivkey(keyPEM)
}
