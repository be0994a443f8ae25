// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package xeddsa implements XEdDSA, a Schnorr signature scheme that signs
// and verifies using X25519 Montgomery key material by deriving a matching
// scalar and point on the birationally equivalent Edwards curve.
//
// Both the signing and verifying paths converge on the same canonical
// Edwards verification key: the sign bit of its compressed form is always
// forced to zero, so a given X25519 key pair always maps to exactly one
// XEdDSA verification key regardless of which side derives it.
package xeddsa

import (
	"bytes"
	"crypto/sha512"
	"crypto/subtle"
	"fmt"
	"math/big"

	"filippo.io/edwards25519"
	"filippo.io/edwards25519/field"
)

// fieldPrime is p = 2^255 - 19, the order of the field Curve25519 and
// edwards25519 are both defined over.
var fieldPrime = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(19))

// SignatureSize is the length in bytes of an XEdDSA signature: a compressed
// Edwards point R followed by a little-endian scalar s.
const SignatureSize = 64

// NonceSize is the required length of the random nonce Z supplied to Sign.
const NonceSize = 64

// derive computes the XEdDSA verification key and signing scalar for an
// X25519 private key k: it places k on the Edwards curve as E = k*B, and
// negates the resulting scalar whenever E's x-coordinate is odd so that the
// compressed verification key always carries a zero sign bit.
func derive(xPriv []byte) (A []byte, a *edwards25519.Scalar, err error) {
	if len(xPriv) != 32 {
		return nil, nil, fmt.Errorf("xeddsa: X25519 private key must be 32 bytes")
	}

	k, err := edwards25519.NewScalar().SetBytesWithClamping(append([]byte{}, xPriv...))
	if err != nil {
		return nil, nil, err
	}

	e := edwards25519.NewIdentityPoint().ScalarBaseMult(k)
	encoded := e.Bytes()

	xOdd := encoded[31]&0x80 != 0

	A = append([]byte{}, encoded...)
	A[31] &= 0x7F

	if xOdd {
		a = edwards25519.NewScalar().Negate(k)
	} else {
		a = k
	}

	return A, a, nil
}

// CalculatePublicKey derives the XEdDSA verification key corresponding to
// an X25519 private key. Sign and Verify perform this conversion
// internally; this is exposed for diagnostics and self-consistency checks.
func CalculatePublicKey(xPriv []byte) ([]byte, error) {
	A, _, err := derive(xPriv)
	return A, err
}

// montgomeryToEdwardsY converts an X25519 Montgomery u-coordinate to the
// y-coordinate of the birationally equivalent Edwards point, via
// y = (u-1)/(u+1) mod p.
func montgomeryToEdwardsY(u *field.Element) *field.Element {
	one := new(field.Element).One()
	num := new(field.Element).Subtract(u, one)
	den := new(field.Element).Add(u, one)
	denInv := new(field.Element).Invert(den)
	return new(field.Element).Multiply(num, denInv)
}

// montgomeryToEdwardsPoint converts an X25519 public key to its canonical
// XEdDSA verification-key encoding: the compressed Edwards point sharing
// its u-coordinate, with the sign bit forced to zero so that x is the even
// root of the curve equation, exactly mirroring the convention derive uses
// for the signing side.
func montgomeryToEdwardsPoint(xPub []byte) (point *edwards25519.Point, encoded []byte, err error) {
	if len(xPub) != 32 {
		return nil, nil, fmt.Errorf("xeddsa: X25519 public key must be 32 bytes")
	}

	if new(big.Int).SetBytes(reverseBytes(xPub)).Cmp(fieldPrime) >= 0 {
		return nil, nil, fmt.Errorf("xeddsa: X25519 public key is not a canonical field element")
	}

	u, err := new(field.Element).SetBytes(xPub)
	if err != nil {
		return nil, nil, err
	}

	y := montgomeryToEdwardsY(u)
	encoded = y.Bytes()
	encoded[31] &= 0x7F

	point, err = edwards25519.NewIdentityPoint().SetBytes(encoded)
	if err != nil {
		return nil, nil, fmt.Errorf("xeddsa: public key does not correspond to a point on the curve: %w", err)
	}

	return point, encoded, nil
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// hashPrefixed computes H_i(data) = SHA-512(prefix_i || data), where
// prefix_i is 32 bytes of 0xFF with the first byte replaced by 0xFF-i. The
// distinct prefixes domain-separate XEdDSA's two internal hash calls from
// each other and from ordinary EdDSA / X25519 usage of the same key.
func hashPrefixed(i byte, parts ...[]byte) []byte {
	prefix := bytes.Repeat([]byte{0xFF}, 32)
	prefix[0] = 0xFF - i

	h := sha512.New()
	h.Write(prefix)
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// Sign produces an XEdDSA signature over message using the X25519 private
// key xPriv. z must be NonceSize bytes of randomness, fresh for every
// signature; the per-signature nonce r is derived by hashing the signing
// scalar, the message and z together.
func Sign(xPriv, message, z []byte) ([]byte, error) {
	if len(z) != NonceSize {
		return nil, fmt.Errorf("xeddsa: nonce must be %d bytes", NonceSize)
	}

	A, a, err := derive(xPriv)
	if err != nil {
		return nil, err
	}

	r, err := edwards25519.NewScalar().SetUniformBytes(hashPrefixed(1, a.Bytes(), message, z))
	if err != nil {
		return nil, err
	}

	R := edwards25519.NewIdentityPoint().ScalarBaseMult(r).Bytes()

	h, err := edwards25519.NewScalar().SetUniformBytes(hashPrefixed(0, R, A, message))
	if err != nil {
		return nil, err
	}

	s := edwards25519.NewScalar().MultiplyAdd(h, a, r)

	sig := make([]byte, 0, SignatureSize)
	sig = append(sig, R...)
	sig = append(sig, s.Bytes()...)
	return sig, nil
}

// Verify reports whether sig is a valid XEdDSA signature over message under
// the X25519 public key xPub.
func Verify(xPub, message, sig []byte) bool {
	if len(sig) != SignatureSize {
		return false
	}

	R := sig[:32]
	sBytes := sig[32:64]

	// s >= 2^253 is rejected outright, per XEdDSA's verification rules.
	if sBytes[31]&0xE0 != 0 {
		return false
	}

	s, err := edwards25519.NewScalar().SetCanonicalBytes(sBytes)
	if err != nil {
		return false
	}

	A, encodedA, err := montgomeryToEdwardsPoint(xPub)
	if err != nil {
		return false
	}

	// SetBytes below rejects an R that does not decode to a point on the
	// curve. A non-canonical encoding of R is rejected by the final
	// comparison against the canonical encoding of the computed point.
	if _, err := edwards25519.NewIdentityPoint().SetBytes(R); err != nil {
		return false
	}

	h, err := edwards25519.NewScalar().SetUniformBytes(hashPrefixed(0, R, encodedA, message))
	if err != nil {
		return false
	}

	negH := edwards25519.NewScalar().Negate(h)
	check := edwards25519.NewIdentityPoint().VarTimeDoubleScalarBaseMult(negH, A, s)

	return subtle.ConstantTimeCompare(check.Bytes(), R) == 1
}
