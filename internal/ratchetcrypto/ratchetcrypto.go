// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package ratchetcrypto implements the Diffie-Hellman, key derivation, and
// symmetric encryption primitives shared by both the plain and the
// header-encrypted Double Ratchet state machines.
package ratchetcrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// ErrAuthFailure is returned when a ciphertext fails AEAD tag verification.
var ErrAuthFailure = errors.New("ratchetcrypto: authentication failure")

// ErrInvalidKey is returned when a key argument has the wrong length. This
// indicates a programmer error and is not a recoverable protocol condition.
var ErrInvalidKey = errors.New("ratchetcrypto: invalid key length")

// ErrUndecryptable is returned by HeaderDecrypt when a header cannot be
// decrypted under the supplied header key. This is an expected, non-fatal
// outcome: callers use it to try the next header-key epoch rather than as a
// hard authentication failure.
var ErrUndecryptable = errors.New("ratchetcrypto: undecryptable header")

const (
	rootKdfInfo   = "app-specific-secret-key"
	msgKdfInfo    = "app-specific-encryption-key"
	headerKdfInfo = "app-specific-header-encryption-key"
)

// GenerateDH creates a fresh X25519 key pair for use as a DH ratchet key.
//
// The Double Ratchet Algorithm specification names this function GENERATE_DH.
func GenerateDH() (privKey, pubKey []byte, err error) {
	privKey = make([]byte, curve25519.ScalarSize)
	if _, err = io.ReadFull(rand.Reader, privKey); err != nil {
		return nil, nil, err
	}

	pubKey, err = curve25519.X25519(privKey, curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}

	return privKey, pubKey, nil
}

// DH calculates an Elliptic Curve Diffie-Hellman shared secret between a
// private key and another peer's public key based on Curve25519, RFC 7748.
//
// The Double Ratchet Algorithm specification names this function DH.
func DH(privKey, pubKey []byte) (sharedSecret []byte, err error) {
	if len(privKey) != curve25519.ScalarSize {
		return nil, fmt.Errorf("%w: DH private key must be %d bytes", ErrInvalidKey, curve25519.ScalarSize)
	}
	if len(pubKey) != curve25519.PointSize {
		return nil, fmt.Errorf("%w: DH public key must be %d bytes", ErrInvalidKey, curve25519.PointSize)
	}

	return curve25519.X25519(privKey, pubKey)
}

// KDFRootKey returns the next root key and a fresh chain key derived from
// the current root key and a Diffie-Hellman output.
//
// The Double Ratchet Algorithm specification names this function KDF_RK.
func KDFRootKey(rkIn, dhOut []byte) (rkOut, ck []byte, err error) {
	if len(rkIn) != 32 {
		return nil, nil, fmt.Errorf("%w: root key must be 32 bytes", ErrInvalidKey)
	}

	out, err := hkdfExpand(dhOut, rkIn, rootKdfInfo, 64)
	if err != nil {
		return nil, nil, err
	}

	return out[:32], out[32:], nil
}

// KDFRootKeyHE is the header-encrypted variant of KDFRootKey: it additionally
// yields the next header key to be activated on the following ratchet step.
//
// The Double Ratchet Algorithm specification names this function KDF_RK_HE.
func KDFRootKeyHE(rkIn, dhOut []byte) (rkOut, ck, nhk []byte, err error) {
	if len(rkIn) != 32 {
		return nil, nil, nil, fmt.Errorf("%w: root key must be 32 bytes", ErrInvalidKey)
	}

	out, err := hkdfExpand(dhOut, rkIn, rootKdfInfo, 96)
	if err != nil {
		return nil, nil, nil, err
	}

	return out[:32], out[32:64], out[64:], nil
}

// ChainKDF returns a pair (chain key, message key) as the output of applying
// a KDF keyed by the previous chain key to two distinct constants.
//
// The Double Ratchet Algorithm specification names this function KDF_CK.
func ChainKDF(ckIn []byte) (ckOut, msgKey []byte, err error) {
	if len(ckIn) != 32 {
		return nil, nil, fmt.Errorf("%w: chain key must be 32 bytes", ErrInvalidKey)
	}

	msgKeyFull, err := hmacSHA512(ckIn, []byte{0x01})
	if err != nil {
		return nil, nil, err
	}

	ckOutFull, err := hmacSHA512(ckIn, []byte{0x02})
	if err != nil {
		return nil, nil, err
	}

	return ckOutFull[:32], msgKeyFull[:32], nil
}

// hmacSHA512 computes HMAC-SHA512(key, data).
func hmacSHA512(key, data []byte) ([]byte, error) {
	mac := hmac.New(sha512.New, key)
	if _, err := mac.Write(data); err != nil {
		return nil, err
	}
	return mac.Sum(nil), nil
}

// hkdfExpand runs HKDF-SHA512 over ikm with the given salt and info string,
// returning length bytes of output.
func hkdfExpand(ikm, salt []byte, info string, length int) ([]byte, error) {
	r := hkdf.New(sha512.New, ikm, salt, []byte(info))
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// messageKeyMaterial derives the AES-256-CBC key, HMAC key, and IV used by
// Encrypt/Decrypt from a single-use message key.
func messageKeyMaterial(mk []byte) (encKey, authKey, iv []byte, err error) {
	if len(mk) != 32 {
		return nil, nil, nil, fmt.Errorf("%w: message key must be 32 bytes", ErrInvalidKey)
	}

	out, err := hkdfExpand(mk, make([]byte, 80), msgKdfInfo, 80)
	if err != nil {
		return nil, nil, nil, err
	}

	return out[:32], out[32:64], out[64:], nil
}

// Encrypt authenticates and encrypts plaintext under a single-use message
// key, binding the associated data into the authentication tag. The result
// is a hex string: the AES-256-CBC ciphertext followed by a 64-byte
// HMAC-SHA512 tag.
//
// The Double Ratchet Algorithm specification names this function ENCRYPT.
func Encrypt(mk, plaintext, ad []byte) (string, error) {
	encKey, authKey, iv, err := messageKeyMaterial(mk)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return "", err
	}

	padded := pkcs7PadOrPanic(plaintext, aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	tag, err := hmacSHA512(authKey, concatAdPlaintext(ad, plaintext))
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(ct) + hex.EncodeToString(tag), nil
}

// Decrypt is the inverse of Encrypt. It recomputes the authentication tag
// from the recovered plaintext and rejects the message, leaving no trace of
// the recovered plaintext, on any mismatch - the comparison is
// constant-time.
//
// The Double Ratchet Algorithm specification names this function DECRYPT.
func Decrypt(mk []byte, ctWithTag string, ad []byte) ([]byte, error) {
	raw, err := hex.DecodeString(ctWithTag)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed ciphertext encoding", ErrAuthFailure)
	}
	if len(raw) < sha512.Size {
		return nil, fmt.Errorf("%w: ciphertext shorter than tag", ErrAuthFailure)
	}

	ct := raw[:len(raw)-sha512.Size]
	tag := raw[len(raw)-sha512.Size:]

	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext is not block-aligned", ErrAuthFailure)
	}

	encKey, authKey, iv, err := messageKeyMaterial(mk)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}

	padded := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ct)

	plaintext, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid padding", ErrAuthFailure)
	}

	wantTag, err := hmacSHA512(authKey, concatAdPlaintext(ad, plaintext))
	if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare(tag, wantTag) != 1 {
		return nil, ErrAuthFailure
	}

	return plaintext, nil
}

func concatAdPlaintext(ad, plaintext []byte) []byte {
	out := make([]byte, 0, len(ad)+len(plaintext))
	out = append(out, ad...)
	out = append(out, plaintext...)
	return out
}

// headerKeyMaterial derives the AES-256-CBC key and IV used by
// HeaderEncrypt/HeaderDecrypt from a header key.
func headerKeyMaterial(hk []byte) (encKey, iv []byte, err error) {
	if len(hk) != 32 {
		return nil, nil, fmt.Errorf("%w: header key must be 32 bytes", ErrInvalidKey)
	}

	out, err := hkdfExpand(hk, make([]byte, 48), headerKdfInfo, 48)
	if err != nil {
		return nil, nil, err
	}

	return out[:32], out[32:], nil
}

// HeaderEncrypt encrypts a header's canonical wire form under a header key.
//
// The Double Ratchet Algorithm specification names this function HENCRYPT.
func HeaderEncrypt(hk []byte, headerData []byte) (string, error) {
	encKey, iv, err := headerKeyMaterial(hk)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return "", err
	}

	padded := pkcs7PadOrPanic(headerData, aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	return hex.EncodeToString(ct), nil
}

// HeaderDecrypt attempts to decrypt an encrypted header under hk. It returns
// ErrUndecryptable, rather than a hard failure, whenever hk does not
// correspond to the key this header was encrypted under - the
// header-encrypted ratchet relies on this to distinguish "wrong epoch, try
// again" from a genuine protocol violation. validate, if non-nil, is run
// over the recovered header bytes and must also pass for decryption to
// count as successful.
//
// The Double Ratchet Algorithm specification names this function HDECRYPT.
func HeaderDecrypt(hk []byte, ctHex string, validate func([]byte) error) (headerData []byte, err error) {
	if len(hk) != 32 {
		return nil, ErrUndecryptable
	}

	raw, err := hex.DecodeString(ctHex)
	if err != nil || len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return nil, ErrUndecryptable
	}

	encKey, iv, err := headerKeyMaterial(hk)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}

	padded := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, raw)

	headerData, err = pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return nil, ErrUndecryptable
	}

	if validate != nil {
		if err := validate(headerData); err != nil {
			return nil, ErrUndecryptable
		}
	}

	return headerData, nil
}

// pkcs7Pad pads data to a multiple of blockSize per PKCS#7. blockSize must
// be in [1, 255].
func pkcs7Pad(data []byte, blockSize int) ([]byte, error) {
	if blockSize <= 0 || blockSize > 255 {
		return nil, fmt.Errorf("block size must be between 1 and 255, got %d", blockSize)
	}

	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, data...), padding...), nil
}

// pkcs7PadOrPanic pads data under a blockSize known statically to be valid,
// i.e. the AES block size.
func pkcs7PadOrPanic(data []byte, blockSize int) []byte {
	out, err := pkcs7Pad(data, blockSize)
	if err != nil {
		panic(err)
	}
	return out
}

// pkcs7Unpad removes and fully validates PKCS#7 padding.
func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("data is not a non-empty multiple of the block size")
	}

	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, fmt.Errorf("invalid padding length")
	}

	padding := data[len(data)-padLen:]
	if subtle.ConstantTimeCompare(padding, bytes.Repeat([]byte{byte(padLen)}, padLen)) != 1 {
		return nil, fmt.Errorf("invalid padding bytes")
	}

	return data[:len(data)-padLen], nil
}
