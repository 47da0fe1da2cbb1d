// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/depotkit/depotkit/lib/wire"
)

// depotKeySize is the AES-256 depot key length.
const depotKeySize = 32

// Encrypted payload layout, Steam's symmetric scheme: the first
// block is a random IV encrypted with AES-256-ECB under the depot
// key, followed by the AES-256-CBC ciphertext of the PKCS#7-padded
// payload using that IV.

// decryptPayload decrypts an encrypted payload body. Damage that
// cannot be told apart from a wrong key (bad padding, short input)
// surfaces as *wire.CredentialError; the caller's CRC check catches
// wrong keys that survive padding.
func decryptPayload(depot uint32, key, body []byte) ([]byte, error) {
	if len(key) != depotKeySize {
		return nil, &wire.CredentialError{Depot: depot,
			Reason: fmt.Sprintf("depot key is %d bytes, want %d", len(key), depotKeySize)}
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &wire.CredentialError{Depot: depot, Reason: fmt.Sprintf("initializing cipher: %v", err)}
	}

	if len(body) < 2*aes.BlockSize || len(body)%aes.BlockSize != 0 {
		return nil, &wire.CredentialError{Depot: depot,
			Reason: fmt.Sprintf("encrypted payload is %d bytes, not a whole number of blocks", len(body))}
	}

	iv := make([]byte, aes.BlockSize)
	block.Decrypt(iv, body[:aes.BlockSize])

	plain := make([]byte, len(body)-aes.BlockSize)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body[aes.BlockSize:])

	plain, ok := pkcs7Unpad(plain)
	if !ok {
		return nil, &wire.CredentialError{Depot: depot, Reason: "invalid payload padding (wrong depot key?)"}
	}
	return plain, nil
}

// encryptPayload is the inverse of decryptPayload, used by fixture
// encoders.
func encryptPayload(key, payload []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generating IV: %w", err)
	}

	padded := pkcs7Pad(payload)
	out := make([]byte, aes.BlockSize+len(padded))
	block.Encrypt(out[:aes.BlockSize], iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return out, nil
}

func pkcs7Pad(data []byte) []byte {
	pad := aes.BlockSize - len(data)%aes.BlockSize
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

func pkcs7Unpad(data []byte) ([]byte, bool) {
	if len(data) == 0 {
		return nil, false
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(data) {
		return nil, false
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, false
		}
	}
	return data[:len(data)-pad], true
}
