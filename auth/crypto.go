package auth

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/teranos/ghostline/errors"
)

const (
	keySalt       = "ghostline-credentials-salt-v1"
	keyIterations = 100000
	keyLength     = 32
	keyContext    = "ghostline-v1"
)

// ErrDecrypt is returned when stored data cannot be decrypted with a key.
var ErrDecrypt = errors.New("credential data could not be decrypted")

// MachineInfo identifies this machine for key derivation. Credentials
// encrypted on one machine do not decrypt on another.
func MachineInfo() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	return fmt.Sprintf("%s-%s-%s", runtime.GOOS, host, runtime.GOARCH)
}

func deriveKey(machine string) ([]byte, error) {
	key, err := pbkdf2.Key(sha256.New, machine+"|"+keyContext, []byte(keySalt), keyIterations, keyLength)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive credential key")
	}
	return key, nil
}

// legacyKey is the plain sha256 key used by earlier versions of the file.
func legacyKey(machine string) []byte {
	sum := sha256.Sum256([]byte(machine + "|" + keyContext))
	return sum[:]
}

// encrypt returns hex(iv) + ":" + hex(ciphertext), AES-256-CBC with PKCS#7.
func encrypt(key, plaintext []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", errors.Wrap(err, "failed to create cipher")
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", errors.Wrap(err, "failed to generate iv")
	}

	padded := pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out), nil
}

func decrypt(key []byte, data string) ([]byte, error) {
	ivHex, ctHex, ok := strings.Cut(strings.TrimSpace(data), ":")
	if !ok {
		return nil, errors.Wrap(ErrDecrypt, "missing iv separator")
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return nil, errors.Wrap(ErrDecrypt, "invalid iv")
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, errors.Wrap(ErrDecrypt, "invalid ciphertext")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cipher")
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)

	plain, err := unpad(out, aes.BlockSize)
	if err != nil {
		return nil, err
	}
	return plain, nil
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(bytes.Clone(b), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 {
		return nil, errors.Wrap(ErrDecrypt, "empty plaintext")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errors.Wrap(ErrDecrypt, "bad padding")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errors.Wrap(ErrDecrypt, "bad padding")
		}
	}
	return b[:len(b)-n], nil
}
