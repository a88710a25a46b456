// Package secret encrypts stored credentials.
//
// A Codec is built once at startup from the configured key and handed to
// whoever needs it; nothing in this package keeps global state. Tokens are
// XChaCha20-Poly1305 sealed and carry a version prefix so the format can
// change later. A previous key may be supplied for rotation: it is used only
// to decrypt, never to encrypt.
package secret

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the required key length in bytes.
const KeySize = chacha20poly1305.KeySize

const tokenPrefix = "v1:"

var (
	ErrInvalidKey    = errors.New("secret: invalid key")
	ErrMalformed     = errors.New("secret: malformed token")
	ErrUndecryptable = errors.New("secret: token cannot be decrypted with the configured keys")
)

type Codec struct {
	current  cipher.AEAD
	previous cipher.AEAD
}

// NewCodec builds a codec from raw keys. previous may be nil.
func NewCodec(current, previous []byte) (*Codec, error) {
	cur, err := newAEAD(current)
	if err != nil {
		return nil, fmt.Errorf("current key: %w", err)
	}
	c := &Codec{current: cur}
	if len(previous) > 0 {
		prev, err := newAEAD(previous)
		if err != nil {
			return nil, fmt.Errorf("previous key: %w", err)
		}
		c.previous = prev
	}
	return c, nil
}

// NewCodecFromBase64 decodes standard or URL-safe base64 keys, as they come
// from the environment. An empty previous key disables rotation.
func NewCodecFromBase64(current, previous string) (*Codec, error) {
	cur, err := decodeKey(current)
	if err != nil {
		return nil, fmt.Errorf("current key: %w", err)
	}
	var prev []byte
	if strings.TrimSpace(previous) != "" {
		prev, err = decodeKey(previous)
		if err != nil {
			return nil, fmt.Errorf("previous key: %w", err)
		}
	}
	return NewCodec(cur, prev)
}

// GenerateKey returns a fresh random key in standard base64.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("read random key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

func decodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if key, err := enc.DecodeString(s); err == nil {
			return key, nil
		}
	}
	return nil, fmt.Errorf("%w: not base64", ErrInvalidKey)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}
	return chacha20poly1305.NewX(key)
}

// Encrypt seals plaintext with the current key.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+chacha20poly1305.Overhead)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	sealed := c.current.Seal(nonce, nonce, []byte(plaintext), nil)
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

func split(token string) (nonce, body []byte, err error) {
	raw, ok := strings.CutPrefix(token, tokenPrefix)
	if !ok {
		return nil, nil, ErrMalformed
	}
	sealed, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil || len(sealed) < chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, nil, ErrMalformed
	}
	return sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:], nil
}

// Decrypt opens a token with the current key, falling back to the previous
// one.
func (c *Codec) Decrypt(token string) (string, error) {
	nonce, body, err := split(token)
	if err != nil {
		return "", err
	}
	for _, aead := range []cipher.AEAD{c.current, c.previous} {
		if aead == nil {
			continue
		}
		if plain, err := aead.Open(nil, nonce, body, nil); err == nil {
			return string(plain), nil
		}
	}
	return "", ErrUndecryptable
}

// NeedsRotation reports whether token only opens with the previous key.
func (c *Codec) NeedsRotation(token string) bool {
	if c.previous == nil {
		return false
	}
	nonce, body, err := split(token)
	if err != nil {
		return false
	}
	if _, err := c.current.Open(nil, nonce, body, nil); err == nil {
		return false
	}
	_, err = c.previous.Open(nil, nonce, body, nil)
	return err == nil
}
