package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Protocol provides credential protection at rest and input sanitization.
// The AES-256 key is loaded from (or generated into) a key file so encrypted
// credentials survive restarts.
type Protocol struct {
	aead   cipher.AEAD
	logger *zap.Logger
}

// NewProtocol loads the key at keyPath, generating one on first use.
func NewProtocol(keyPath string, logger *zap.Logger) (*Protocol, error) {
	key, err := loadOrGenerateKey(keyPath)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Protocol{aead: aead, logger: logger}, nil
}

func loadOrGenerateKey(path string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil {
		key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("decode key file %s: %w", path, err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("key file %s: want 32 bytes, got %d", path, len(key))
		}
		return key, nil
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(path, []byte(encoded+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("write key file %s: %w", path, err)
	}
	return key, nil
}

// EncryptCredentials seals a credential map. The random nonce is prepended
// to the ciphertext.
func (p *Protocol) EncryptCredentials(creds map[string]string) ([]byte, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("encode credentials: %w", err)
	}
	nonce := make([]byte, p.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return p.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptCredentials opens a sealed credential map.
func (p *Protocol) DecryptCredentials(sealed []byte) (map[string]string, error) {
	ns := p.aead.NonceSize()
	if len(sealed) < ns {
		return nil, fmt.Errorf("ciphertext too short")
	}
	plaintext, err := p.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt credentials: %w", err)
	}
	var creds map[string]string
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	return creds, nil
}

// Sanitize strips non-printable characters from outbound text. Newlines and
// tabs survive: multi-line message bodies are legitimate.
func Sanitize(text string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if !unicode.IsPrint(r) {
			return -1
		}
		return r
	}, text)
}

// LoadEnv loads .env (when present) and returns the required variables,
// failing on the first one that is absent or empty.
func LoadEnv(required ...string) (map[string]string, error) {
	_ = godotenv.Load()

	vars := make(map[string]string, len(required))
	for _, name := range required {
		v := os.Getenv(name)
		if v == "" {
			return nil, fmt.Errorf("missing required environment variable: %s", name)
		}
		vars[name] = v
	}
	return vars, nil
}
