// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/stacklok/toolhive-core/env"

	"github.com/stacklok/summerboot/pkg/fileutils"
)

// MasterPasswordEnv names the environment variable holding the password
// ENC(...) values are encrypted with.
const MasterPasswordEnv = "SUMMER_MASTER_PASSWORD"

// lockTimeout is the maximum time to wait for a file lock
const lockTimeout = 1 * time.Second

// ErrNoMasterPassword is returned when a file holds DEC(...) or ENC(...)
// values but no master password is set.
var ErrNoMasterPassword = errors.New("encrypted values require " + MasterPasswordEnv)

var (
	// decLine matches a property line whose whole value is DEC(...). Group 1
	// is the key with its separator.
	decLine  = regexp.MustCompile(`^(\s*(?:\\.|[^\\=:\s])+\s*[=:\s]\s*)DEC\(.*\)\s*$`)
	encValue = regexp.MustCompile(`^ENC\((.*)\)$`)
	decValue = regexp.MustCompile(`^DEC\((.*)\)$`)
)

// Cipher encrypts and decrypts property values with AES-256-GCM.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives a Cipher from password.
func NewCipher(password string) (*Cipher, error) {
	if password == "" {
		return nil, ErrNoMasterPassword
	}
	key := sha256.Sum256([]byte(password))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// CipherFromEnv returns the Cipher for the master password in the
// environment, or nil when it is not set.
func CipherFromEnv(envReader env.Reader) (*Cipher, error) {
	password := envReader.Getenv(MasterPasswordEnv)
	if password == "" {
		return nil, nil
	}
	return NewCipher(password)
}

// Encrypt returns base64(nonce|ciphertext).
func (c *Cipher) Encrypt(plain string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("encrypted value is not valid base64: %w", err)
	}
	n := c.aead.NonceSize()
	if len(data) < n {
		return "", errors.New("encrypted value is too short")
	}
	plain, err := c.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt value: %w", err)
	}
	return string(plain), nil
}

// EncryptFile rewrites every DEC(plain) in path as ENC(cipher) while holding
// a lock on path.lock. The rest of the file is left untouched. It reports
// whether the file changed.
func EncryptFile(ctx context.Context, path string, c *Cipher) (bool, error) {
	if c == nil {
		return false, ErrNoMasterPassword
	}

	// Use a separate lock file for cross-platform compatibility
	fileLock := flock.New(path + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := fileLock.TryLockContext(lockCtx, 100*time.Millisecond)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return false, fmt.Errorf("failed to acquire lock: timeout after %v", lockTimeout)
	}
	defer fileLock.Unlock()

	// #nosec G304: path comes from the configuration directory
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	lines := bytes.Split(data, []byte("\n"))
	changed := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(string(line))
		if trimmed == "" || trimmed[0] == '#' || trimmed[0] == '!' {
			continue
		}
		plain, prefix, ok := decProperty(line)
		if !ok {
			continue
		}
		enc, err := c.Encrypt(plain)
		if err != nil {
			return false, err
		}
		out := prefix + "ENC(" + enc + ")"
		if bytes.HasSuffix(line, []byte("\r")) {
			out += "\r"
		}
		lines[i] = []byte(out)
		changed = true
	}
	if !changed {
		return false, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if err := fileutils.AtomicWriteFile(path, bytes.Join(lines, []byte("\n")), info.Mode().Perm()); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}

// decryptValues replaces ENC(...) values with their plain text and unwraps
// DEC(...) values that could not be rewritten.
func decryptValues(props map[string]string, c *Cipher) error {
	for key, value := range props {
		if m := decValue.FindStringSubmatch(value); m != nil {
			if c == nil {
				return fmt.Errorf("%s: %w", key, ErrNoMasterPassword)
			}
			props[key] = m[1]
			continue
		}
		m := encValue.FindStringSubmatch(value)
		if m == nil {
			continue
		}
		if c == nil {
			return fmt.Errorf("%s: %w", key, ErrNoMasterPassword)
		}
		plain, err := c.Decrypt(m[1])
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		props[key] = plain
	}
	return nil
}

// decProperty reports whether line holds a DEC(...) value. It returns the
// unescaped plain text and the raw key part the line is rebuilt from.
func decProperty(line []byte) (plain, prefix string, ok bool) {
	m := decLine.FindSubmatch(line)
	if m == nil || continued(line) {
		return "", "", false
	}
	props, err := ParseProperties(line)
	if err != nil || len(props) != 1 {
		return "", "", false
	}
	for _, value := range props {
		if v := decValue.FindStringSubmatch(value); v != nil {
			return v[1], string(m[1]), true
		}
	}
	return "", "", false
}

// continued reports whether line ends with an unescaped backslash.
func continued(line []byte) bool {
	trimmed := bytes.TrimRight(line, " \t\r")
	n := 0
	for i := len(trimmed) - 1; i >= 0 && trimmed[i] == '\\'; i-- {
		n++
	}
	return n%2 == 1
}

func hasPlainSecrets(data []byte) bool {
	for _, line := range bytes.Split(data, []byte("\n")) {
		if _, _, ok := decProperty(line); ok {
			return true
		}
	}
	return false
}
