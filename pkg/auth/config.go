// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ConfigFileName is the file auth settings are read from.
const ConfigFileName = "auth.properties"

// DefaultTokenTTL is used when jwt.ttl is not configured.
const DefaultTokenTTL = 24 * time.Hour

// Config holds auth settings from auth.properties. Exported fields are bound
// from properties; the rest is derived by Customize.
type Config struct {
	Issuer             string        `mapstructure:"jwt.issuer"`
	Algorithm          string        `mapstructure:"jwt.signature.algorithm"`
	SymmetricKey       string        `mapstructure:"jwt.symmetric.key"`
	PrivateKeyFile     string        `mapstructure:"jwt.private.key.file"`
	PrivateKeyPassword string        `mapstructure:"jwt.private.key.password"`
	PublicKeyFile      string        `mapstructure:"jwt.public.key.file"`
	TokenTTL           time.Duration `mapstructure:"jwt.ttl"`

	LoginRatePerMinute int `mapstructure:"login.rate.per.minute"`
	LoginBurst         int `mapstructure:"login.rate.burst"`

	RevocationRedisAddrs    []string `mapstructure:"revocation.redis.addrs"`
	RevocationRedisPassword string   `mapstructure:"revocation.redis.password"`
	RevocationRedisDB       int      `mapstructure:"revocation.redis.db"`
	RevocationKeyPrefix     string   `mapstructure:"revocation.redis.prefix"`

	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	roles     map[string]Role
	users     map[string]UserEntry
}

// Role lists the groups and users granted a role.
type Role struct {
	Groups []string
	Users  []string
}

// UserEntry is a user defined in auth.properties for the properties
// credential checker.
type UserEntry struct {
	ID           int64
	PasswordHash string
	Groups       []string
	TenantID     int64
	TenantName   string
}

// Customize derives keys, roles and users after binding. configDir resolves
// relative key file paths.
func (c *Config) Customize(props map[string]string, configDir string) error {
	if c.TokenTTL <= 0 {
		c.TokenTTL = DefaultTokenTTL
	}
	if err := c.loadKeys(configDir); err != nil {
		return err
	}
	c.roles = parseRoles(props)
	users, err := parseUsers(props)
	if err != nil {
		return err
	}
	c.users = users
	return nil
}

// SigningMethod returns the configured signing method.
func (c *Config) SigningMethod() jwt.SigningMethod {
	return c.method
}

// Roles returns the configured role names, sorted.
func (c *Config) Roles() []string {
	names := make([]string, 0, len(c.roles))
	for name := range c.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsCallerInRole reports whether the role mapping grants role to c. An
// undefined role grants nothing.
func (c *Config) IsCallerInRole(caller *Caller, role string) bool {
	if caller == nil {
		return false
	}
	r, ok := c.roles[role]
	if !ok {
		return false
	}
	if slices.Contains(r.Users, caller.UserName) {
		return true
	}
	for _, g := range r.Groups {
		if caller.IsInGroup(g) {
			return true
		}
	}
	return false
}

// UndefinedRoles returns the roles in declared that have no mapping.
func (c *Config) UndefinedRoles(declared []string) []string {
	var missing []string
	for _, role := range declared {
		if _, ok := c.roles[role]; !ok {
			missing = append(missing, role)
		}
	}
	return missing
}

// User returns a user defined in auth.properties.
func (c *Config) User(name string) (UserEntry, bool) {
	u, ok := c.users[name]
	return u, ok
}

func (c *Config) loadKeys(configDir string) error {
	if c.SymmetricKey != "" {
		key, err := base64.StdEncoding.DecodeString(c.SymmetricKey)
		if err != nil {
			return fmt.Errorf("jwt.symmetric.key is not valid base64: %w", err)
		}
		method, err := pickMethod(c.Algorithm, "HS256", "HS")
		if err != nil {
			return err
		}
		c.method, c.signKey, c.verifyKey = method, key, key
		return nil
	}

	if c.PrivateKeyFile == "" && c.PublicKeyFile == "" {
		return errors.New("either jwt.symmetric.key or jwt.private.key.file/jwt.public.key.file must be set")
	}
	method, err := pickMethod(c.Algorithm, "RS256", "RS")
	if err != nil {
		return err
	}
	c.method = method

	if c.PrivateKeyFile != "" {
		key, err := readPrivateKey(resolvePath(configDir, c.PrivateKeyFile), c.PrivateKeyPassword)
		if err != nil {
			return err
		}
		c.signKey = key
		c.verifyKey = &key.PublicKey
	}
	if c.PublicKeyFile != "" {
		data, err := os.ReadFile(resolvePath(configDir, c.PublicKeyFile))
		if err != nil {
			return fmt.Errorf("failed to read public key: %w", err)
		}
		pub, err := jwt.ParseRSAPublicKeyFromPEM(data)
		if err != nil {
			return fmt.Errorf("failed to parse public key: %w", err)
		}
		c.verifyKey = pub
	}
	return nil
}

func readPrivateKey(path, password string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	var key *rsa.PrivateKey
	if password != "" {
		//nolint:staticcheck // legacy encrypted PEM is still what key tooling emits for RSA
		key, err = jwt.ParseRSAPrivateKeyFromPEMWithPassword(data, password)
	} else {
		key, err = jwt.ParseRSAPrivateKeyFromPEM(data)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}

func pickMethod(alg, fallback, family string) (jwt.SigningMethod, error) {
	if alg == "" {
		alg = fallback
	}
	alg = strings.ToUpper(alg)
	if !strings.HasPrefix(alg, family) {
		return nil, fmt.Errorf("signature algorithm %s does not match the configured %s key", alg, family)
	}
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return nil, fmt.Errorf("unsupported signature algorithm %s", alg)
	}
	return method, nil
}

func resolvePath(dir, path string) string {
	if filepath.IsAbs(path) || dir == "" {
		return path
	}
	return filepath.Join(dir, path)
}

// parseRoles reads roles.<role>.groups and roles.<role>.users.
func parseRoles(props map[string]string) map[string]Role {
	roles := map[string]Role{}
	for key, value := range props {
		rest, ok := strings.CutPrefix(key, "roles.")
		if !ok {
			continue
		}
		dot := strings.LastIndex(rest, ".")
		if dot <= 0 {
			continue
		}
		name, field := rest[:dot], rest[dot+1:]
		r := roles[name]
		switch field {
		case "groups":
			r.Groups = splitCSV(value)
		case "users":
			r.Users = splitCSV(value)
		default:
			continue
		}
		roles[name] = r
	}
	return roles
}

// parseUsers reads users.<name>.password, .groups, .id, .tenant.id and
// .tenant.name.
func parseUsers(props map[string]string) (map[string]UserEntry, error) {
	users := map[string]UserEntry{}
	for key, value := range props {
		rest, ok := strings.CutPrefix(key, "users.")
		if !ok {
			continue
		}
		name, field, ok := strings.Cut(rest, ".")
		if !ok || name == "" {
			continue
		}
		u := users[name]
		var err error
		switch field {
		case "password":
			u.PasswordHash = value
		case "groups":
			u.Groups = splitCSV(value)
		case "id":
			u.ID, err = parseInt64(value)
		case "tenant.id":
			u.TenantID, err = parseInt64(value)
		case "tenant.name":
			u.TenantName = value
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		users[name] = u
	}
	return users, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}
