// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stacklok/summerboot/pkg/auth"
	"github.com/stacklok/summerboot/pkg/fileutils"
	"github.com/stacklok/summerboot/pkg/logger"
	"github.com/stacklok/summerboot/pkg/server"
)

const serverTemplate = `# HTTP listener
server.addr=:8311
#server.grpc.addr=:8312
#server.docroot=web
server.request.timeout=30s
server.auto204=true
#server.rate.limit=100
server.metrics.enabled=true
#server.header.ref=X-Ref
#server.header.serverts=X-ServerTs
#server.webresource.cache.ttl=1m

# audit line redaction
#audit.redact.literals=
#audit.redact.patterns=

# error code overrides
#error.code.AUTH_EXPIRED_TOKEN=40102
`

const authTemplate = `jwt.issuer=summerboot
jwt.signature.algorithm=HS256
jwt.symmetric.key=%s
jwt.ttl=24h

login.rate.per.minute=10
login.rate.burst=5

#revocation.redis.addrs=localhost:6379
#revocation.redis.db=0

roles.admin.groups=admin
#users.admin.password=<bcrypt hash>
#users.admin.groups=admin
`

// templates generate the built-in config files when they are missing.
var templates = map[string]func(masterPassword bool) (string, error){
	server.ConfigFileName: func(bool) (string, error) { return serverTemplate, nil },
	auth.ConfigFileName: func(masterPassword bool) (string, error) {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return "", fmt.Errorf("failed to generate signing key: %w", err)
		}
		value := base64.StdEncoding.EncodeToString(key)
		if masterPassword {
			// encrypted on first load
			value = "DEC(" + value + ")"
		}
		return fmt.Sprintf(authTemplate, value), nil
	},
}

// writeTemplate creates dir/fileName from its template. It reports false
// when there is no template or the file already exists.
func writeTemplate(dir, fileName string, masterPassword bool) (bool, error) {
	tmpl, ok := templates[fileName]
	if !ok {
		return false, nil
	}
	path := filepath.Join(dir, fileName)
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	content, err := tmpl(masterPassword)
	if err != nil {
		return false, err
	}
	if err := fileutils.AtomicWriteFile(path, []byte(content), 0600); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	logger.Warnf("%s not found, generated a default one", path)
	return true, nil
}
