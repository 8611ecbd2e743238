// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/stacklok/summerboot/pkg/cache"
	serr "github.com/stacklok/summerboot/pkg/errors"
	"github.com/stacklok/summerboot/pkg/service"
)

const indexFile = "index.html"

var insecureURI = regexp.MustCompile(`.*[<>&"].*`)

// SanitizeURI reports whether uri is safe to resolve under the docroot.
func SanitizeURI(uri string) bool {
	if uri == "" ||
		strings.Contains(uri, "/.") ||
		strings.Contains(uri, "./") ||
		strings.HasPrefix(uri, ".") ||
		strings.HasSuffix(uri, ".") ||
		strings.ContainsRune(uri, '\\') ||
		strings.ContainsRune(uri, 0) {
		return false
	}
	return !insecureURI.MatchString(uri)
}

// webResource serves a file under the docroot for a request no route
// matched.
func (s *Server) webResource(sc *service.ServiceContext, cfg *Config) {
	notFound := func(msg string) {
		s.reject(sc, http.StatusNotFound, serr.KindRequestNotFound, msg, nil)
	}

	if cfg.DocRoot == "" || (sc.Method() != http.MethodGet && sc.Method() != http.MethodHead) {
		notFound(sc.Method() + " " + sc.Path())
		return
	}
	if sc.Accepts("json", "xml") && !sc.Accepts("html", "web", "image") {
		s.reject(sc, http.StatusNotFound, serr.KindRequestBadHeader,
			"client is requesting data, no web resource at "+sc.Path(), nil)
		return
	}

	uri := sc.Path()
	if !SanitizeURI(uri) {
		notFound("invalid path")
		return
	}

	key := webCacheKey(cfg.DocRoot, uri)
	path, ok := s.webCache.Get(key)
	if !ok {
		path = resolveWebResource(cfg.DocRoot, uri)
		if path == "" {
			notFound(uri)
			return
		}
		s.webCache.Put(key, path, cache.TTL(cfg.WebResourceTTL))
	}
	sc.SetFile(&service.File{Path: path})
}

// webCacheKey scopes cached paths to the docroot they were resolved under.
func webCacheKey(docroot, uri string) string {
	return docroot + "\x00" + uri
}

// resolveWebResource maps uri to a regular file under docroot, or returns
// "" when there is none. Directories resolve to their index file.
func resolveWebResource(docroot, uri string) string {
	path := filepath.Join(docroot, filepath.FromSlash(uri))
	rel, err := filepath.Rel(docroot, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	info, err := os.Stat(path)
	if err == nil && info.IsDir() {
		path = filepath.Join(path, indexFile)
		info, err = os.Stat(path)
	}
	if err != nil || !info.Mode().IsRegular() {
		return ""
	}
	return path
}
