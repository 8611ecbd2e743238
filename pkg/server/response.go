// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/htmlindex"

	serr "github.com/stacklok/summerboot/pkg/errors"
	"github.com/stacklok/summerboot/pkg/logger"
	"github.com/stacklok/summerboot/pkg/service"
)

// TimestampLayout formats the server timestamp header.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

const (
	chunkSize   = 8 << 10
	defaultMIME = "application/octet-stream"
	utf8Charset = "UTF-8"
)

// respond writes sc to w. It returns the response header for the audit line
// and whether the connection must be aborted after a partial file write.
func (s *Server) respond(
	ctx context.Context, w http.ResponseWriter, r *http.Request, sc *service.ServiceContext, cfg *Config,
) (http.Header, bool) {
	h := w.Header()
	for k, v := range sc.Header() {
		h[k] = v
	}
	h.Set(cfg.RefHeader, sc.TxID())
	h.Set(cfg.ServerTsHeader, s.now().Format(TimestampLayout))
	if r.Close {
		h.Set("Connection", "close")
	}

	switch {
	case sc.File() != nil && sc.Status() < http.StatusBadRequest:
		abort := s.sendFile(ctx, w, r, sc)
		return h.Clone(), abort
	case sc.Redirect() != "":
		h.Set("Location", sc.Redirect())
		h.Set("Connection", "close")
		w.WriteHeader(sc.Status())
		return h.Clone(), false
	default:
		s.sendText(ctx, w, r, sc)
		return h.Clone(), false
	}
}

func (s *Server) sendText(ctx context.Context, w http.ResponseWriter, r *http.Request, sc *service.ServiceContext) {
	h := w.Header()
	status := sc.Status()
	body := sc.Text()
	ct := sc.ContentType()

	if status >= http.StatusBadRequest && body == "" {
		e := sc.Err()
		if e == nil {
			e = serr.New(0, "", "", nil)
		}
		if sc.Accepts("xml") {
			body, ct = e.XML(), "application/xml"
		} else {
			body, ct = e.JSON(), "application/json"
		}
		body = s.processor.BeforeSendingError(ctx, sc, body)
		sc.SetText(body)
	}
	if status == http.StatusOK && body == "" && sc.AutoResp204() {
		status = http.StatusNoContent
		sc.SetStatus(status)
	}

	if body == "" {
		w.WriteHeader(status)
		return
	}
	if ct == "" {
		ct = "text/plain"
	}
	data, charset := encode(body, sc.Charset())
	h.Set("Content-Type", ct+"; charset="+charset)
	h.Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(status)
	if r.Method == http.MethodHead || status == http.StatusNoContent || status == http.StatusNotModified {
		return
	}
	if _, err := w.Write(data); err != nil {
		logger.Debugf("failed to write response %s: %v", sc.TxID(), err)
	}
}

// encode converts body to charset. Unknown charsets and unencodable text
// fall back to UTF-8.
func encode(body, charset string) ([]byte, string) {
	if charset == "" || strings.EqualFold(charset, utf8Charset) || strings.EqualFold(charset, "utf8") {
		return []byte(body), utf8Charset
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		logger.Warnf("unsupported charset %q, falling back to %s", charset, utf8Charset)
		return []byte(body), utf8Charset
	}
	out, err := enc.NewEncoder().String(body)
	if err != nil {
		logger.Warnf("failed to encode response as %s, falling back to %s: %v", charset, utf8Charset, err)
		return []byte(body), utf8Charset
	}
	return []byte(out), charset
}

// sendFile streams sc.File in chunks. Failures before anything is written
// become a JSON error; it returns true when the stream broke midway.
func (s *Server) sendFile(ctx context.Context, w http.ResponseWriter, r *http.Request, sc *service.ServiceContext) bool {
	file := sc.File()
	f, err := os.Open(file.Path)
	if err == nil {
		var info os.FileInfo
		if info, err = f.Stat(); err == nil && info.IsDir() {
			err = fmt.Errorf("%s is a directory", file.Path)
		}
		if err != nil {
			_ = f.Close()
		} else {
			defer f.Close()
			return s.stream(w, r, sc, f, info)
		}
	}

	status, kind := http.StatusInternalServerError, serr.KindFileStreamFailure
	if errors.Is(err, os.ErrNotExist) {
		status, kind = http.StatusNotFound, serr.KindRequestNotFound
	}
	logger.Warnf("failed to open %s for %s: %v", file.Path, sc.TxID(), err)
	s.reject(sc, status, kind, "file unavailable", err)
	w.Header().Del("Content-Disposition")
	s.sendText(ctx, w, r, sc)
	return false
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request, sc *service.ServiceContext, f *os.File, info os.FileInfo) bool {
	file := sc.File()
	h := w.Header()

	ct := sc.ContentType()
	if ct == "" {
		ct = mime.TypeByExtension(filepath.Ext(file.Path))
	}
	if ct == "" {
		ct = defaultMIME
	}
	h.Set("Content-Type", ct)
	total := int64(-1)
	if info.Mode().IsRegular() {
		total = info.Size()
		h.Set("Content-Length", strconv.FormatInt(total, 10))
	}
	if file.Download {
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filepath.Base(file.Path)}))
	}
	w.WriteHeader(sc.Status())
	if r.Method == http.MethodHead {
		return false
	}

	buf := make([]byte, chunkSize)
	var written int64
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				sc.SetCause(fmt.Errorf("failed to stream %s: %w", file.Path, err))
				return true
			}
			written += int64(n)
			if file.OnProgress != nil {
				file.OnProgress(written, total)
			}
		}
		if errors.Is(readErr, io.EOF) {
			return false
		}
		if readErr != nil {
			logger.Errorf("failed to read %s for %s: %v", file.Path, sc.TxID(), readErr)
			sc.SetCause(fmt.Errorf("failed to stream %s: %w", file.Path, readErr))
			return true
		}
	}
}
