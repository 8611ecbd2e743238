// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stacklok/summerboot/pkg/audit"
	"github.com/stacklok/summerboot/pkg/auth"
	serr "github.com/stacklok/summerboot/pkg/errors"
	"github.com/stacklok/summerboot/pkg/logger"
	"github.com/stacklok/summerboot/pkg/service"
)

// serve runs one request through the pipeline. route is nil when no
// controller route matched.
func (s *Server) serve(w http.ResponseWriter, r *http.Request, route *service.Route) {
	hitAt := s.now()
	cfg := s.cfg()
	done := s.metrics.RequestStarted()

	body, readErr := io.ReadAll(http.MaxBytesReader(w, r.Body, cfg.MaxRequestBody))
	sc := service.New(r, body, uuid.NewString(), hitAt).SetAutoResp204(cfg.AutoResp204)
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		for i, key := range rctx.URLParams.Keys {
			if key != "*" {
				sc.SetParam(key, rctx.URLParams.Values[i])
			}
		}
	}

	ctx := r.Context()
	processStart := s.now()
	sc.POI(service.POIProcessBegin)
	if readErr != nil {
		s.reject(sc, http.StatusBadRequest, serr.KindRequestBadRequest, "failed to read request body", readErr)
	} else {
		s.process(ctx, r, sc, route, cfg)
	}
	processEnd := s.now()

	respHeader, abort := s.respond(ctx, w, r, sc, cfg)
	responseEnd := s.now()

	s.log(ctx, r, sc, respHeader, audit.Timings{
		Queuing:    processStart.Sub(hitAt),
		Processing: processEnd.Sub(processStart),
		Response:   responseEnd.Sub(processEnd),
	})

	pattern := "unmatched"
	if route != nil {
		pattern = route.Path
	}
	done(r.Method, pattern, sc.Status())

	if abort {
		panic(http.ErrAbortHandler)
	}
}

// process takes the request from Validated to Executed.
func (s *Server) process(ctx context.Context, r *http.Request, sc *service.ServiceContext, route *service.Route, cfg *Config) {
	if !isAdminPath(sc.Path()) {
		if paused, reason := s.pause.Status(); paused {
			s.reject(sc, http.StatusServiceUnavailable, serr.KindServicePaused, reason, nil)
			return
		}
	}
	if !s.allow(cfg) {
		s.reject(sc, http.StatusTooManyRequests, serr.KindRequestTooMany, "too many requests", nil)
		return
	}
	if !s.processor.PreProcess(ctx, r, sc) {
		return
	}
	if route == nil {
		s.webResource(sc, cfg)
		return
	}

	if len(route.Roles) > 0 {
		sc.POI(service.POIAuthBegin)
		caller, err := s.auth.VerifyBearerToken(ctx, r.Header, s.blacklist, 0)
		sc.POI(service.POIAuthEnd)
		if err != nil {
			s.fail(sc, err)
			return
		}
		sc.SetCaller(caller)
		if !s.inAnyRole(caller, route.Roles) {
			s.reject(sc, http.StatusForbidden, serr.KindAuthNoPermission,
				fmt.Sprintf("%s is not allowed to access %s %s", caller.UserName, route.Method, route.Path), nil)
			return
		}
		ctx = auth.WithCaller(ctx, caller)
	}

	s.invoke(ctx, sc, route.Handler, cfg)
}

func (s *Server) inAnyRole(caller *auth.Caller, roles []string) bool {
	for _, role := range roles {
		if s.auth.IsCallerInRole(caller, role) {
			return true
		}
	}
	return false
}

// invoke calls the handler under the request timeout and recovers panics.
func (s *Server) invoke(ctx context.Context, sc *service.ServiceContext, h service.HandlerFunc, cfg *Config) {
	if cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RequestTimeout)
		defer cancel()
	}

	sc.POI(service.POIBizBegin)
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				logger.Errorf("request %s panicked: %v\n%s", sc.TxID(), p, debug.Stack())
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		return h(ctx, sc)
	}()
	sc.POI(service.POIBizEnd)

	if err == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = ctx.Err()
	}
	if err != nil {
		s.fail(sc, err)
	}
}

// fail turns err into the error response.
func (s *Server) fail(sc *service.ServiceContext, err error) {
	status, e := serr.Classify(err, s.codes)
	sc.ClearResponse().SetErr(status, e).SetCause(err)
	if status >= http.StatusInternalServerError {
		logger.Errorf("request %s failed: %v", sc, err)
	}
}

func (s *Server) reject(sc *service.ServiceContext, status int, kind serr.Kind, msg string, cause error) {
	sc.ClearResponse().SetErr(status, s.codes.Err(kind, msg, cause))
	if cause != nil {
		sc.SetCause(cause)
	}
}

// log builds and emits the audit line.
func (s *Server) log(ctx context.Context, r *http.Request, sc *service.ServiceContext, respHeader http.Header, t audit.Timings) {
	reqHeader := r.Header.Clone()
	s.processor.AfterService(ctx, sc, reqHeader)

	rec := &audit.Record{
		TxID:           sc.TxID(),
		Method:         r.Method,
		URI:            r.RequestURI,
		Protocol:       r.Proto,
		RemoteAddr:     r.RemoteAddr,
		Status:         sc.Status(),
		HitAt:          sc.HitAt(),
		RequestHeader:  reqHeader,
		ResponseHeader: respHeader,
		Timings:        t,
		POIs:           sc.POIs(),
		Memos:          sc.Memos(),
		Err:            sc.Cause(),
	}
	if c := sc.Caller(); c != nil {
		rec.Caller = c.UserName
	}
	if sc.Status() >= http.StatusBadRequest {
		rec.ResponseBody = sc.Text()
	}

	line := s.processor.BeforeLogging(rec.Line())
	s.auditor.Emit(ctx, line, rec)
	s.processor.AfterLogging(ctx, rec)
}
