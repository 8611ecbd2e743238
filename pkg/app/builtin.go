// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/stacklok/summerboot/pkg/auth"
	serr "github.com/stacklok/summerboot/pkg/errors"
	"github.com/stacklok/summerboot/pkg/logger"
	"github.com/stacklok/summerboot/pkg/registry"
	"github.com/stacklok/summerboot/pkg/service"
)

// Built-in routes.
const (
	BuiltinControllerID = "summerboot.builtin"
	RoleAdmin           = "admin"

	HealthPath = "/health"
	LoginPath  = "/login"
	LogoutPath = "/logout"
	PausePath  = "/admin/pause"
	MemoPath   = "/admin/memo"
)

const contentTypeJSON = "application/json"

func (a *App) builtinController() registry.Controller {
	return registry.Controller{
		ID: BuiltinControllerID,
		Routes: []service.Route{
			{Method: http.MethodGet, Path: HealthPath, Handler: a.health},
			{Method: http.MethodPost, Path: LoginPath, Handler: a.login},
			{Method: http.MethodPost, Path: LogoutPath, Handler: a.logout},
			{Method: http.MethodPost, Path: PausePath, Roles: []string{RoleAdmin}, Handler: a.setPause(true)},
			{Method: http.MethodDelete, Path: PausePath, Roles: []string{RoleAdmin}, Handler: a.setPause(false)},
			{Method: http.MethodGet, Path: MemoPath, Roles: []string{RoleAdmin}, Handler: a.memoReport},
		},
	}
}

func writeJSON(sc *service.ServiceContext, status int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	sc.SetStatus(status).SetContentType(contentTypeJSON).SetText(string(data))
	return nil
}

func (a *App) health(_ context.Context, sc *service.ServiceContext) error {
	return writeJSON(sc, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": a.reg.Version().Display,
	})
}

// credentials reads uid and pwd from a JSON body or a form.
func credentials(sc *service.ServiceContext) (string, string, error) {
	body := sc.Body()
	if sc.Request().Header.Get("Content-Type") == contentTypeJSON || gjson.ValidBytes(body) && len(body) > 0 && body[0] == '{' {
		return gjson.GetBytes(body, "uid").String(), gjson.GetBytes(body, "pwd").String(), nil
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return "", "", err
	}
	return values.Get("uid"), values.Get("pwd"), nil
}

func (a *App) login(ctx context.Context, sc *service.ServiceContext) error {
	uid, pwd, err := credentials(sc)
	if err != nil || uid == "" {
		return serr.Fail(http.StatusBadRequest, a.codes.Err(serr.KindRequestBadRequest, "uid and pwd are required", err))
	}
	token, caller, err := a.authn.Login(ctx, uid, pwd, map[string]string{
		"remoteAddr": sc.Request().RemoteAddr,
	}, 0)
	if err != nil {
		return err
	}
	sc.SetCaller(caller)
	sc.Header().Set("Authorization", "Bearer "+token)
	sc.Memo("login", uid)
	return writeJSON(sc, http.StatusOK, struct {
		Token  string       `json:"token"`
		Caller *auth.Caller `json:"caller"`
	}{Token: token, Caller: caller})
}

func (a *App) logout(ctx context.Context, sc *service.ServiceContext) error {
	status, err := a.authn.Logout(ctx, sc.RequestHeader(), a.blacklist)
	if err != nil {
		return err
	}
	sc.SetStatus(status)
	return nil
}

func (a *App) setPause(paused bool) service.HandlerFunc {
	return func(_ context.Context, sc *service.ServiceContext) error {
		reason := sc.Request().URL.Query().Get("reason")
		if reason == "" {
			if paused {
				reason = "paused by " + sc.Caller().UserName
			} else {
				reason = "resumed by " + sc.Caller().UserName
			}
		}
		if a.pause.Set(paused, reason) {
			logger.Infow("pause flag changed", "paused", paused, "reason", reason)
		}
		isPaused, current := a.pause.Status()
		return writeJSON(sc, http.StatusOK, map[string]any{"paused": isPaused, "reason": current})
	}
}

func (a *App) memoReport(_ context.Context, sc *service.ServiceContext) error {
	paused, reason := a.pause.Status()
	return writeJSON(sc, http.StatusOK, map[string]any{
		"version":  a.reg.Version(),
		"paused":   paused,
		"reason":   reason,
		"configs":  a.store.Keys(),
		"bindings": a.reg.Bindings(),
		"memo":     a.memo,
	})
}
