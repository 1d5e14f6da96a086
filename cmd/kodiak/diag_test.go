// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AleutianAI/KodiakCLI/pkg/lifecycle"
)

func diagGet(t *testing.T, d *diagServer, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	d.engine.ServeHTTP(rec, req)
	return rec
}

func TestDiagServer_Healthz(t *testing.T) {
	d := newDiagServer(newTestApp(t))

	rec := diagGet(t, d, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /healthz = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("body = %q, want an ok status", rec.Body.String())
	}
}

func TestDiagServer_ReadyzReflectsEssentialComponent(t *testing.T) {
	app := newTestApp(t)
	d := newDiagServer(app)

	rec := diagGet(t, d, "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /readyz before bring-up = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if !strings.Contains(rec.Body.String(), "starting") {
		t.Errorf("body = %q, want a starting status", rec.Body.String())
	}

	if _, err := app.Core.Get(context.Background(), lifecycle.ComponentAIClient); err != nil {
		t.Fatalf("Get(aiClient): %v", err)
	}

	rec = diagGet(t, d, "/readyz")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /readyz after bring-up = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "ready") {
		t.Errorf("body = %q, want a ready status", rec.Body.String())
	}
}

func TestDiagServer_StatusServesTrackerJSON(t *testing.T) {
	app := newTestApp(t)
	d := newDiagServer(app)

	rec := diagGet(t, d, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var payload struct {
		System     json.RawMessage   `json:"system"`
		Components []json.RawMessage `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("status payload is not JSON: %v\n%s", err, rec.Body.String())
	}
	want := len(lifecycle.DefaultDependencyGraph().Declared())
	if len(payload.Components) != want {
		t.Errorf("components in payload = %d, want %d tracked types", len(payload.Components), want)
	}
}

func TestDiagServer_MetricsServes(t *testing.T) {
	d := newDiagServer(newTestApp(t))

	rec := diagGet(t, d, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestDiagServer_StartAndShutdown(t *testing.T) {
	d := newDiagServer(newTestApp(t))

	if err := d.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestDiagServer_StartRejectsBadAddress(t *testing.T) {
	d := newDiagServer(newTestApp(t))

	if err := d.Start("not:a:listen:address"); err == nil {
		t.Fatal("Start accepted an unusable address")
	}
}

func TestDiagServer_ShutdownBeforeStart(t *testing.T) {
	d := newDiagServer(newTestApp(t))

	if err := d.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown with no server: %v", err)
	}
}
