// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/KodiakCLI/pkg/lifecycle"
	"github.com/AleutianAI/KodiakCLI/pkg/telemetry"
)

// diagServer serves liveness, readiness, component status, and metrics
// over HTTP while a session runs.
//
// # Description
//
// The server is opt-in (--diag-addr) and meant for localhost: a shell
// in another terminal, a Prometheus scraper on the same box, a CI
// harness watching readiness. It reads lifecycle state only; nothing
// here can mutate a session.
//
// # Endpoints
//
//   - GET /healthz: process liveness. Always 200 once serving.
//   - GET /readyz: 200 when the essential component is ready, 503
//     before that.
//   - GET /status: the status tracker's JSON rendering.
//   - GET /metrics: Prometheus exposition.
type diagServer struct {
	app    *App
	engine *gin.Engine
	srv    *http.Server
}

func newDiagServer(app *App) *diagServer {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	if app.Metrics != nil {
		engine.Use(telemetry.CombinedMiddleware("kodiak-diag", app.Metrics)...)
	} else {
		engine.Use(telemetry.TracingMiddleware("kodiak-diag"))
	}

	d := &diagServer{app: app, engine: engine}
	engine.GET("/healthz", d.handleHealthz)
	engine.GET("/readyz", d.handleReadyz)
	engine.GET("/status", d.handleStatus)
	engine.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))
	return d
}

// Start binds addr and serves in the background. The bind happens here
// so a bad address fails the caller instead of a goroutine.
func (d *diagServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	d.srv = &http.Server{
		Handler:           d.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := d.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			d.app.Logger.Warn("diagnostic server stopped", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the server, waiting briefly for in-flight requests.
func (d *diagServer) Shutdown(ctx context.Context) error {
	if d.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return d.srv.Shutdown(ctx)
}

func (d *diagServer) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (d *diagServer) handleReadyz(c *gin.Context) {
	if d.app.Core.Factory.IsReady(lifecycle.ComponentAIClient) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
}

func (d *diagServer) handleStatus(c *gin.Context) {
	text, err := d.app.Core.Status("json")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", []byte(text))
}
