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
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/AleutianAI/KodiakCLI/pkg/lifecycle"
	"github.com/AleutianAI/KodiakCLI/pkg/ux"
)

// bringupView renders component bring-up progress as it happens.
//
// # Description
//
// The view subscribes to the lifecycle dispatcher and prints one line
// per component transition. Both the initializer's step wrapper and the
// service registry publish events for the same component, so the view
// de-duplicates: one loading line at most, then exactly one terminal
// line (ready or failed) per name.
//
// # Thread Safety
//
// Events arrive on the dispatcher's delivery goroutine while the
// command goroutine may be printing a summary. All state is mutex
// protected.
type bringupView struct {
	w           io.Writer
	personality ux.PersonalityLevel
	descs       map[string]string

	mu   sync.Mutex
	seen map[string]lifecycle.ProgressStatus
}

// newBringupView creates a view writing to w. Descriptions from the
// step list annotate loading lines; names without one render bare.
func newBringupView(w io.Writer, steps ...[]lifecycle.Step) *bringupView {
	if w == nil {
		w = os.Stdout
	}
	descs := make(map[string]string)
	for _, list := range steps {
		for _, step := range list {
			descs[step.Name] = step.Description
		}
	}
	return &bringupView{
		w:           w,
		personality: ux.GetPersonality().Level,
		descs:       descs,
		seen:        make(map[string]lifecycle.ProgressStatus),
	}
}

// Attach subscribes the view to a dispatcher. The returned function
// unsubscribes; call it before printing anything else to w.
func (v *bringupView) Attach(d *lifecycle.Dispatcher) func() {
	return d.Subscribe(v.handle)
}

func (v *bringupView) handle(ev lifecycle.ProgressEvent) {
	v.mu.Lock()
	prev, known := v.seen[ev.Name]
	terminal := known && prev != lifecycle.ProgressLoading
	switch {
	case terminal:
		// Already settled; a late registry or step echo.
		v.mu.Unlock()
		return
	case ev.Status == lifecycle.ProgressLoading && known:
		v.mu.Unlock()
		return
	}
	v.seen[ev.Name] = ev.Status
	v.mu.Unlock()

	switch ev.Status {
	case lifecycle.ProgressLoading:
		v.printLoading(ev)
	case lifecycle.ProgressReady:
		v.printLine(ev.Name, ux.IconSuccess, elapsed(ev))
	case lifecycle.ProgressFailed:
		detail := elapsed(ev)
		if ev.Err != nil {
			detail = ev.Err.Error()
		}
		v.printLine(ev.Name, ux.IconError, detail)
	}
}

func (v *bringupView) printLoading(ev lifecycle.ProgressEvent) {
	// Loading lines are chatter; only the full personality gets them.
	if v.personality != ux.PersonalityFull {
		return
	}
	v.printLine(ev.Name, ux.IconPending, v.descs[ev.Name])
}

func (v *bringupView) printLine(name string, icon ux.Icon, detail string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch v.personality {
	case ux.PersonalityMachine:
		fmt.Fprintf(v.w, "%s\t%s\t%s\n", icon, name, detail)
	case ux.PersonalityMinimal:
		fmt.Fprintf(v.w, "%s %s\n", icon.Render(), name)
	default:
		if detail != "" {
			fmt.Fprintf(v.w, "%s %s %s\n", icon.Render(), name, ux.Styles.Muted.Render("("+detail+")"))
		} else {
			fmt.Fprintf(v.w, "%s %s\n", icon.Render(), name)
		}
	}
}

// Summary prints the bring-up outcome: counts, failures with their
// errors, and any warnings the initializer accumulated.
func (v *bringupView) Summary(res *lifecycle.Result) {
	if res == nil {
		return
	}
	ready := len(res.ReadyComponents) + len(res.BackgroundComponents)
	failed := len(res.FailedComponents)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.personality == ux.PersonalityMachine {
		fmt.Fprintf(v.w, "SUMMARY: ready=%d failed=%d elapsed=%s\n",
			ready, failed, res.TotalTime.Round(time.Millisecond))
		return
	}

	fmt.Fprintf(v.w, "\n%d ready, %d failed in %s\n",
		ready, failed, res.TotalTime.Round(time.Millisecond))
	for name, err := range res.FailedComponents {
		fmt.Fprintf(v.w, "  %s %s: %v\n", ux.IconError.Render(), name, err)
	}
	for _, warning := range res.Warnings {
		fmt.Fprintf(v.w, "  %s %s\n", ux.IconWarning.Render(), warning)
	}
}

func elapsed(ev lifecycle.ProgressEvent) string {
	if ev.EndedAt.IsZero() || ev.StartedAt.IsZero() {
		return ""
	}
	return ev.EndedAt.Sub(ev.StartedAt).Round(time.Millisecond).String()
}
