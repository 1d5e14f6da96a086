// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lifecycle implements the component lifecycle and dependency
// resolution core of the Kodiak CLI.
//
// Subsystems of the assistant (AI client, project context, task planner,
// conversation manager, ...) are constructed lazily and exactly once,
// gated on their declared dependencies, bounded by per-component timeouts,
// retried with exponential backoff, and substituted with typed fallback
// stubs when construction fails or a cyclic request is detected at runtime.
//
// The package is organized around five cooperating pieces:
//
//   - ServiceRegistry: at-most-once async construction cache with
//     timeout + retry semantics (registry.go).
//   - StateMachine: authoritative per-component state tracking over the
//     static dependency graph, including DFS cycle detection
//     (state_machine.go, graph.go).
//   - Factory implementations: BasicFactory resolves dependencies by
//     direct recursion with a creation-chain guard; EnhancedFactory
//     delegates gating to the StateMachine and caching to the
//     ServiceRegistry (factory.go, enhanced_factory.go).
//   - StreamingInitializer: two-tier bring-up, a blocking essential
//     phase followed by a serialized background phase with progress
//     events (initializer.go).
//   - StatusTracker: read-mostly health aggregation decoupled from
//     construction (status.go).
//
// A Core bundles one configured instance of each piece and is the only
// object applications need to hold. There is no package-level shared
// state: construct a Core at startup, pass it down, and call Shutdown
// when done.
package lifecycle
