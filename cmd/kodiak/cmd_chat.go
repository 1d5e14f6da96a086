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
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/KodiakCLI/pkg/assistant"
	"github.com/AleutianAI/KodiakCLI/pkg/components"
	"github.com/AleutianAI/KodiakCLI/pkg/lifecycle"
	"github.com/AleutianAI/KodiakCLI/pkg/llm"
	"github.com/AleutianAI/KodiakCLI/pkg/ux"
)

func runChatCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	app, err := newApp(ctx, configPathFlag, appOptions{service: "chat"})
	if err != nil {
		ux.Error(fmt.Sprintf("Startup failed: %v", err))
		os.Exit(1)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := app.Close(closeCtx); err != nil {
			app.Logger.Warn("shutdown incomplete", "error", err)
		}
	}()

	if diagAddr != "" {
		diag := newDiagServer(app)
		if err := diag.Start(diagAddr); err != nil {
			ux.Warning(fmt.Sprintf("Diagnostic server not started: %v", err))
		} else {
			defer diag.Shutdown(context.Background())
			ux.Muted(fmt.Sprintf("Diagnostics on http://%s", diagAddr))
		}
	}

	session := newChatSession(app)
	defer session.Close()

	if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		ux.Error(fmt.Sprintf("Chat session failed: %v", err))
		os.Exit(1)
	}
}

// =============================================================================
// Chat Session
// =============================================================================

// resettable is the slice of the conversation manager the /new command
// needs. The null-history fallback does not implement it, which is
// exactly right: with no persistence there is nothing to reset.
type resettable interface {
	Reset(ctx context.Context) (string, error)
}

// chatSession drives the interactive loop.
//
// # Description
//
// Run brings the essential components up with live progress, then
// enters the read-route-render loop. Assistant components (router,
// context manager, history) resolve on first use; if background
// bring-up has not finished by then, resolution blocks briefly behind
// a spinner and the factory's fallbacks keep the session usable when
// a component cannot come up at all.
//
// # Fields
//
//   - app: Assembled tool; components resolve through app.Core.
//   - input: Line source, injectable for tests.
//   - out: Destination for everything the session prints.
//   - turns: User turns handled, for the session footer.
//
// # Thread Safety
//
// The loop is single-goroutine. Close is safe from any goroutine.
//
// # Limitations
//
//   - Single use: a session cannot restart after Run returns.
//   - Stdin reads cannot be interrupted mid-line.
type chatSession struct {
	app   *App
	input InputReader
	out   io.Writer

	router  components.IntentRouter
	builder components.ContextBuilder
	history components.Historian
	client  llm.Client

	turnStreamed bool
	turns        int

	mu     sync.Mutex
	closed bool
}

// newChatSession creates a session with production dependencies. The
// input reader is the bubbletea line editor on a terminal, plain stdin
// otherwise.
func newChatSession(app *App) *chatSession {
	var input InputReader
	if ux.IsInteractive() {
		input = NewInteractiveInputReader(100)
	} else {
		input = NewStdinReader()
	}
	return &chatSession{
		app:   app,
		input: input,
		out:   os.Stdout,
	}
}

// newChatSessionWithDeps creates a session with injected dependencies
// for tests. Components set here are used as-is; nil ones resolve
// through the core on first use.
func newChatSessionWithDeps(app *App, input InputReader, out io.Writer,
	router components.IntentRouter, builder components.ContextBuilder,
	history components.Historian, client llm.Client) *chatSession {
	return &chatSession{
		app:     app,
		input:   input,
		out:     out,
		router:  router,
		builder: builder,
		history: history,
		client:  client,
	}
}

// Run executes the interactive chat loop.
//
// # Description
//
// The loop:
//  1. Runs the bring-up plan; the essential phase blocks, the rest
//     continues in the background while the prompt is live.
//  2. Resumes a conversation when --resume or --continue was given.
//  3. Reads input, dispatches slash commands locally, and routes
//     everything else through the language router.
//  4. Repeats until "exit", EOF, or context cancellation.
//
// # Outputs
//
//   - error: nil on normal exit, context.Canceled on interrupt, or the
//     essential bring-up failure.
func (s *chatSession) Run(ctx context.Context) error {
	if err := s.bringUp(ctx); err != nil {
		return err
	}
	if err := s.resume(ctx); err != nil {
		return err
	}
	s.header()

	for {
		select {
		case <-ctx.Done():
			return s.shutdown(ctx)
		default:
		}

		line, err := s.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.footer()
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		if line == "" {
			continue
		}
		if isExitCommand(line) {
			s.footer()
			return nil
		}
		if strings.HasPrefix(line, "/") {
			s.handleSlash(ctx, line)
			continue
		}

		if err := s.handleMessage(ctx, line); err != nil {
			if ctx.Err() != nil {
				return s.shutdown(ctx)
			}
			ux.Error(err.Error())
		}
	}
}

// bringUp runs the startup plan with live progress. Essential failure
// is fatal; everything else is reported and tolerated.
func (s *chatSession) bringUp(ctx context.Context) error {
	foreground, background := bringupSteps(s.app)
	view := newBringupView(s.out, foreground, background)
	unsub := view.Attach(s.app.Core.Dispatcher)
	// Background transitions after this point go to the log only; the
	// prompt owns the terminal once the essential phase is done.
	defer unsub()

	res, err := s.app.Core.Initializer.InitializeStreaming(ctx, foreground, background)
	if err != nil {
		return err
	}
	if !res.EssentialComponentsReady {
		view.Summary(res)
		if probeErr, ok := res.FailedComponents[stepOllamaServer]; ok {
			return fmt.Errorf("model daemon is not reachable: %v\nStart it with `ollama serve`, or run `kodiak doctor`", probeErr)
		}
		return errors.New("essential components failed to start; run `kodiak doctor`")
	}
	return nil
}

// resume switches the conversation when --resume or --continue was
// given. Forces the conversation manager up before the first turn.
func (s *chatSession) resume(ctx context.Context) error {
	if resumeFlag == "" && !resumeLatest {
		return nil
	}
	if err := s.ensureAssistant(ctx); err != nil {
		return err
	}
	manager, ok := s.history.(interface {
		Resume(ctx context.Context, conversationID string) error
		ResumeLatest(ctx context.Context) (string, error)
	})
	if !ok {
		return errors.New("conversation history is unavailable; cannot resume")
	}
	if resumeFlag != "" {
		if err := manager.Resume(ctx, resumeFlag); err != nil {
			return fmt.Errorf("resume conversation %s: %w", resumeFlag, err)
		}
		ux.Muted(fmt.Sprintf("Resumed conversation %s", resumeFlag))
		return nil
	}
	id, err := manager.ResumeLatest(ctx)
	if err != nil {
		return fmt.Errorf("resume latest conversation: %w", err)
	}
	ux.Muted(fmt.Sprintf("Resumed conversation %s", id))
	return nil
}

func (s *chatSession) header() {
	p := ux.GetPersonality()
	if p.Level == ux.PersonalityMachine {
		return
	}
	model := modelFlag
	if model == "" {
		model = s.app.Config.Model.Name
	}
	ux.Title("Kodiak")
	ux.KeyValue("model", model)
	ux.Muted("Type a request, /help for commands, or exit to quit.")
	fmt.Fprintln(s.out)
}

func (s *chatSession) footer() {
	if ux.GetPersonality().Level == ux.PersonalityMachine {
		return
	}
	fmt.Fprintln(s.out)
	detail := fmt.Sprintf("%d turns", s.turns)
	if m, ok := s.history.(interface{ ActiveID() string }); ok && m.ActiveID() != "" {
		detail += ", resume with --resume " + m.ActiveID()
	}
	ux.Muted("Session ended (" + detail + ")")
}

func (s *chatSession) shutdown(ctx context.Context) error {
	s.footer()
	return context.Canceled
}

func (s *chatSession) readLine() (string, error) {
	prompt := s.prompt()
	if pr, ok := s.input.(PromptingInputReader); ok {
		pr.SetPrompt(prompt)
	} else if prompt != "" {
		fmt.Fprint(s.out, prompt)
	}
	return s.input.ReadLine()
}

func (s *chatSession) prompt() string {
	switch ux.GetPersonality().Level {
	case ux.PersonalityMachine:
		return ""
	case ux.PersonalityMinimal:
		return "> "
	default:
		return string(ux.IconPaw) + " > "
	}
}

// handleSlash dispatches in-session commands. Unknown commands print
// help rather than erroring; nothing here should end the session.
func (s *chatSession) handleSlash(ctx context.Context, line string) {
	switch strings.Fields(line)[0] {
	case "/status":
		text, err := s.app.Core.Status("summary")
		if err != nil {
			ux.Error(err.Error())
			return
		}
		fmt.Fprintln(s.out, text)
	case "/new":
		if err := s.ensureAssistant(ctx); err != nil {
			ux.Error(err.Error())
			return
		}
		r, ok := s.history.(resettable)
		if !ok {
			ux.Warning("History is not persistent in this session; nothing to reset.")
			return
		}
		id, err := r.Reset(ctx)
		if err != nil {
			ux.Error(fmt.Sprintf("Could not start a new conversation: %v", err))
			return
		}
		ux.Muted("Started conversation " + id)
	case "/help":
		fmt.Fprintln(s.out, "  /status  component health summary")
		fmt.Fprintln(s.out, "  /new     start a fresh conversation")
		fmt.Fprintln(s.out, "  /help    this list")
		fmt.Fprintln(s.out, "  exit     end the session")
	default:
		ux.Warning("Unknown command; /help lists what I know.")
	}
}

// handleMessage routes one user turn and renders the reply.
func (s *chatSession) handleMessage(ctx context.Context, input string) error {
	if err := s.ensureAssistant(ctx); err != nil {
		return err
	}
	if _, err := s.history.Append(ctx, "user", input); err != nil {
		s.app.Logger.Warn("could not record user turn", "error", err)
	}

	s.turnStreamed = false
	start := time.Now()
	res, err := s.router.Route(ctx, input)
	elapsed := time.Since(start)
	routerName := string(lifecycle.ComponentNaturalLanguageRouter)
	if err != nil {
		s.app.Core.Tracker.RecordFailure(routerName, err)
		return err
	}
	s.app.Core.Tracker.RecordSuccess(routerName, elapsed)
	s.turns++

	// Streamed replies are already on screen; everything else prints
	// here.
	if !s.turnStreamed && res.Reply != "" {
		fmt.Fprintln(s.out, res.Reply)
	}
	if res.Reply != "" {
		if _, err := s.history.Append(ctx, "assistant", res.Reply); err != nil {
			s.app.Logger.Warn("could not record assistant turn", "error", err)
		}
	}
	return nil
}

// ensureAssistant resolves the conversational components on first use.
// Background bring-up usually has them ready; when it does not, the
// bounded wait keeps the spinner honest and Get falls through to lazy
// construction (or a fallback) after it.
func (s *chatSession) ensureAssistant(ctx context.Context) error {
	if s.router != nil && s.builder != nil && s.history != nil && s.client != nil {
		return nil
	}

	spinner := ux.NewSpinner("waking assistant components").WithWriter(os.Stderr)
	spinner.Start()
	defer spinner.Stop()

	_, err := s.app.Core.Initializer.WaitForComponents(ctx, []string{
		string(lifecycle.ComponentNaturalLanguageRouter),
		string(lifecycle.ComponentAdvancedContextManager),
		string(lifecycle.ComponentConversationManager),
	}, s.app.Config.BackgroundWait())
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	if s.client == nil {
		v, err := s.app.Core.Get(ctx, lifecycle.ComponentAIClient)
		if err != nil {
			return fmt.Errorf("model client unavailable: %w", err)
		}
		client, ok := v.(llm.Client)
		if !ok {
			return fmt.Errorf("aiClient has unexpected shape %T", v)
		}
		s.client = client
	}
	if s.history == nil {
		v, err := s.app.Core.Get(ctx, lifecycle.ComponentConversationManager)
		if err != nil {
			return fmt.Errorf("conversation history unavailable: %w", err)
		}
		history, ok := v.(components.Historian)
		if !ok {
			return fmt.Errorf("conversationManager has unexpected shape %T", v)
		}
		s.history = history
	}
	if s.builder == nil {
		v, err := s.app.Core.Get(ctx, lifecycle.ComponentAdvancedContextManager)
		if err != nil {
			return fmt.Errorf("context manager unavailable: %w", err)
		}
		builder, ok := v.(components.ContextBuilder)
		if !ok {
			return fmt.Errorf("advancedContextManager has unexpected shape %T", v)
		}
		s.builder = builder
	}
	if s.router == nil {
		v, err := s.app.Core.Get(ctx, lifecycle.ComponentNaturalLanguageRouter)
		if err != nil {
			return fmt.Errorf("language router unavailable: %w", err)
		}
		router, ok := v.(components.IntentRouter)
		if !ok {
			return fmt.Errorf("naturalLanguageRouter has unexpected shape %T", v)
		}
		s.router = router
		s.registerConversationRoutes()
	}
	return nil
}

// registerConversationRoutes installs the streaming conversation
// handler for every category the catalog leaves open. The catalog owns
// the plan route; a fallback router (echo) has no registration surface
// and keeps its own behavior.
func (s *chatSession) registerConversationRoutes() {
	router, ok := s.router.(*assistant.Router)
	if !ok {
		return
	}
	handler := s.conversationHandler()
	router.Register(assistant.CategoryChat, handler)
	router.Register(assistant.CategoryExplain, handler)
	router.Register(assistant.CategoryEdit, handler)
	router.Register(assistant.CategorySearch, handler)
	router.SetFallback(handler)
}

// conversationHandler streams a model reply for one routed input. The
// handler renders tokens as they arrive and returns the full text so
// the router result and the history record carry the same reply.
func (s *chatSession) conversationHandler() assistant.Handler {
	return func(ctx context.Context, input string, intent assistant.Intent) (string, error) {
		messages, err := s.builder.BuildMessages(ctx, input)
		if err != nil || len(messages) == 0 {
			if err != nil {
				s.app.Logger.Warn("context build failed, sending bare prompt", "error", err)
			}
			messages = []llm.Message{{Role: "user", Content: input}}
		}

		renderer := ux.NewTerminalStreamRenderer(s.out, ux.GetPersonality().Level)
		renderer.OnStatus(ctx, "thinking")
		s.turnStreamed = true

		start := time.Now()
		err = s.client.ChatStream(ctx, messages, llm.GenerationParams{}, func(ev llm.StreamEvent) error {
			switch ev.Type {
			case llm.StreamEventToken:
				renderer.OnToken(ctx, ev.Content)
			case llm.StreamEventThinking:
				renderer.OnThinking(ctx, ev.Content)
			case llm.StreamEventDone:
				renderer.OnDone(ctx, "")
			case llm.StreamEventError:
				renderer.OnError(ctx, errors.New(ev.Content))
			}
			return nil
		})
		clientName := string(lifecycle.ComponentAIClient)
		if err != nil {
			renderer.OnError(ctx, err)
			renderer.Finalize()
			s.app.Core.Tracker.RecordFailure(clientName, err)
			return "", err
		}
		renderer.Finalize()
		s.app.Core.Tracker.RecordSuccess(clientName, time.Since(start))
		return renderer.Result().Answer, nil
	}
}

// Close releases the session. Idempotent.
func (s *chatSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
