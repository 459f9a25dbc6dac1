package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-engine/internal/authority"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/integrity"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/notice"
	"github.com/stemsi/exstem-engine/internal/session"
	"github.com/stemsi/exstem-engine/internal/syncer"
)

// Countdown notices are printed on these boundaries.
const (
	clockEvery     = 5 * time.Minute
	lastMinuteStep = 10 * time.Second
)

func engineConfig(v interface{ GetDuration(string) time.Duration }) config.EngineConfig {
	return config.EngineConfig{
		TickInterval:   v.GetDuration("tick"),
		SyncInterval:   v.GetDuration("sync-interval"),
		ProbeInterval:  v.GetDuration("probe-interval"),
		RequestTimeout: v.GetDuration("request-timeout"),
		ReconnectDelay: v.GetDuration("reconnect-delay"),
	}
}

// terminalSay writes a notice in raw mode, where a bare newline does not
// return the carriage.
func terminalSay(s string) {
	fmt.Fprint(os.Stdout, strings.ReplaceAll(s, "\n", "\r\n")+"\r\n")
}

func runExam(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)

	log, closeLog, err := setupLogging(v)
	if err != nil {
		return err
	}
	defer closeLog()

	pkg, err := loadPackage(v.GetString("package"))
	if err != nil {
		return err
	}
	desc := pkg.Descriptor

	store, err := openStore(v, log)
	if err != nil {
		return err
	}
	defer store.Close()

	cat, err := notice.New(v.GetString("lang"), log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ecfg := engineConfig(v)
	server, token := v.GetString("server"), v.GetString("token")
	var client *authority.HTTPClient
	if server != "" {
		if token == "" {
			return errors.New("--token is required with --server")
		}
		client = authority.NewHTTPClient(server, token, ecfg.RequestTimeout)
	}

	ctrl := session.New(session.Options{Store: store, Log: log, EventBuffer: 64})
	defer ctrl.Close()

	events, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	if err := ctrl.Start(ctx, desc, pkg.Questions); err != nil {
		var done *session.AlreadyFinalizedError
		if !errors.As(err, &done) {
			return err
		}
		fmt.Println(cat.T("AlreadySubmitted"), cat.Finalized(done.Result))
		if client != nil {
			return deliverFinal(ctx, client, done.Result, ecfg.SyncInterval, log)
		}
		return nil
	}

	src, err := integrity.NewTerminalSource(os.Stdin, os.Stdout)
	if err != nil {
		return err
	}
	defer src.Close()
	if err := src.RequestFullscreen(); err != nil {
		log.Warn().Err(err).Msg("Full screen request failed")
	}

	monitor := integrity.NewMonitor(src, ctrl, log)
	if err := ctrl.OnBlock(monitor.Block); err != nil {
		return err
	}
	go monitor.Run(ctx)
	go ctrl.RunTicker(ctx, ecfg.TickInterval)

	synced := make(chan struct{})
	if client != nil {
		stream := authority.NewStream(server, token, desc.SessionID, desc.CandidateID, ecfg.ReconnectDelay, log)
		engine := syncer.New(ctrl, client, syncer.Options{
			Interval:       ecfg.SyncInterval,
			RequestTimeout: ecfg.RequestTimeout,
			Commands:       stream,
			Log:            log,
		})
		watcher := syncer.NewWatcher(client, ctrl, ecfg.ProbeInterval, log)
		watcher.OnReconnect = engine.Kick

		go stream.Run(ctx)
		go watcher.Run(ctx)
		go func() {
			defer close(synced)
			engine.Run(ctx)
		}()
	} else {
		log.Info().Msg("No server configured, running offline")
		close(synced)
	}

	p := &prompt{ctrl: ctrl, monitor: monitor, cat: cat, say: terminalSay}
	name := desc.CandidateName
	if name == "" {
		name = desc.CandidateNumber
	}

	finalized := false
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-synced:
			synced = nil
			if finalized {
				return nil
			}

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case session.EventStarted:
				terminalSay(cat.Td("SessionStarted", map[string]any{"Name": name}))
				terminalSay(helpText)
				terminalSay(describeQuestion(pkg.Questions, 0))
			case session.EventResumed:
				terminalSay(describeQuestion(pkg.Questions, ev.Cursor))
			case session.EventTick:
				if shouldShowClock(ev.Remaining, ecfg.TickInterval) {
					terminalSay(cat.Td("TimeRemaining", map[string]any{"Time": notice.Clock(ev.Remaining)}))
				}
			case session.EventNavigated:
				terminalSay(describeQuestion(pkg.Questions, ev.Cursor))
			}
			if msg, ok := cat.ForEvent(ev); ok {
				terminalSay(msg)
			}
			if ev.Kind == session.EventFinalized {
				finalized = true
				// Offline, or the final record already went out.
				if synced == nil {
					return nil
				}
			}

		case line, ok := <-src.Lines():
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			c, err := parseLine(line)
			if err != nil {
				terminalSay(err.Error())
				continue
			}
			if err := p.exec(ctx, c); err != nil {
				if errors.Is(err, session.ErrAlreadyFinalized) {
					terminalSay(cat.T("AlreadySubmitted"))
					continue
				}
				terminalSay(err.Error())
			}
		}
	}
}

// shouldShowClock reports whether a tick lands on a countdown boundary.
func shouldShowClock(remaining, tick time.Duration) bool {
	if remaining <= 0 {
		return false
	}
	step := clockEvery
	if remaining <= time.Minute {
		step = lastMinuteStep
	}
	return remaining%step < tick
}

func describeQuestion(qs []model.QuestionSpec, cursor int) string {
	if cursor < 0 || cursor >= len(qs) {
		return ""
	}
	q := qs[cursor]
	var b strings.Builder
	fmt.Fprintf(&b, "[%d/%d] %s (%s)", cursor+1, len(qs), q.ID, q.Type)
	if len(q.Options) > 0 {
		fmt.Fprintf(&b, "\n  options: %s", strings.Join(q.Options, " "))
	}
	if len(q.Statements) > 0 {
		fmt.Fprintf(&b, "\n  statements: %s", strings.Join(q.Statements, " "))
	}
	if len(q.LeftItems) > 0 {
		fmt.Fprintf(&b, "\n  left: %s\n  right: %s", strings.Join(q.LeftItems, " "), strings.Join(q.RightItems, " "))
	}
	return b.String()
}

// deliverFinal pushes a final record left over from an earlier run until the
// authority takes it.
func deliverFinal(ctx context.Context, auth authority.Authority, rec *model.ResultRecord, every time.Duration, log zerolog.Logger) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		status, err := auth.PushResult(ctx, rec)
		if err == nil {
			log.Info().Str("result_id", rec.ID).Str("status", string(status.Status)).Msg("Final result delivered")
			return nil
		}
		log.Warn().Err(err).Msg("Final result not delivered, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func runInspect(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	log, closeLog, err := setupLogging(v)
	if err != nil {
		return err
	}
	defer closeLog()

	key, err := keyFromFlags(v)
	if err != nil {
		return err
	}
	store, err := openStore(v, log)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	out := map[string]any{}
	if st, err := store.Load(ctx, key); err == nil {
		out["state"] = st
	} else {
		out["state_error"] = err.Error()
	}
	if rec, err := store.LoadResult(ctx, key); err == nil {
		out["result"] = rec
	} else {
		out["result_error"] = err.Error()
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runReset(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	log, closeLog, err := setupLogging(v)
	if err != nil {
		return err
	}
	defer closeLog()

	key, err := keyFromFlags(v)
	if err != nil {
		return err
	}

	if !v.GetBool("yes") {
		fmt.Fprintf(cmd.OutOrStdout(), "Delete local data of candidate %s in session %s? [y/N]: ", key.CandidateID, key.SessionID)
		var answer string
		fmt.Fscanln(cmd.InOrStdin(), &answer)
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			return errors.New("reset cancelled")
		}
	}

	store, err := openStore(v, log)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Reset(cmd.Context(), key); err != nil {
		return err
	}
	log.Warn().Str("candidate_id", key.CandidateID).Str("session_id", key.SessionID).Msg("Local session data reset")
	fmt.Fprintln(cmd.OutOrStdout(), "Local session data removed.")
	return nil
}
