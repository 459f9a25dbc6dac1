package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/stemsi/exstem-engine/internal/integrity"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/notice"
	"github.com/stemsi/exstem-engine/internal/session"
)

const helpText = `commands:
  a <q> <label>            answer a choice question (toggles on multi choice)
  tf <q> <stmt>=<t|f> ...  answer true/false statements
  m <q> <left>=<right> ... match items
  clear <q>                remove an answer
  r <q>                    toggle marked for review
  n | p | g <number>       next, previous, go to question
  ack                      acknowledge the current notice
  status                   show progress and time left
  submit                   submit (submit! skips the unanswered check)`

var errUsage = errors.New("usage")

// command is one parsed prompt line.
type command struct {
	name  string
	qid   string
	label string
	marks map[string]bool
	pairs map[string]string
	index int
	force bool
}

// parseLine turns a prompt line into a command. Question numbers are 1-based.
func parseLine(line string) (command, error) {
	f := strings.Fields(line)
	if len(f) == 0 {
		return command{}, errUsage
	}
	cmd := command{name: strings.ToLower(f[0])}
	args := f[1:]

	switch cmd.name {
	case "a":
		if len(args) != 2 {
			return cmd, fmt.Errorf("%w: a <q> <label>", errUsage)
		}
		cmd.qid, cmd.label = args[0], args[1]
	case "tf":
		if len(args) < 2 {
			return cmd, fmt.Errorf("%w: tf <q> <stmt>=<t|f> ...", errUsage)
		}
		cmd.qid = args[0]
		cmd.marks = make(map[string]bool, len(args)-1)
		for _, kv := range args[1:] {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return cmd, fmt.Errorf("%w: expected stmt=t or stmt=f, got %q", errUsage, kv)
			}
			b, err := parseTruth(v)
			if err != nil {
				return cmd, err
			}
			cmd.marks[k] = b
		}
	case "m":
		if len(args) < 2 {
			return cmd, fmt.Errorf("%w: m <q> <left>=<right> ...", errUsage)
		}
		cmd.qid = args[0]
		cmd.pairs = make(map[string]string, len(args)-1)
		for _, kv := range args[1:] {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" || v == "" {
				return cmd, fmt.Errorf("%w: expected left=right, got %q", errUsage, kv)
			}
			cmd.pairs[k] = v
		}
	case "clear", "r":
		if len(args) != 1 {
			return cmd, fmt.Errorf("%w: %s <q>", errUsage, cmd.name)
		}
		cmd.qid = args[0]
	case "g":
		if len(args) != 1 {
			return cmd, fmt.Errorf("%w: g <number>", errUsage)
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return cmd, fmt.Errorf("%w: question number must be 1 or more", errUsage)
		}
		cmd.index = n - 1
	case "submit!":
		cmd.name, cmd.force = "submit", true
	case "n", "p", "ack", "status", "submit", "help":
		if len(args) != 0 {
			return cmd, fmt.Errorf("%w: %s takes no arguments", errUsage, cmd.name)
		}
	default:
		return cmd, fmt.Errorf("%w: unknown command %q", errUsage, cmd.name)
	}
	return cmd, nil
}

func parseTruth(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "t", "true", "b", "benar":
		return true, nil
	case "f", "false", "s", "salah":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q is not t or f", errUsage, s)
}

// prompt executes commands against a running session.
type prompt struct {
	ctrl    *session.Controller
	monitor *integrity.Monitor
	cat     *notice.Catalog
	say     func(string)
}

func (p *prompt) exec(ctx context.Context, cmd command) error {
	switch cmd.name {
	case "help":
		p.say(helpText)
	case "a":
		return p.ctrl.RecordAnswer(ctx, cmd.qid, model.LabelAnswer(cmd.label))
	case "tf":
		merged := make(map[string]bool)
		if cur := p.current(cmd.qid); cur != nil && cur.Kind == model.ValueStatements {
			for k, v := range cur.Statements {
				merged[k] = v
			}
		}
		for k, v := range cmd.marks {
			merged[k] = v
		}
		return p.ctrl.RecordAnswer(ctx, cmd.qid, model.StatementsAnswer(merged))
	case "m":
		merged := make(map[string]string)
		if cur := p.current(cmd.qid); cur != nil && cur.Kind == model.ValuePairs {
			for k, v := range cur.Pairs {
				merged[k] = v
			}
		}
		for k, v := range cmd.pairs {
			merged[k] = v
		}
		return p.ctrl.RecordAnswer(ctx, cmd.qid, model.PairsAnswer(merged))
	case "clear":
		return p.ctrl.RecordAnswer(ctx, cmd.qid, nil)
	case "r":
		_, err := p.ctrl.ToggleReview(ctx, cmd.qid)
		return err
	case "n", "p", "g":
		target := cmd.index
		cursor := p.ctrl.Progress().Cursor
		if cmd.name == "n" {
			target = cursor + 1
		} else if cmd.name == "p" {
			target = cursor - 1
		}
		_, err := p.ctrl.Navigate(ctx, target)
		return err
	case "ack":
		if err := p.ctrl.AcknowledgeAnnouncement(ctx); err != nil {
			return err
		}
		return p.monitor.Acknowledge()
	case "status":
		pr := p.ctrl.Progress()
		p.say(fmt.Sprintf("%d/%d answered, %d marked, question %d, %s left",
			pr.Answered, pr.Total, pr.MarkedForReview, pr.Cursor+1, notice.Clock(p.ctrl.Remaining())))
	case "submit":
		pr := p.ctrl.Progress()
		if !cmd.force && !pr.Complete() {
			p.say(p.cat.Tp("Unanswered", pr.Total-pr.Answered))
			return nil
		}
		_, err := p.ctrl.Submit(ctx, model.ClosingCompleted)
		return err
	}
	return nil
}

func (p *prompt) current(qid string) *model.AnswerValue {
	st := p.ctrl.State()
	if st == nil {
		return nil
	}
	return st.Answers[qid].Value
}
