// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package reload decides whether to reload the client or restart the host
// processes after a host disappears or crashes.
package reload

import (
	"context"
	"log/slog"
)

// Policy controls whether the user is asked before recovering.
type Policy string

// Policies.
const (
	// PolicyAlways always asks; the only option is to confirm.
	PolicyAlways Policy = "always"
	// PolicyIfRequired asks with confirm pre-selected and cancel available.
	PolicyIfRequired Policy = "ifRequired"
	// PolicyNever never asks and recovers automatically.
	PolicyNever Policy = "never"
)

// ParsePolicy converts a configured value. Unrecognized values, including
// the empty string, are treated as PolicyAlways; ok reports whether s was
// recognized.
func ParsePolicy(s string) (p Policy, ok bool) {
	switch Policy(s) {
	case PolicyAlways, PolicyIfRequired, PolicyNever:
		return Policy(s), true
	default:
		return PolicyAlways, false
	}
}

// Situation is what went wrong.
type Situation string

// Situations.
const (
	// ProcessNotExist means the host process is gone; recovery reloads the client.
	ProcessNotExist Situation = "process-not-exist"
	// ProcessCrashed means the host crashed; recovery restarts the hosts.
	ProcessCrashed Situation = "process-crashed"
)

// Choice is a prompt answer.
type Choice string

// Choices.
const (
	ChoiceConfirm Choice = "confirm"
	ChoiceCancel  Choice = "cancel"
	// ChoiceDismissed is returned when the prompt closes without an answer.
	ChoiceDismissed Choice = ""
)

// Prompt is one question put to the user.
type Prompt struct {
	Situation Situation
	Message   string
	Options   []Choice
	// Default is pre-selected when Cancellable is set.
	Default     Choice
	Cancellable bool
}

// Prompter asks the user.
type Prompter interface {
	Ask(ctx context.Context, p Prompt) (Choice, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, p Prompt) (Choice, error)

// Ask implements Prompter.
func (f PrompterFunc) Ask(ctx context.Context, p Prompt) (Choice, error) { return f(ctx, p) }

var messages = map[Situation]string{
	ProcessNotExist: "The extension host is not running. Reload to start it again?",
	ProcessCrashed:  "The extension host terminated unexpectedly. Restart it?",
}

// Decider applies a Policy.
type Decider struct {
	policy   Policy
	prompter Prompter
}

// NewDecider creates a decider. A nil prompter confirms without asking.
func NewDecider(policy Policy, prompter Prompter) *Decider {
	return &Decider{policy: policy, prompter: prompter}
}

// Policy returns the effective policy.
func (d *Decider) Policy() Policy { return d.policy }

// Decide reports whether to recover from s.
func (d *Decider) Decide(ctx context.Context, s Situation) (bool, error) {
	if d.policy == PolicyNever || d.prompter == nil {
		RecordDecision(s, "auto")
		return true, nil
	}

	p := Prompt{
		Situation: s,
		Message:   messages[s],
		Options:   []Choice{ChoiceConfirm},
		Default:   ChoiceConfirm,
	}
	if d.policy == PolicyIfRequired {
		p.Options = []Choice{ChoiceCancel, ChoiceConfirm}
		p.Cancellable = true
	}

	choice, err := d.prompter.Ask(ctx, p)
	if err != nil {
		RecordDecision(s, "error")
		return false, err
	}
	ok := choice == ChoiceConfirm
	if ok {
		RecordDecision(s, "confirmed")
	} else {
		RecordDecision(s, "declined")
	}
	slog.InfoContext(ctx, "recovery prompt answered",
		"situation", string(s),
		"policy", string(d.policy),
		"choice", string(choice))
	return ok, nil
}
