package governance

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rahul/makeprogress/internal/protocol"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// EmptyTaskReason is returned for a blank task.
const EmptyTaskReason = "Task cannot be empty."

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// Denied reports whether the request must be rejected.
func (r Result) Denied() bool {
	return r.Effect == EffectDeny
}

// PolicyEngine evaluates plan requests before any model call is made.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req protocol.PlanRequest) (Result, error)
}

// DefaultPolicyEngine rejects blank or oversized requests and tasks that
// match a denied pattern. Zero limits are unlimited.
type DefaultPolicyEngine struct {
	MaxTaskLength int
	MaxCompleted  int
	DeniedRegex   []*regexp.Regexp
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		DeniedRegex: make([]*regexp.Regexp, 0),
	}
}

func (e *DefaultPolicyEngine) DenyTask(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("deny pattern %q: %w", pattern, err)
	}
	e.DeniedRegex = append(e.DeniedRegex, re)
	return nil
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req protocol.PlanRequest) (Result, error) {
	task := strings.TrimSpace(req.Task)
	if task == "" {
		return deny(EmptyTaskReason), nil
	}
	if e.MaxTaskLength > 0 && utf8.RuneCountInString(task) > e.MaxTaskLength {
		return deny(fmt.Sprintf("Task is longer than %d characters.", e.MaxTaskLength)), nil
	}
	if e.MaxCompleted > 0 && len(req.Completed) > e.MaxCompleted {
		return deny(fmt.Sprintf("Too many completed steps (%d > %d).", len(req.Completed), e.MaxCompleted)), nil
	}

	for _, re := range e.DeniedRegex {
		if re.MatchString(task) {
			return deny(fmt.Sprintf("Task matches restricted pattern: %s", re.String())), nil
		}
	}

	return Result{
		Effect: EffectAllow,
		Reason: "Approved by default policy",
	}, nil
}

func deny(reason string) Result {
	return Result{Effect: EffectDeny, Reason: reason}
}
