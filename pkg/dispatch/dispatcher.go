// Package dispatch executes tool calls requested by the dialogue model.
//
// A valid send_email_notification call is forwarded to the external action in
// the background. The caller never waits for it: on success a confirmation line
// is handed to the notifier, on failure the error is only logged.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-callbridge/internal/log"
	"github.com/teslashibe/go-callbridge/pkg/webhook"
)

// DefaultTimeout bounds a single action call.
const DefaultTimeout = 10 * time.Second

// Outcomes reported to the outcome hook.
const (
	OutcomeSent     = "sent"
	OutcomeFailed   = "failed"
	OutcomeInvalid  = "invalid"
	OutcomeUnknown  = "unknown"
	OutcomeDisabled = "disabled"
)

// Action performs the external side effect of a tool call.
type Action interface {
	Send(ctx context.Context, p webhook.Payload) (int, error)
}

// Notifier receives the confirmation line after a successful action.
type Notifier func(message string)

// Dispatcher validates tool calls and runs their actions asynchronously.
type Dispatcher struct {
	action  Action
	notify  Notifier
	outcome func(string)
	timeout time.Duration
	logger  *slog.Logger

	wg sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithNotifier sets the success notifier.
func WithNotifier(fn Notifier) Option {
	return func(d *Dispatcher) {
		d.notify = fn
	}
}

// WithOutcome sets a hook called with one of the Outcome* values per call.
func WithOutcome(fn func(outcome string)) Option {
	return func(d *Dispatcher) {
		d.outcome = fn
	}
}

// WithTimeout bounds each action call.
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// New creates a Dispatcher. action may be nil, in which case valid calls are
// logged and dropped.
func New(action Action, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		action:  action,
		timeout: DefaultTimeout,
		logger:  log.Component("dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type arguments struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Fecha    string `json:"fecha"`
	Detalles string `json:"detalles"`
}

// Handle validates a tool call and starts its action. It returns without
// waiting for the action. Errors describe why the call was dropped.
func (d *Dispatcher) Handle(ctx context.Context, name, argsJSON string) error {
	if name != ToolName {
		d.report(OutcomeUnknown)
		d.logger.Warn("ignoring unknown tool call", "tool", name)
		return fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	payload, err := parseArguments(argsJSON)
	if err != nil {
		d.report(OutcomeInvalid)
		d.logger.Warn("dropping tool call", "tool", name, "error", err)
		return err
	}

	if d.action == nil {
		d.report(OutcomeDisabled)
		d.logger.Error("tool call dropped, webhook URL not configured", "tool", name)
		return ErrNoAction
	}

	d.logger.Info("dispatching tool call", "tool", name, "tipo", payload.Tipo, "email", payload.Email)

	d.wg.Add(1)
	go d.run(context.WithoutCancel(ctx), payload)
	return nil
}

func (d *Dispatcher) run(ctx context.Context, p webhook.Payload) {
	defer d.wg.Done()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	status, err := d.action.Send(ctx, p)
	if err != nil {
		d.report(OutcomeFailed)
		d.logger.Error("webhook call failed", "status", status, "error", err)
		return
	}

	d.report(OutcomeSent)
	d.logger.Info("webhook responded", "status", status)
	if d.notify != nil {
		d.notify(Confirmation(p.Tipo, p.Email))
	}
}

// Wait blocks until every started action has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) report(outcome string) {
	if d.outcome != nil {
		d.outcome(outcome)
	}
}

func parseArguments(argsJSON string) (webhook.Payload, error) {
	var args arguments
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return webhook.Payload{}, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	required := []struct {
		field string
		value string
	}{
		{"email", args.Email},
		{"name", args.Name},
		{"type", args.Type},
		{"fecha", args.Fecha},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return webhook.Payload{}, &FieldError{Field: r.field, Reason: "is required"}
		}
	}
	if args.Type != KindMeeting && args.Type != KindQuote {
		return webhook.Payload{}, &FieldError{Field: "type", Reason: fmt.Sprintf("must be %q or %q", KindMeeting, KindQuote)}
	}

	return webhook.Payload{
		Email:    args.Email,
		Name:     args.Name,
		Tipo:     args.Type,
		Fecha:    args.Fecha,
		Detalles: args.Detalles,
	}, nil
}
