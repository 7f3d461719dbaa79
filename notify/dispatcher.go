/*
dispatcher.go - Delivery implementations

PURPOSE:
  Concrete credit.Dispatcher implementations. The engine only depends on
  the interface; picking one is wiring, done in cmd/server.

IMPLEMENTATIONS:
  LogDispatcher:  writes reports to the process log. Default in dev and
                  the sensible fallback when no mail relay is configured.
  FuncDispatcher: adapts a plain function, mostly for tests.
*/
package notify

import (
	"context"
	"log"

	"github.com/hearth/credit-engine/credit"
)

// =============================================================================
// LOG DISPATCHER
// =============================================================================

// LogDispatcher records each report in the process log instead of
// sending it anywhere.
type LogDispatcher struct{}

var _ credit.Dispatcher = LogDispatcher{}

func (LogDispatcher) Send(_ context.Context, recipient, subject, body string) error {
	log.Printf("[Notify] to=%s subject=%q\n%s", recipient, subject, body)
	return nil
}

// =============================================================================
// FUNC DISPATCHER
// =============================================================================

// FuncDispatcher adapts a function to the Dispatcher interface.
type FuncDispatcher func(ctx context.Context, recipient, subject, body string) error

func (f FuncDispatcher) Send(ctx context.Context, recipient, subject, body string) error {
	return f(ctx, recipient, subject, body)
}
