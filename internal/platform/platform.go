// Package platform abstracts the evaluation dashboard submissions are
// delivered to. A Gateway is one authenticated session; the dispatcher
// opens a fresh one per task via a Factory so workers never share
// session state.
package platform

import (
	"context"
	"errors"
)

// SubmitReceipt describes what the dashboard reported immediately after
// a submission was posted. It carries no structured data because the
// dashboard only acknowledges in prose; real results arrive later on
// the submissions feed.
type SubmitReceipt struct {
	// Note is a short summary of the acknowledgement, suitable for
	// operator-facing messages.
	Note string
}

// Gateway is a single dashboard session. Implementations are not
// required to tolerate concurrent calls; each task gets its own.
type Gateway interface {
	// Login authenticates the session with the configured credentials.
	Login(ctx context.Context) error

	// Submit posts target as a new submission tagged with marker so it
	// can be recognized on the feed later.
	Submit(ctx context.Context, target, marker string) (SubmitReceipt, error)

	// FetchResultPage returns the submissions feed rendered to plain
	// text, ready for classification.
	FetchResultPage(ctx context.Context) (string, error)

	// Close releases the session and any underlying connections.
	Close() error
}

// Factory opens a fresh Gateway. Called once per dispatched task.
type Factory func(ctx context.Context) (Gateway, error)

var (
	// ErrSessionExpired reports that the dashboard bounced a request to
	// its login page mid-session.
	ErrSessionExpired = errors.New("platform: session expired")

	// ErrRejected reports that the dashboard acknowledged the request
	// but flagged the submission as not accepted (validation failure,
	// cooldown, and the like).
	ErrRejected = errors.New("platform: submission rejected")
)
