package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/kivikakk/recogedor/lalog"
	"github.com/kivikakk/recogedor/script"
)

// MessageSource is everything a Folder needs from a mail source: connect
// once, then repeatedly wait for activity and fetch whatever arrived
// since the given high-water mark. Implemented by endpoint.MailboxSource
// in production and by a fake in tests.
type MessageSource interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	WaitForActivity(ctx context.Context, pollInterval time.Duration) error
	FetchSince(ctx context.Context, highWaterUID uint32) ([]script.Message, error)
}

// Folder is one cooperative per-mailbox task: it owns a source
// connection, the compiled script for that mailbox, and the
// high-water mark of the last UID it successfully processed. Modeled on
// daemon/smtpd.Daemon's accept-loop-with-deferred-cleanup shape, adapted
// to mail: connect, idle-or-poll, fetch, interpret, advance.
type Folder struct {
	Name         string
	Source       MessageSource
	SourceLabels script.SourceEndpoint
	IR           *script.IR
	PollInterval time.Duration
	Metrics      *Metrics
	Logger       lalog.Logger

	backoff      Backoff
	highWaterUID uint32
}

// NewFolder constructs a folder task. pollInterval governs both the
// IDLE/poll fallback cadence and has no bearing on reconnect backoff,
// which instead ranges from 1 second to 2 minutes.
func NewFolder(name string, source MessageSource, sourceLabels script.SourceEndpoint, ir *script.IR, pollInterval time.Duration, metrics *Metrics, logger lalog.Logger) *Folder {
	f := &Folder{
		Name:         name,
		Source:       source,
		SourceLabels: sourceLabels,
		IR:           ir,
		PollInterval: pollInterval,
		Metrics:      metrics,
		Logger:       logger,
		backoff:      Backoff{MinDelay: time.Second, MaxDelay: 2 * time.Minute},
	}
	f.backoff.Initialise()
	return f
}

// Run connects to the source and processes mail until ctx is canceled.
// Endpoint errors (connect, wait, fetch, or a closure's final disconnect)
// trigger a reconnect with exponential backoff; a single message's
// runtime error is logged and that message is skipped, leaving the rest
// of the folder's processing undisturbed.
func (f *Folder) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f.Source.Connect(ctx); err != nil {
			f.Logger.Warning(f.Name, err, "failed to connect")
			f.Metrics.EndpointErrors.WithLabelValues(f.Name).Inc()
			f.Metrics.Reconnects.WithLabelValues(f.Name).Inc()
			if !f.sleepBackoff(ctx) {
				return ctx.Err()
			}
			continue
		}
		f.backoff.Reset()
		err := f.runConnected(ctx)
		f.Source.Disconnect(ctx)
		if err == nil {
			return nil // context canceled cleanly mid-loop
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		f.Logger.Warning(f.Name, err, "lost connection to source, reconnecting")
		f.Metrics.EndpointErrors.WithLabelValues(f.Name).Inc()
		f.Metrics.Reconnects.WithLabelValues(f.Name).Inc()
		if !f.sleepBackoff(ctx) {
			return ctx.Err()
		}
	}
}

func (f *Folder) sleepBackoff(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(f.backoff.Next()):
		return true
	}
}

// runConnected loops waiting for activity and processing newly arrived
// mail until an endpoint-level error occurs or ctx is canceled.
func (f *Folder) runConnected(ctx context.Context) error {
	for {
		if err := f.Source.WaitForActivity(ctx, f.PollInterval); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		messages, err := f.Source.FetchSince(ctx, f.highWaterUID)
		if err != nil {
			return err
		}
		for _, msg := range messages {
			if err := f.process(ctx, msg); err != nil {
				return err
			}
		}
	}
}

// process interprets one message's script and advances the high-water
// mark once it has committed. A *script.RuntimeError is the message's own
// fault (a malformed or adversarial message tripping a stack-type check)
// and is logged without aborting the folder; any other error is treated
// as an endpoint failure and propagated to trigger a reconnect.
func (f *Folder) process(ctx context.Context, msg script.Message) error {
	f.Metrics.MessagesSeen.WithLabelValues(f.Name).Inc()
	closure := script.NewClosure(f.IR, f.SourceLabels)
	procErr := closure.Process(ctx, msg)
	var runtimeErr *script.RuntimeError
	if procErr != nil && !errors.As(procErr, &runtimeErr) {
		return procErr
	}
	if procErr != nil {
		f.Metrics.ScriptErrors.WithLabelValues(f.Name).Inc()
		f.Logger.Warning(f.Name, procErr, "script runtime error processing message UID %d, skipping", msg.UID())
	}
	if n := closure.Appended(); n > 0 {
		f.Metrics.MessagesAppended.WithLabelValues(f.Name).Add(float64(n))
	}
	if n := closure.Flagged(); n > 0 {
		f.Metrics.MessagesFlagged.WithLabelValues(f.Name).Add(float64(n))
	}
	if closure.Halted() {
		f.Metrics.MessagesHalted.WithLabelValues(f.Name).Inc()
	}
	if err := closure.Finish(ctx); err != nil {
		return err
	}
	if msg.UID() > f.highWaterUID {
		f.highWaterUID = msg.UID()
	}
	return nil
}
