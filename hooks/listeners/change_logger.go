// Package listeners provides ready-made hook listeners for common
// observability needs.
package listeners

import (
	"context"
	"log/slog"

	"github.com/INLOpen/nexusconf/hooks"
)

// ChangeLoggerListener logs every committed module change. Register it
// for the PostModuleChange event.
type ChangeLoggerListener struct {
	logger *slog.Logger
}

// NewChangeLoggerListener creates the listener.
func NewChangeLoggerListener(logger *slog.Logger) *ChangeLoggerListener {
	return &ChangeLoggerListener{logger: logger}
}

func (l *ChangeLoggerListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	payload, ok := event.Payload().(hooks.PostModuleChangePayload)
	if !ok {
		return nil
	}
	for _, ch := range payload.Changes {
		l.logger.Info("Configuration changed.",
			"module", payload.Module,
			"datastore", payload.Datastore.String(),
			"kind", ch.Kind.String(),
			"path", ch.Path,
			"old", ch.OldValue,
			"new", ch.NewValue,
		)
	}
	return nil
}

func (l *ChangeLoggerListener) Priority() int { return 100 }

// IsAsync keeps commit latency out of the logging path.
func (l *ChangeLoggerListener) IsAsync() bool { return true }
