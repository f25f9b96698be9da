package dialog

import (
	"context"

	"github.com/BaSui01/botflow/types"
)

// Hooks are the extension points the engine invokes at protocol
// boundaries. Hook failures are logged and never interrupt traversal.
type Hooks interface {
	// BeforeConversationEnd runs when a turn is about to end the whole
	// conversation (end of flow with an empty jump stack).
	BeforeConversationEnd(ctx context.Context, event *types.IncomingEvent) error

	// BeforeSessionTimeout runs before the timeout path is traversed for
	// a stale context.
	BeforeSessionTimeout(ctx context.Context, event *types.IncomingEvent) error
}

// NopHooks is the default no-op Hooks implementation.
type NopHooks struct{}

func (NopHooks) BeforeConversationEnd(context.Context, *types.IncomingEvent) error { return nil }
func (NopHooks) BeforeSessionTimeout(context.Context, *types.IncomingEvent) error  { return nil }

var _ Hooks = NopHooks{}
