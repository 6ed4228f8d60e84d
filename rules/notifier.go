package rules

import (
	"context"
	"log/slog"

	"github.com/warp/tab-engine/billing"
)

// Notification is the side-channel event raised by a notify rule.
type Notification struct {
	TabID   billing.TabID
	ItemID  billing.LineItemID
	GroupID billing.GroupID
	RuleID  billing.RuleID
	Message string
}

// Notifier delivers notify-action events. The real delivery channel
// (email, webhook) lives outside this core.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the structured log. Default when
// no delivery channel is wired.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(_ context.Context, n Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("billing group rule notification",
		"tab_id", n.TabID,
		"item_id", n.ItemID,
		"group_id", n.GroupID,
		"rule_id", n.RuleID,
		"message", n.Message,
	)
	return nil
}
