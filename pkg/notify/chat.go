package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/agentmesh/agentmesh/pkg/types"
)

// chatPoster is the slice of the Slack API the sink needs.
type chatPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// ChatSink posts alert messages to a chat room via the Slack API.
type ChatSink struct {
	client chatPoster
}

// NewChatSink builds a chat sink with the given bot token.
func NewChatSink(token string) *ChatSink {
	return &ChatSink{client: slack.New(token)}
}

func (s *ChatSink) Kind() string { return "chat" }

func (s *ChatSink) Deliver(ctx context.Context, alert types.Alert, rule types.AlertRule, cfg types.SinkConfig) error {
	channel := cfg.Settings["channel"]
	if channel == "" {
		return fmt.Errorf("chat sink requires a channel setting")
	}

	text := fmt.Sprintf(":rotating_light: *%s* (%s)\nmetric `%s` %s %.4g, observed %.4g",
		rule.Name, rule.Severity, rule.MetricName, rule.Operator, rule.Threshold, alert.Value)
	if alert.State == types.AlertStateResolved {
		text = fmt.Sprintf(":white_check_mark: *%s* resolved, observed %.4g", rule.Name, alert.Value)
	}

	_, _, err := s.client.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("chat post failed: %w", err)
	}
	return nil
}
