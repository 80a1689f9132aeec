// Package notifications publishes operational alerts (provider availability,
// budget and quota exhaustion) to SNS. The Bridge converts the internal
// event stream into alerts so the engine itself never depends on SNS.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/execroute/execroute/internal/events"
)

type AlertType string

const (
	AlertProviderDown   AlertType = "provider_down"
	AlertProviderUp     AlertType = "provider_up"
	AlertBudgetExceeded AlertType = "budget_exceeded"
	AlertQuotaExhausted AlertType = "quota_exhausted"
)

type Alert struct {
	Type     AlertType      `json:"type"`
	Provider string         `json:"provider,omitempty"`
	Message  string         `json:"message"`
	Data     map[string]any `json:"data,omitempty"`
}

type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

type SNSNotifier struct {
	client   *sns.Client
	topicArn string
}

func NewSNSNotifier(ctx context.Context, region, topicArn string) (*SNSNotifier, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSNSNotifierWithConfig(cfg, topicArn), nil
}

func NewSNSNotifierWithConfig(cfg aws.Config, topicArn string) *SNSNotifier {
	return &SNSNotifier{
		client:   sns.NewFromConfig(cfg),
		topicArn: topicArn,
	}
}

func (n *SNSNotifier) Send(ctx context.Context, alert Alert) error {
	message, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(n.topicArn),
		Message:  aws.String(string(message)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"Type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(alert.Type)),
			},
		},
	}
	if alert.Provider != "" {
		input.MessageAttributes["Provider"] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(alert.Provider),
		}
	}

	if _, err := n.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}

	slog.Info("alert published", "type", alert.Type, "provider", alert.Provider)
	return nil
}

// LogNotifier writes alerts to the log. Used when no SNS topic is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	n.logger.Warn("alert", "type", alert.Type, "provider", alert.Provider, "message", alert.Message)
	return nil
}

// MemoryNotifier records alerts for tests.
type MemoryNotifier struct {
	mu     sync.Mutex
	alerts []Alert
}

func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

func (n *MemoryNotifier) Send(ctx context.Context, alert Alert) error {
	n.mu.Lock()
	n.alerts = append(n.alerts, alert)
	n.mu.Unlock()
	return nil
}

func (n *MemoryNotifier) Alerts() []Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Alert, len(n.alerts))
	copy(out, n.alerts)
	return out
}

// Bridge consumes the internal event stream and publishes the operationally
// interesting subset as alerts. Send errors are logged and dropped; an alert
// channel outage must never affect dispatch.
type Bridge struct {
	notifier Notifier
	logger   *slog.Logger
}

func NewBridge(notifier Notifier, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{notifier: notifier, logger: logger}
}

// Run forwards events until the channel closes or ctx is cancelled.
func (b *Bridge) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			b.handle(ctx, ev)
		}
	}
}

func (b *Bridge) handle(ctx context.Context, ev events.Event) {
	var alert Alert
	switch ev.Type {
	case events.TypeBreakerTransition:
		to, _ := ev.Fields["to"].(string)
		switch to {
		case "open":
			alert = Alert{
				Type:     AlertProviderDown,
				Provider: ev.Provider,
				Message:  fmt.Sprintf("circuit breaker opened for %s", ev.Provider),
				Data:     ev.Fields,
			}
		case "closed":
			alert = Alert{
				Type:     AlertProviderUp,
				Provider: ev.Provider,
				Message:  fmt.Sprintf("circuit breaker closed for %s", ev.Provider),
				Data:     ev.Fields,
			}
		default:
			return
		}
	case events.TypeCostRejected:
		alert = Alert{
			Type:     AlertBudgetExceeded,
			Provider: ev.Provider,
			Message:  fmt.Sprintf("cost budget exceeded for %s", ev.Provider),
		}
	case events.TypeQuotaRejected:
		alert = Alert{
			Type:     AlertQuotaExhausted,
			Provider: ev.Provider,
			Message:  fmt.Sprintf("free quota exhausted for %s", ev.Provider),
		}
	default:
		return
	}

	if err := b.notifier.Send(ctx, alert); err != nil {
		b.logger.Warn("alert send failed", "type", alert.Type, "error", err)
	}
}
