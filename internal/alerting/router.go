package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lessond/internal/policy"
)

const instrumentationName = "github.com/fyrsmithlabs/lessond/internal/alerting"

// Notifier delivers an alert to a team.
type Notifier interface {
	Notify(ctx context.Context, team string, alert Alert) error
}

// PolicySource supplies the routing table. *policy.Holder satisfies it.
type PolicySource interface {
	Current() policy.Policy
}

// Router fans alerts out to every notifier for every team routed for the
// alert's severity.
type Router struct {
	policies  PolicySource
	notifiers []Notifier
	logger    *zap.Logger

	routedCounter metric.Int64Counter
}

// NewRouter returns a Router. With no notifiers, Route only counts alerts.
func NewRouter(policies PolicySource, logger *zap.Logger, notifiers ...Notifier) (*Router, error) {
	if policies == nil {
		return nil, errors.New("policy source is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Router{
		policies:  policies,
		notifiers: notifiers,
		logger:    logger,
	}

	var err error
	r.routedCounter, err = otel.Meter(instrumentationName).Int64Counter(
		"lessond.alerts.routed_total",
		metric.WithDescription("Total number of alert deliveries attempted"),
		metric.WithUnit("{alert}"),
	)
	if err != nil {
		logger.Warn("failed to create routed counter", zap.Error(err))
	}
	return r, nil
}

// Route delivers each alert. Delivery continues past failures; all errors
// are joined and returned.
func (r *Router) Route(ctx context.Context, alerts []Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	p := r.policies.Current()

	var errs []error
	for _, a := range alerts {
		for _, team := range p.TeamsFor(string(a.Severity)) {
			for _, n := range r.notifiers {
				if err := n.Notify(ctx, team, a); err != nil {
					errs = append(errs, fmt.Errorf("notifying %s of %s: %w", team, a.Rule, err))
				}
			}
			if r.routedCounter != nil {
				r.routedCounter.Add(ctx, 1, metric.WithAttributes(
					attribute.String("severity", string(a.Severity)),
					attribute.String("team", team),
				))
			}
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes alerts to a zap logger at a level matching severity.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier returns a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, team string, a Alert) error {
	fields := []zap.Field{
		zap.String("team", team),
		zap.String("severity", string(a.Severity)),
		zap.String("rule", a.Rule),
		zap.Float64("value", a.Value),
		zap.Float64("threshold", a.Threshold),
	}
	switch a.Severity {
	case SeverityCritical:
		n.logger.Error(a.Message, fields...)
	case SeverityWarning:
		n.logger.Warn(a.Message, fields...)
	default:
		n.logger.Info(a.Message, fields...)
	}
	return nil
}

// Publisher publishes a message to a subject. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes alerts as JSON to <prefix>.<severity>.<team>.
type NATSNotifier struct {
	pub    Publisher
	prefix string
}

// NewNATSNotifier returns a NATSNotifier publishing under prefix.
func NewNATSNotifier(pub Publisher, prefix string) (*NATSNotifier, error) {
	if pub == nil {
		return nil, errors.New("nats publisher is required")
	}
	if prefix == "" {
		prefix = "lessond.alerts"
	}
	return &NATSNotifier{pub: pub, prefix: prefix}, nil
}

// Subject returns the subject an alert for team is published on.
func (n *NATSNotifier) Subject(severity Severity, team string) string {
	return n.prefix + "." + string(severity) + "." + subjectToken(team)
}

// subjectToken makes team safe as a single NATS subject token.
func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

// Notify implements Notifier.
func (n *NATSNotifier) Notify(_ context.Context, team string, a Alert) error {
	payload := struct {
		Alert
		Team string `json:"team"`
	}{Alert: a, Team: team}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}
	if err := n.pub.Publish(n.Subject(a.Severity, team), data); err != nil {
		return fmt.Errorf("publishing alert: %w", err)
	}
	return nil
}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*NATSNotifier)(nil)
)
