package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

const (
	NotifyRoundOpened      = "round_opened"
	NotifyRoundClosed      = "round_closed"
	NotifyQuestionAdvanced = "question_advanced"
	NotifyQuestionRevealed = "question_revealed"
)

// Notification is a committed state change fanned out to live listeners.
type Notification struct {
	EventID uint        `json:"event_id"`
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
	At      time.Time   `json:"at"`
}

// Publisher delivers notifications after the owning transaction commits.
// Delivery is best effort and never fails the caller.
type Publisher interface {
	Publish(ctx context.Context, n Notification)
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Notification) {}

// MultiPublisher forwards to every non-nil publisher in order.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, n Notification) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, n)
		}
	}
}

type NatsPublisher struct {
	conn   *nats.Conn
	prefix string
}

// ConnectNats dials the broker; an empty token connects anonymously.
func ConnectNats(url, token string) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}

	opts := []nats.Option{
		nats.Name("eventquiz"),
		nats.MaxReconnects(-1),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return conn, nil
}

func NewNatsPublisher(conn *nats.Conn) *NatsPublisher {
	return &NatsPublisher{conn: conn, prefix: "quiz.events"}
}

// Subject is the NATS subject notifications for eventID are sent on.
func (p *NatsPublisher) Subject(eventID uint) string {
	return fmt.Sprintf("%s.%d", p.prefix, eventID)
}

func (p *NatsPublisher) Publish(_ context.Context, n Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		log.WithError(err).Error("nats: marshal notification")
		return
	}
	if err := p.conn.Publish(p.Subject(n.EventID), data); err != nil {
		log.WithError(err).WithField("type", n.Type).Warn("nats: publish failed")
	}
}
