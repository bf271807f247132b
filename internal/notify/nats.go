package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// DefaultSubjectPrefix prefixes per-campaign status subjects.
const DefaultSubjectPrefix = "campaign"

// NATSNotifier publishes status events on "<prefix>.<campaignId>.status".
type NATSNotifier struct {
	conn   *nats.Conn
	prefix string
	log    *logrus.Entry
}

// NewNATSNotifier connects to url. Reconnects are unbounded.
func NewNATSNotifier(url, prefix string, timeout time.Duration, log *logrus.Entry) (*NATSNotifier, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "notify")

	conn, err := nats.Connect(url,
		nats.Name("solana-volume-engine"),
		nats.Timeout(timeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return &NATSNotifier{conn: conn, prefix: prefix, log: log}, nil
}

// Subject returns the status subject of a campaign.
func (n *NATSNotifier) Subject(campaignID string) string {
	return fmt.Sprintf("%s.%s.status", n.prefix, campaignID)
}

// NotifyStatus publishes ev. Publishing is buffered by the client and does not block on subscribers.
func (n *NATSNotifier) NotifyStatus(_ context.Context, ev StatusEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}
	if err := n.conn.Publish(n.Subject(ev.CampaignID), data); err != nil {
		return fmt.Errorf("publish status event: %w", err)
	}
	return nil
}

// Close drains pending publishes and closes the connection.
func (n *NATSNotifier) Close() error {
	return n.conn.Drain()
}

var _ Notifier = (*NATSNotifier)(nil)
