// Package queue_publisher provides functions to publish ticket events to RabbitMQ.
// Errors are logged and returned to allow callers to ignore failures without
// interrupting the main request flow.
package queue_publisher

import (
    "context"
    "encoding/json"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/railway-reservation/internal/config"
    q "github.com/iliyamo/railway-reservation/internal/queue"
)

// Publisher sends TicketEvents to the configured queue.  It dials once per
// batch; ticket traffic is low enough that a pooled connection is not
// worth its reconnect handling.
type Publisher struct {
    cfg config.BrokerConfig
}

// New returns a Publisher.  With events disabled every call is a no-op.
func New(cfg config.BrokerConfig) *Publisher { return &Publisher{cfg: cfg} }

// Publish sends events in order on one channel.  Messages are marked as
// persistent.  The first failure stops the batch.
func (p *Publisher) Publish(ctx context.Context, events ...q.TicketEvent) error {
    if p == nil || !p.cfg.Enabled || len(events) == 0 {
        return nil
    }
    log := logrus.WithField("component", "publisher")

    conn, err := amqp.Dial(p.cfg.URL)
    if err != nil {
        log.WithError(err).Warn("rabbitmq: dial failed")
        return err
    }
    defer func() { _ = conn.Close() }()

    ch, err := conn.Channel()
    if err != nil {
        log.WithError(err).Warn("rabbitmq: channel open failed")
        return err
    }
    defer func() { _ = ch.Close() }()

    // Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
    if _, err := ch.QueueDeclare(
        p.cfg.Queue, // name
        true,        // durable
        false,       // autoDelete
        false,       // exclusive
        false,       // noWait
        nil,         // args
    ); err != nil {
        log.WithError(err).Warn("rabbitmq: queue declare failed")
        return err
    }

    for _, ev := range events {
        body, err := json.Marshal(ev)
        if err != nil {
            log.WithError(err).Warn("rabbitmq: marshal event failed")
            return err
        }
        pub := amqp.Publishing{
            ContentType:  "application/json",
            DeliveryMode: amqp.Persistent, // store on disk
            Timestamp:    time.Now().UTC(),
            Type:         ev.Kind,
            Body:         body,
        }
        if err := ch.PublishWithContext(ctx,
            "",          // default exchange
            p.cfg.Queue, // routing key = queue name
            false,       // mandatory
            false,       // immediate
            pub,
        ); err != nil {
            log.WithError(err).WithField("ticket_id", ev.TicketID).Warn("rabbitmq: publish failed")
            return err
        }
    }
    return nil
}
