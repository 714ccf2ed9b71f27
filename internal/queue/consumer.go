// Package queue also contains the background consumer that listens to the
// ticket events queue and appends one line per event to tickets.log.
package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "time"

    "github.com/cenkalti/backoff/v4"
    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/railway-reservation/internal/config"
)

// StartTicketConsumer connects to RabbitMQ, declares the events queue
// (durable), and consumes messages until ctx is cancelled.  Broken
// connections are re-dialled with exponential backoff.  A message that
// cannot be handled is rejected without requeue so one bad payload cannot
// stall the queue.
func StartTicketConsumer(ctx context.Context, cfg config.BrokerConfig) error {
    log := logrus.WithField("component", "ticket-consumer")
    b := backoff.NewExponentialBackOff()
    b.InitialInterval = time.Second
    b.MaxInterval = 30 * time.Second
    b.MaxElapsedTime = 0

    for {
        var conn *amqp.Connection
        err := backoff.RetryNotify(func() error {
            var err error
            conn, err = amqp.Dial(cfg.URL)
            return err
        }, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
            log.WithError(err).Warnf("failed to dial broker; retrying in %s", next)
        })
        if err != nil {
            if ctx.Err() != nil {
                return nil
            }
            return err
        }
        b.Reset()

        err = consumeLoop(ctx, conn, cfg)
        _ = conn.Close()
        if ctx.Err() != nil {
            return nil
        }
        log.WithError(err).Warn("consume loop ended; reconnecting")
    }
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, cfg config.BrokerConfig) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        logrus.WithError(err).Warn("ticket-consumer: set QoS failed")
    }
    if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.Consume(cfg.Queue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            if err := handleMessage(cfg.LogDir, d.Body); err != nil {
                logrus.WithError(err).Error("ticket-consumer: handle message failed")
                _ = d.Nack(false, false)
                continue
            }
            _ = d.Ack(false)
        }
    }
}

func handleMessage(dir string, body []byte) error {
    var ev TicketEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    if ev.Kind == "" || ev.TicketID == 0 {
        return errors.New("event without kind or ticket id")
    }
    if err := os.MkdirAll(dir, 0o755); err != nil {
        return fmt.Errorf("mkdir %s: %w", dir, err)
    }
    f, err := os.OpenFile(filepath.Join(dir, "tickets.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return fmt.Errorf("open log file: %w", err)
    }
    defer f.Close()

    if _, err := f.WriteString(formatLine(ev)); err != nil {
        return fmt.Errorf("write log: %w", err)
    }
    return nil
}

func formatLine(ev TicketEvent) string {
    switch ev.Kind {
    case KindBooked:
        line := fmt.Sprintf("[%s] Ticket booked | ticket_id=%d | ref=%s | passenger=%q | status=%s",
            ev.OccurredAt, ev.TicketID, ev.BookingReference, ev.PassengerName, ev.Status)
        if ev.Number > 0 {
            line += fmt.Sprintf(" | number=%d", ev.Number)
        }
        if ev.BerthType != "" {
            line += " | berth=" + ev.BerthType
        }
        if ev.ParentTicketID > 0 {
            line += fmt.Sprintf(" | parent=%d", ev.ParentTicketID)
        }
        return line + "\n"
    case KindPromoted:
        line := fmt.Sprintf("[%s] Ticket promoted | ticket_id=%d | ref=%s | %s -> %s | number=%d",
            ev.OccurredAt, ev.TicketID, ev.BookingReference, ev.From, ev.Status, ev.Number)
        if ev.BerthType != "" {
            line += " | berth=" + ev.BerthType
        }
        return line + "\n"
    }
    return fmt.Sprintf("[%s] Ticket %s | ticket_id=%d | ref=%s | was=%s\n",
        ev.OccurredAt, ev.Kind, ev.TicketID, ev.BookingReference, ev.From)
}
