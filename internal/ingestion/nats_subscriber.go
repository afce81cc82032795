package ingestion

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds commands
// into the deterministic core via the eventChan. JetStream is the primary
// high-throughput ingestion surface; each command type has its own subject
// so consumers can scale independently.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
}

// RawEvent is the parsed-but-untyped command from NATS, ready for the shell
// to validate and convert into a typed event.Event before sending to the core.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // Call to ACK the NATS message after successful processing
	NakFunc   func() // Call to NAK on failure (will be redelivered)
}

// SubjectConfig maps NATS subjects to event types.
type SubjectConfig struct {
	Subject      string
	EventType    string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration. User commands,
// operator triggers and admin commands live on separate streams.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "stake.cmd.deposit.>", EventType: "DepositRequested", ConsumerName: "pool-deposit", StreamName: "STAKE_COMMANDS"},
		{Subject: "stake.cmd.redeem.>", EventType: "RedemptionRequested", ConsumerName: "pool-redeem", StreamName: "STAKE_COMMANDS"},
		{Subject: "stake.cmd.claim.>", EventType: "ClaimRequested", ConsumerName: "pool-claim", StreamName: "STAKE_COMMANDS"},
		{Subject: "stake.ops.delegate.>", EventType: "DelegationTriggered", ConsumerName: "pool-delegate", StreamName: "STAKE_OPS"},
		{Subject: "stake.ops.redelegate.>", EventType: "RedelegationTriggered", ConsumerName: "pool-redelegate", StreamName: "STAKE_OPS"},
		{Subject: "stake.ops.compound.>", EventType: "CompoundTriggered", ConsumerName: "pool-compound", StreamName: "STAKE_OPS"},
		{Subject: "stake.ops.close.>", EventType: "BatchCloseTriggered", ConsumerName: "pool-close", StreamName: "STAKE_OPS"},
		{Subject: "stake.ops.confirm.>", EventType: "ConfirmationTriggered", ConsumerName: "pool-confirm", StreamName: "STAKE_OPS"},
		{Subject: "stake.ops.recover.>", EventType: "RecoveryTriggered", ConsumerName: "pool-recover", StreamName: "STAKE_OPS"},
		{Subject: "stake.admin.params.>", EventType: "ParamsUpdated", ConsumerName: "pool-params", StreamName: "STAKE_ADMIN"},
		{Subject: "stake.admin.role.grant.>", EventType: "RoleGranted", ConsumerName: "pool-role-grant", StreamName: "STAKE_ADMIN"},
		{Subject: "stake.admin.role.revoke.>", EventType: "RoleRevoked", ConsumerName: "pool-role-revoke", StreamName: "STAKE_ADMIN"},
		{Subject: "stake.admin.manager.propose.>", EventType: "ManagerProposed", ConsumerName: "pool-mgr-propose", StreamName: "STAKE_ADMIN"},
		{Subject: "stake.admin.manager.accept.>", EventType: "ManagerAccepted", ConsumerName: "pool-mgr-accept", StreamName: "STAKE_ADMIN"},
		{Subject: "stake.admin.pause.>", EventType: "PauseSet", ConsumerName: "pool-pause", StreamName: "STAKE_ADMIN"},
	}
}

// ResolveEventType maps an incoming subject to its event type using the
// longest matching subject prefix. Returns an error for unrecognized
// subjects so the shell can drop them instead of feeding garbage to the
// parser.
func ResolveEventType(subject string, subjects []SubjectConfig) (string, error) {
	best := ""
	bestLen := -1
	for _, cfg := range subjects {
		prefix := strings.TrimSuffix(cfg.Subject, ">")
		if strings.HasPrefix(subject, prefix) && len(prefix) > bestLen {
			best = cfg.EventType
			bestLen = len(prefix)
		}
	}
	if bestLen < 0 {
		return "", fmt.Errorf("no event type for subject %s", subject)
	}
	return best, nil
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.eventChan <- raw:
				// Successfully queued for processing
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		log.Printf("INFO: subscribed to %s (consumer=%s)", cfg.Subject, cfg.ConsumerName)
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h; Postgres is the
// durable event log, NATS only has to cover redelivery windows.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "STAKE_COMMANDS",
			Subjects:  []string{"stake.cmd.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "STAKE_OPS",
			Subjects:  []string{"stake.ops.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "STAKE_ADMIN",
			Subjects:  []string{"stake.admin.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Printf("INFO: ensured stream %s", cfg.Name)
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	log.Println("INFO: NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
