package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// MessageType is carried in a header so consumers can route without decoding the value.
const MessageType = "grc.invitation.created"

// Writer is the subset of kafka.Writer used by KafkaSink.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes invitations to a topic for a mailer to consume. Messages are keyed by
// invitation id and the value is a protobuf encoded google.protobuf.Struct.
type KafkaSink struct {
	writer Writer
}

// NewKafkaSink creates a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return NewKafkaSinkWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: 10 * time.Second,
	})
}

// NewKafkaSinkWithWriter allows injecting a test writer.
func NewKafkaSinkWithWriter(w Writer) *KafkaSink {
	return &KafkaSink{writer: w}
}

func (k *KafkaSink) Deliver(ctx context.Context, msg *InvitationMessage) error {
	value, err := EncodeInvitation(msg)
	if err != nil {
		return err
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.InvitationID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(MessageType)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish invitation: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

// EncodeInvitation returns the wire form of msg.
func EncodeInvitation(msg *InvitationMessage) ([]byte, error) {
	s, err := structpb.NewStruct(map[string]any{
		"invitation_id":     msg.InvitationID.String(),
		"organization_id":   msg.OrgID.String(),
		"organization_name": msg.OrganizationName,
		"email":             msg.Email,
		"role":              msg.Role,
		"invited_by":        msg.InvitedBy,
		"accept_url":        msg.AcceptURL,
		"expires_at":        msg.ExpiresAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build invitation payload: %w", err)
	}

	b, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode invitation payload: %w", err)
	}
	return b, nil
}
