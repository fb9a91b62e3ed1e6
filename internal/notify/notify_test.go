package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type flakySink struct {
	mu        sync.Mutex
	failures  int
	calls     int
	delivered chan *InvitationMessage
}

func (s *flakySink) Deliver(ctx context.Context, msg *InvitationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.calls <= s.failures {
		return errors.New("relay unavailable")
	}
	s.delivered <- msg
	return nil
}

func testMessage() *InvitationMessage {
	return &InvitationMessage{
		InvitationID:     uuid.New(),
		OrgID:            uuid.New(),
		OrganizationName: "Acme",
		Email:            "bob@example.com",
		Role:             "member",
		InvitedBy:        "Alice",
		AcceptURL:        "https://grc.example.com/invitations/abc?expires=1&signature=x",
		ExpiresAt:        time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestDispatcher_RetriesUntilDelivered(t *testing.T) {
	sink := &flakySink{failures: 2, delivered: make(chan *InvitationMessage, 1)}
	d, err := NewDispatcher(sink, DispatcherConfig{Workers: 1, InitialInterval: time.Millisecond})
	require.NoError(t, err)
	defer func() { _ = d.Close(time.Second) }()

	msg := testMessage()

	ctx, cancel := context.WithCancel(context.Background())
	d.NotifyInvitation(ctx, msg)
	cancel() // request finished, delivery continues

	select {
	case got := <-sink.delivered:
		require.Equal(t, msg.InvitationID, got.InvitationID)
	case <-time.After(5 * time.Second):
		t.Fatal("notification was not delivered")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Equal(t, 3, sink.calls)
}

func TestDispatcher_GivesUp(t *testing.T) {
	sink := &flakySink{failures: 100, delivered: make(chan *InvitationMessage, 1)}
	d, err := NewDispatcher(sink, DispatcherConfig{Workers: 1, MaxTries: 2, InitialInterval: time.Millisecond})
	require.NoError(t, err)

	d.NotifyInvitation(context.Background(), testMessage())
	require.NoError(t, d.Close(5*time.Second))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Equal(t, 2, sink.calls)
}

type recordingWriter struct {
	messages []kafka.Message
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaSink_Deliver(t *testing.T) {
	w := &recordingWriter{}
	sink := NewKafkaSinkWithWriter(w)
	msg := testMessage()

	require.NoError(t, sink.Deliver(context.Background(), msg))
	require.Len(t, w.messages, 1)

	out := w.messages[0]
	require.Equal(t, msg.InvitationID.String(), string(out.Key))
	require.Equal(t, []kafka.Header{{Key: "type", Value: []byte(MessageType)}}, out.Headers)

	var payload structpb.Struct
	require.NoError(t, proto.Unmarshal(out.Value, &payload))
	fields := payload.AsMap()
	require.Equal(t, "bob@example.com", fields["email"])
	require.Equal(t, "Acme", fields["organization_name"])
	require.Equal(t, "2026-06-01T00:00:00Z", fields["expires_at"])
	require.Equal(t, msg.AcceptURL, fields["accept_url"])
}

func TestLogSink(t *testing.T) {
	require.NoError(t, LogSink{}.Deliver(context.Background(), testMessage()))
}
