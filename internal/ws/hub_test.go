package ws

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/queue-api/internal/model"
	"github.com/clinicore/queue-api/pkg/logger"
	"github.com/clinicore/queue-api/pkg/metrics"
)

// Shared across the package's tests: prometheus collectors register globally
// and must only be created once per process.
var testMetrics = metrics.NewMetrics("ws_test")

func newTestHub() *Hub {
	return NewHub(logger.NewLogger(nil), testMetrics)
}

func addClient(hub *Hub, rooms ...string) *Client {
	client := newClient(hub, nil, rooms)
	hub.Register(client)
	return client
}

func receive(t *testing.T, client *Client) []byte {
	t.Helper()
	select {
	case payload := <-client.send:
		return payload
	case <-time.After(time.Second):
		t.Fatal("expected a message")
		return nil
	}
}

func assertNoMessage(t *testing.T, client *Client) {
	t.Helper()
	select {
	case payload := <-client.send:
		t.Fatalf("unexpected message: %s", payload)
	default:
	}
}

func TestBroadcastRoutesByRoom(t *testing.T) {
	hub := newTestHub()
	doctorRoom := model.DoctorRoom(uuid.New().String())

	console := addClient(hub, doctorRoom)
	display := addClient(hub, model.RoomDisplay)
	otherConsole := addClient(hub, model.DoctorRoom(uuid.New().String()))

	payload := []byte(`{"type":"PATIENT_CALLED"}`)
	hub.Broadcast([]string{doctorRoom, model.RoomDisplay}, payload)

	assert.Equal(t, payload, receive(t, console))
	assert.Equal(t, payload, receive(t, display))
	assertNoMessage(t, otherConsole)
}

func TestBroadcastDeliversOncePerClient(t *testing.T) {
	hub := newTestHub()
	doctorRoom := model.DoctorRoom(uuid.New().String())

	// Subscribed to both target rooms; must still get one copy.
	both := addClient(hub, doctorRoom, model.RoomDisplay)

	hub.Broadcast([]string{doctorRoom, model.RoomDisplay}, []byte("x"))

	receive(t, both)
	assertNoMessage(t, both)
}

func TestBroadcastDropsForSlowSubscriber(t *testing.T) {
	hub := newTestHub()
	slow := addClient(hub, model.RoomDisplay)

	for i := 0; i < sendBuffer; i++ {
		slow.send <- []byte("backlog")
	}

	// Must not block even though the subscriber's buffer is full.
	done := make(chan struct{})
	go func() {
		hub.Broadcast([]string{model.RoomDisplay}, []byte("dropped"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a slow subscriber")
	}
	assert.Len(t, slow.send, sendBuffer)
}

func TestJoinAndLeave(t *testing.T) {
	hub := newTestHub()
	doctorRoom := model.DoctorRoom(uuid.New().String())
	client := addClient(hub)

	hub.Join(client, doctorRoom)
	assert.Equal(t, 1, hub.RoomCount(doctorRoom))

	hub.Broadcast([]string{doctorRoom}, []byte("in"))
	receive(t, client)

	hub.Leave(client, doctorRoom)
	assert.Zero(t, hub.RoomCount(doctorRoom))

	hub.Broadcast([]string{doctorRoom}, []byte("out"))
	assertNoMessage(t, client)
}

func TestUnregisterRemovesFromAllRooms(t *testing.T) {
	hub := newTestHub()
	doctorRoom := model.DoctorRoom(uuid.New().String())
	client := addClient(hub, doctorRoom, model.RoomDisplay)

	hub.Unregister(client)

	assert.Zero(t, hub.RoomCount(doctorRoom))
	assert.Zero(t, hub.RoomCount(model.RoomDisplay))

	select {
	case <-client.done:
	default:
		t.Fatal("expected done channel to be closed")
	}

	// Unregistering twice must not panic on the closed channel.
	hub.Unregister(client)
}

type stubBroker struct {
	msgs chan []byte
}

func (b *stubBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	return nil
}

func (b *stubBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return b.msgs, nil
}

func (b *stubBroker) Close() error { return nil }

func TestRunRoutesBrokerEvents(t *testing.T) {
	hub := newTestHub()
	doctorID := uuid.New()
	console := addClient(hub, model.DoctorRoom(doctorID.String()))

	broker := &stubBroker{msgs: make(chan []byte, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- hub.Run(ctx, broker) }()

	evt := &model.QueueEvent{
		Type:  model.EventPatientCalled,
		Rooms: []string{model.DoctorRoom(doctorID.String())},
	}
	payload, err := evt.Marshal()
	require.NoError(t, err)
	broker.msgs <- payload

	assert.Equal(t, payload, receive(t, console))

	close(broker.msgs)
	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not stop when the subscription closed")
	}
}

func TestValidRoom(t *testing.T) {
	assert.True(t, validRoom(model.RoomDisplay))
	assert.True(t, validRoom("doctor:123"))
	assert.False(t, validRoom("doctor:"))
	assert.False(t, validRoom("kitchen"))
	assert.False(t, validRoom(""))
}
