// Package testutil provides an embedded NATS JetStream server for tests.
package testutil

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

// StartJetStream starts an embedded NATS server with JetStream enabled and
// returns a connection and JetStream context. Cleanup shuts everything
// down.
func StartJetStream(t *testing.T) (*nats.Conn, nats.JetStreamContext, func()) {
	t.Helper()

	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1, // pick a free port
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}

	s, err := server.NewServer(opts)
	require.NoError(t, err)

	go s.Start()
	if !s.ReadyForConnections(10 * time.Second) {
		t.Fatal("Unable to start NATS server")
	}

	nc, err := nats.Connect(s.ClientURL(), nats.Timeout(5*time.Second))
	require.NoError(t, err)

	js, err := nc.JetStream(nats.MaxWait(5 * time.Second))
	require.NoError(t, err)

	cleanup := func() {
		nc.Close()
		s.Shutdown()
	}

	return nc, js, cleanup
}

// SetupJetStream is StartJetStream for tests that only need the JetStream
// context.
func SetupJetStream(t *testing.T) (nats.JetStreamContext, func()) {
	t.Helper()

	_, js, cleanup := StartJetStream(t)
	return js, cleanup
}

// PublishJSON marshals v and publishes it to subject.
func PublishJSON(t *testing.T, js nats.JetStreamContext, subject string, v interface{}) {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)
	_, err = js.Publish(subject, data)
	require.NoError(t, err)
}

// WaitForMessage subscribes to subject and waits for one message,
// unmarshalling it into out when out is non-nil.
func WaitForMessage(t *testing.T, js nats.JetStreamContext, subject string, timeout time.Duration, out interface{}) {
	t.Helper()

	msgCh := make(chan *nats.Msg, 1)
	sub, err := js.Subscribe(subject, func(msg *nats.Msg) {
		select {
		case msgCh <- msg:
		default:
		}
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	select {
	case msg := <-msgCh:
		if out != nil {
			require.NoError(t, json.Unmarshal(msg.Data, out))
		}
	case <-time.After(timeout):
		t.Fatalf("timeout waiting for message on %s", subject)
	}
}
