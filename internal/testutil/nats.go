// Package testutil provides an embedded NATS JetStream server for tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

// RunServer creates a NATS server on a random local port with JetStream
// storing under storeDir
func RunServer(storeDir string) (*server.Server, error) {
	opts := &server.Options{
		Host:           "127.0.0.1",
		Port:           server.RANDOM_PORT,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 4096,
		JetStream:      true,
		StoreDir:       storeDir,
	}

	return server.NewServer(opts)
}

// StartJetStream starts a NATS server with JetStream enabled and connects
// to it. The server and connection are closed by cleanup.
func StartJetStream(t *testing.T) (*server.Server, *nats.Conn, nats.JetStreamContext, func()) {
	t.Helper()

	s, err := RunServer(t.TempDir())
	require.NoError(t, err)

	go s.Start()
	if !s.ReadyForConnections(10 * time.Second) {
		t.Fatal("Unable to start NATS server")
	}

	nc, err := nats.Connect(s.ClientURL(), nats.Timeout(5*time.Second))
	require.NoError(t, err)

	js, err := nc.JetStream(nats.MaxWait(5 * time.Second))
	require.NoError(t, err)

	// the JetStream API can lag behind client readiness
	require.Eventually(t, func() bool {
		_, err := js.AccountInfo(nats.MaxWait(500 * time.Millisecond))
		return err == nil
	}, 10*time.Second, 50*time.Millisecond, "JetStream did not become ready")

	cleanup := func() {
		nc.Close()
		s.Shutdown()
		s.WaitForShutdown()
	}

	return s, nc, js, cleanup
}

// SetupJetStream is StartJetStream for tests that only need the connection
// and the JetStream context
func SetupJetStream(t *testing.T) (*nats.Conn, nats.JetStreamContext) {
	t.Helper()

	_, nc, js, cleanup := StartJetStream(t)
	t.Cleanup(cleanup)
	return nc, js
}

// WaitForStream waits for a stream to be created
func WaitForStream(t *testing.T, js nats.JetStreamContext, name string, timeout time.Duration) error {
	t.Helper()

	start := time.Now()
	for time.Since(start) < timeout {
		_, err := js.StreamInfo(name)
		if err == nil {
			return nil
		}
		if err != nats.ErrStreamNotFound {
			return err
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for stream %s", name)
}

// Collector records the messages published on a subject
type Collector struct {
	ch chan *nats.Msg
}

// Collect subscribes to subject before returning, so later publishes are
// never missed
func Collect(t *testing.T, nc *nats.Conn, subject string) *Collector {
	t.Helper()

	c := &Collector{ch: make(chan *nats.Msg, 256)}
	sub, err := nc.ChanSubscribe(subject, c.ch)
	require.NoError(t, err)
	require.NoError(t, nc.Flush())
	t.Cleanup(func() { sub.Unsubscribe() })
	return c
}

// Next returns the next message or fails the test after timeout
func (c *Collector) Next(t *testing.T, timeout time.Duration) *nats.Msg {
	t.Helper()

	select {
	case msg := <-c.ch:
		return msg
	case <-time.After(timeout):
		t.Fatalf("no message within %s", timeout)
		return nil
	}
}
