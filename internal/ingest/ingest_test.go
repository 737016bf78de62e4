package ingest

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/episodic"
	"github.com/fyrsmithlabs/recalld/internal/store"
)

// startTestNATSServer starts an embedded NATS server on a random port.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func newTestSubscriber(t *testing.T) (*Subscriber, *episodic.Service, *nats.Conn) {
	t.Helper()
	server := startTestNATSServer(t)

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	st, err := store.Open(filepath.Join(t.TempDir(), "recall.db"), store.DefaultOptions(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc, err := episodic.NewService(st, zap.NewNop())
	require.NoError(t, err)

	sub, err := NewSubscriber(nc, "experiences.>", svc, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { sub.Stop() })

	return sub, svc, nc
}

func totalEpisodes(t *testing.T, svc *episodic.Service) int64 {
	t.Helper()
	stats, err := svc.ReadStats(context.Background())
	require.NoError(t, err)
	return stats.TotalEpisodes
}

func TestSubscriberRecordsPublishedExperience(t *testing.T) {
	sub, svc, nc := newTestSubscriber(t)
	require.NoError(t, sub.Start(context.Background()))

	envelope := Envelope{
		SignalID: "signal-1",
		RecordRequest: episodic.RecordRequest{
			OperationType: "deploy",
			Outcome:       store.OutcomeSuccess,
			ServerName:    "web-1",
		},
	}
	data, err := json.Marshal(envelope)
	require.NoError(t, err)
	require.NoError(t, nc.Publish("experiences.deploy", data))

	require.Eventually(t, func() bool {
		return totalEpisodes(t, svc) == 1
	}, 5*time.Second, 10*time.Millisecond)

	result, err := svc.RecallByType(context.Background(), "deploy", "", 10)
	require.NoError(t, err)
	require.Len(t, result.Episodes, 1)
	assert.Equal(t, "web-1", result.Episodes[0].ServerName)
}

func TestSubscriberDropsMalformedEnvelope(t *testing.T) {
	sub, svc, nc := newTestSubscriber(t)
	require.NoError(t, sub.Start(context.Background()))

	require.NoError(t, nc.Publish("experiences.deploy", []byte("{not json")))

	valid, err := json.Marshal(Envelope{RecordRequest: episodic.RecordRequest{
		OperationType: "deploy",
		Outcome:       store.OutcomeSuccess,
	}})
	require.NoError(t, err)
	require.NoError(t, nc.Publish("experiences.deploy", valid))

	// Subscription delivery is ordered, so once the valid envelope landed
	// the malformed one has already been dropped.
	require.Eventually(t, func() bool {
		return totalEpisodes(t, svc) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), totalEpisodes(t, svc))
}

func TestSubscriberDropsRejectedExperience(t *testing.T) {
	sub, svc, nc := newTestSubscriber(t)
	require.NoError(t, sub.Start(context.Background()))

	// Missing operation type fails engine validation.
	invalid, err := json.Marshal(Envelope{RecordRequest: episodic.RecordRequest{
		Outcome: store.OutcomeSuccess,
	}})
	require.NoError(t, err)
	require.NoError(t, nc.Publish("experiences.deploy", invalid))

	valid, err := json.Marshal(Envelope{RecordRequest: episodic.RecordRequest{
		OperationType: "deploy",
		Outcome:       store.OutcomeSuccess,
	}})
	require.NoError(t, err)
	require.NoError(t, nc.Publish("experiences.deploy", valid))

	require.Eventually(t, func() bool {
		return totalEpisodes(t, svc) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), totalEpisodes(t, svc))
}

func TestNewSubscriberValidation(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	st, err := store.Open(filepath.Join(t.TempDir(), "recall.db"), store.DefaultOptions(), nil)
	require.NoError(t, err)
	defer st.Close()
	svc, err := episodic.NewService(st, zap.NewNop())
	require.NoError(t, err)

	_, err = NewSubscriber(nil, "experiences.>", svc, nil)
	assert.Error(t, err)

	_, err = NewSubscriber(nc, "", svc, nil)
	assert.Error(t, err)

	_, err = NewSubscriber(nc, "experiences.>", nil, nil)
	assert.Error(t, err)
}

func TestConnectRequiresURL(t *testing.T) {
	_, err := Connect(nil, nil, nil)
	assert.Error(t, err)

	_, err = Connect(&Config{}, nil, nil)
	assert.Error(t, err)
}

func TestNormalizeSignalID(t *testing.T) {
	assert.Equal(t, "abc-123_X", normalizeSignalID("abc-123_X"))

	// Empty and malformed ids are replaced with a UUID.
	assert.NotEmpty(t, normalizeSignalID(""))
	replaced := normalizeSignalID("has spaces!")
	assert.NotEqual(t, "has spaces!", replaced)
	assert.NotEmpty(t, replaced)
}
