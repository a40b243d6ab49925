package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/growrack-core/internal/automation"
	"github.com/nerrad567/growrack-core/internal/infrastructure/config"
	"github.com/nerrad567/growrack-core/internal/infrastructure/mqtt"
)

var observed = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// ─── Fakes ──────────────────────────────────────────────────────────────────

type fakeEngine struct {
	mu       sync.Mutex
	readings []automation.SensorReading
	err      error
}

func (e *fakeEngine) Submit(r automation.SensorReading) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.readings = append(e.readings, r)
	return nil
}

func (e *fakeEngine) submitted() []automation.SensorReading {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]automation.SensorReading(nil), e.readings...)
}

type fakeRacks map[string]bool

func (f fakeRacks) IsActive(rackID string) bool {
	active, ok := f[rackID]
	return !ok || active
}

type fakeTelemetry struct {
	mu     sync.Mutex
	points []string
}

func (f *fakeTelemetry) WriteReading(rackID string, _, _, moisture, _ float64, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, fmt.Sprintf("%s:%g", rackID, moisture))
}

type fakeSubscriber struct {
	topics   map[string]mqtt.MessageHandler
	unsubbed []string
	err      error
}

func (s *fakeSubscriber) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	if s.err != nil {
		return s.err
	}
	if s.topics == nil {
		s.topics = make(map[string]mqtt.MessageHandler)
	}
	s.topics[topic] = h
	return nil
}

func (s *fakeSubscriber) Unsubscribe(topic string) error {
	s.unsubbed = append(s.unsubbed, topic)
	return nil
}

// fakeReader yields queued results, then blocks until ctx is cancelled.
type fakeReader struct {
	results chan readResult
}

type readResult struct {
	msg kafkago.Message
	err error
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafkago.Message, error) {
	select {
	case res := <-r.results:
		return res.msg, res.err
	case <-ctx.Done():
		return kafkago.Message{}, ctx.Err()
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

type fixture struct {
	ingress   *Ingress
	engine    *fakeEngine
	telemetry *fakeTelemetry
	reg       *prometheus.Registry
}

func newFixture(t *testing.T, racks fakeRacks) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	f := &fixture{engine: &fakeEngine{}, telemetry: &fakeTelemetry{}, reg: reg}
	in, err := New(Deps{
		Engine:    f.engine,
		Racks:     racks,
		Telemetry: f.telemetry,
		Metrics:   NewMetrics(reg),
	}, Config{DedupTTL: time.Minute, DedupMaxEntries: 100})
	require.NoError(t, err)
	f.ingress = in
	return f
}

func (f *fixture) count(source, result string) float64 {
	return testutil.ToFloat64(f.ingress.metrics.messages.WithLabelValues(source, result))
}

func payload(t *testing.T, rackID string, moisture float64, at time.Time) []byte {
	t.Helper()
	doc := map[string]any{
		"temperature": 22.0,
		"humidity":    55.0,
		"moisture":    moisture,
		"light_level": 300.0,
		"observed_at": at.Format(time.RFC3339Nano),
	}
	if rackID != "" {
		doc["rack_id"] = rackID
	}
	b, err := json.Marshal(doc)
	require.NoError(t, err)
	return b
}

// ─── MQTT ───────────────────────────────────────────────────────────────────

func TestNew_RequiresEngine(t *testing.T) {
	_, err := New(Deps{}, Config{})
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, nil)
	sub := &fakeSubscriber{}

	require.NoError(t, f.ingress.Start(sub))
	assert.Contains(t, sub.topics, "growrack/reading/+")

	require.NoError(t, f.ingress.Stop(sub))
	assert.Equal(t, []string{"growrack/reading/+"}, sub.unsubbed)

	failing := &fakeSubscriber{err: errors.New("not connected")}
	assert.Error(t, f.ingress.Start(failing))
}

func TestHandleMQTT_Accepted(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.ingress.HandleMQTT("growrack/reading/rack-a", payload(t, "rack-a", 20, observed)))

	got := f.engine.submitted()
	require.Len(t, got, 1)
	assert.Equal(t, "rack-a", got[0].RackID)
	assert.Equal(t, 20.0, got[0].Moisture)
	assert.True(t, got[0].ObservedAt.Equal(observed))
	assert.Equal(t, []string{"rack-a:20"}, f.telemetry.points)
	assert.Equal(t, 1.0, f.count(SourceMQTT, resultAccepted))
}

func TestHandleMQTT_RackFromTopic(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.ingress.HandleMQTT("growrack/reading/rack-b", payload(t, "", 20, observed)))
	got := f.engine.submitted()
	require.Len(t, got, 1)
	assert.Equal(t, "rack-b", got[0].RackID)
}

func TestHandleMQTT_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload func(t *testing.T) []byte
		wantErr error
		result  string
	}{
		{
			name:    "bad topic",
			topic:   "growrack/reading/rack-a/extra",
			payload: func(t *testing.T) []byte { return payload(t, "rack-a", 20, observed) },
			wantErr: ErrDecode,
			result:  resultMalformed,
		},
		{
			name:    "bad json",
			topic:   "growrack/reading/rack-a",
			payload: func(*testing.T) []byte { return []byte("{not json") },
			wantErr: ErrDecode,
			result:  resultMalformed,
		},
		{
			name:    "rack mismatch",
			topic:   "growrack/reading/rack-a",
			payload: func(t *testing.T) []byte { return payload(t, "rack-b", 20, observed) },
			wantErr: ErrTopicMismatch,
			result:  resultMalformed,
		},
		{
			name:    "out of range",
			topic:   "growrack/reading/rack-a",
			payload: func(t *testing.T) []byte { return payload(t, "rack-a", 120, observed) },
			wantErr: automation.ErrInvalidReading,
			result:  resultInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			err := f.ingress.HandleMQTT(tt.topic, tt.payload(t))
			require.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.engine.submitted())
			assert.Equal(t, 1.0, f.count(SourceMQTT, tt.result))
		})
	}
}

func TestHandleMQTT_DuplicateDropped(t *testing.T) {
	f := newFixture(t, nil)
	msg := payload(t, "rack-a", 20, observed)

	require.NoError(t, f.ingress.HandleMQTT("growrack/reading/rack-a", msg))
	require.NoError(t, f.ingress.HandleMQTT("growrack/reading/rack-a", msg), "duplicates are not errors")

	assert.Len(t, f.engine.submitted(), 1)
	assert.Len(t, f.telemetry.points, 1, "no telemetry for duplicates")
	assert.Equal(t, 1.0, f.count(SourceMQTT, resultDuplicate))
}

func TestHandleMQTT_SameTimeDifferentRacks(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.ingress.HandleMQTT("growrack/reading/rack-a", payload(t, "rack-a", 20, observed)))
	require.NoError(t, f.ingress.HandleMQTT("growrack/reading/rack-b", payload(t, "rack-b", 20, observed)))
	assert.Len(t, f.engine.submitted(), 2)
}

func TestAccept_OutOfOrder(t *testing.T) {
	f := newFixture(t, nil)
	r := automation.SensorReading{RackID: "rack-a", Temperature: 22, Humidity: 55, Moisture: 20, LightLevel: 300}

	r.ObservedAt = observed.Add(time.Minute)
	require.NoError(t, f.ingress.Accept(SourceMQTT, r))

	r.ObservedAt = observed
	require.ErrorIs(t, f.ingress.Accept(SourceMQTT, r), ErrOutOfOrder)

	r.ObservedAt = observed.Add(2 * time.Minute)
	require.NoError(t, f.ingress.Accept(SourceMQTT, r))

	assert.Len(t, f.engine.submitted(), 2)
	assert.Equal(t, 1.0, f.count(SourceMQTT, resultOutOfOrder))
}

func TestForget_ClearsHighWaterMark(t *testing.T) {
	f := newFixture(t, nil)
	r := automation.SensorReading{RackID: "rack-a", Temperature: 22, Humidity: 55, Moisture: 20, LightLevel: 300}

	r.ObservedAt = observed.Add(time.Hour)
	require.NoError(t, f.ingress.Accept(SourceMQTT, r))

	f.ingress.Forget("rack-a")
	f.ingress.Forget("rack-never-seen")

	// A re-created rack whose gateway clock restarted earlier is accepted.
	r.ObservedAt = observed
	require.NoError(t, f.ingress.Accept(SourceMQTT, r))

	f.ingress.mu.Lock()
	n := len(f.ingress.latest)
	f.ingress.mu.Unlock()
	assert.Equal(t, 1, n)
}

func TestAccept_InactiveRack(t *testing.T) {
	f := newFixture(t, fakeRacks{"rack-off": false})

	err := f.ingress.Accept(SourceMQTT, automation.SensorReading{
		RackID: "rack-off", Temperature: 22, Humidity: 55, Moisture: 20, LightLevel: 300, ObservedAt: observed,
	})
	require.ErrorIs(t, err, ErrRackInactive)
	assert.Empty(t, f.engine.submitted())
	assert.Len(t, f.telemetry.points, 1, "telemetry is still recorded for inactive racks")
	assert.Equal(t, 1.0, f.count(SourceMQTT, resultInactive))
}

func TestHandleMQTT_QueueFullIsNotAnError(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.err = fmt.Errorf("%w: rack rack-a", automation.ErrQueueFull)

	require.NoError(t, f.ingress.HandleMQTT("growrack/reading/rack-a", payload(t, "rack-a", 20, observed)))
	assert.Equal(t, 1.0, f.count(SourceMQTT, resultRejected))
}

func TestHandleMQTT_RackStoppingIsNotAnError(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.err = fmt.Errorf("%w: rack rack-a", automation.ErrRackStopping)

	require.NoError(t, f.ingress.HandleMQTT("growrack/reading/rack-a", payload(t, "rack-a", 20, observed)))
	assert.Equal(t, 1.0, f.count(SourceMQTT, resultRejected))
}

func TestHandleMQTT_EngineClosedIsReported(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.err = automation.ErrEngineClosed

	err := f.ingress.HandleMQTT("growrack/reading/rack-a", payload(t, "rack-a", 20, observed))
	require.ErrorIs(t, err, automation.ErrEngineClosed)
}

func TestNilMetricsAndOptionalDeps(t *testing.T) {
	engine := &fakeEngine{}
	in, err := New(Deps{Engine: engine}, Config{})
	require.NoError(t, err)

	require.NoError(t, in.HandleMQTT("growrack/reading/rack-a", payload(t, "rack-a", 20, observed)))
	assert.Len(t, engine.submitted(), 1)
}

// ─── Kafka ──────────────────────────────────────────────────────────────────

func TestRunKafka(t *testing.T) {
	f := newFixture(t, nil)
	reader := &fakeReader{results: make(chan readResult, 4)}

	reader.results <- readResult{msg: kafkago.Message{Key: []byte("rack-k"), Value: payload(t, "", 20, observed)}}
	reader.results <- readResult{err: errors.New("broker unavailable")}
	reader.results <- readResult{msg: kafkago.Message{Value: []byte("garbage")}}
	reader.results <- readResult{msg: kafkago.Message{Key: []byte("rack-k"), Value: payload(t, "rack-k", 25, observed.Add(time.Second))}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.ingress.RunKafka(ctx, reader) }()

	require.Eventually(t, func() bool { return len(f.engine.submitted()) == 2 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("RunKafka did not return after cancel")
	}

	got := f.engine.submitted()
	assert.Equal(t, "rack-k", got[0].RackID)
	assert.Equal(t, 25.0, got[1].Moisture)
	assert.Equal(t, 2.0, f.count(SourceKafka, resultAccepted))
	assert.Equal(t, 1.0, f.count(SourceKafka, resultMalformed))
}

func TestNewConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Automation.Dedup.TTL = 30
	cfg.Automation.Dedup.MaxEntries = 500

	got := NewConfig(cfg)
	assert.Equal(t, 30*time.Second, got.DedupTTL)
	assert.Equal(t, 500, got.DedupMaxEntries)
}
