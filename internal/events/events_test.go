package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
	"github.com/stemsi/psytest-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func session(status model.Status) *model.Session {
	s := model.NewSession("s-1", "u-1", model.UserInfo{Name: "Ayu"}, time.Now())
	s.Status = status
	return s
}

func TestDiffCreated(t *testing.T) {
	evs := Diff(nil, session(model.StatusCreated))
	require.Len(t, evs, 1)
	assert.Equal(t, TypeSessionCreated, evs[0].Type)
	assert.Equal(t, "created", evs[0].Status)
}

func TestDiffSectionMerge(t *testing.T) {
	before := session(model.StatusGenerating)
	after := before.Clone()
	after.MergeSection(model.SectionBehavioral, nil)

	evs := Diff(before, after)
	require.Len(t, evs, 2)
	assert.Equal(t, TypeSectionReady, evs[0].Type)
	assert.Equal(t, "behavioral", evs[0].Section)
	assert.Equal(t, TypeStatusChanged, evs[1].Type)
	assert.Equal(t, "partial_ready", evs[1].Status)
	assert.Equal(t, "generating", evs[1].Payload["previous_status"])
}

func TestDiffCompletionAndReport(t *testing.T) {
	before := session(model.StatusInProgress)
	after := before.Clone()
	after.Status = model.StatusCompleted

	types := func(evs []Event) []Type {
		out := make([]Type, len(evs))
		for i, e := range evs {
			out[i] = e.Type
		}
		return out
	}
	assert.Equal(t, []Type{TypeStatusChanged, TypeSessionCompleted}, types(Diff(before, after)))

	withReport := after.Clone()
	withReport.Report = &model.Report{PerformanceBucket: model.BucketGood, GeneratedAt: time.Now()}
	assert.Equal(t, []Type{TypeReportGenerated}, types(Diff(after, withReport)))
	assert.Empty(t, Diff(withReport, withReport.Clone()))
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, ...Event) error { return errors.New("broker down") }
func (failingPublisher) Close() error                            { return nil }

func TestEmitterSurvivesFailingSink(t *testing.T) {
	mem := NewMemoryPublisher()
	e := NewEmitter(zerolog.Nop(), failingPublisher{}, mem)

	e.SessionChanged(context.Background(), nil, session(model.StatusCreated))
	e.Emit(context.Background(), ViolationEvent(model.ProctoringViolation{ID: "v-1", SessionID: "s-1", Type: model.ViolationTabSwitch}))

	assert.Equal(t, []Type{TypeSessionCreated, TypeViolationRecorded}, mem.Types())
	assert.NoError(t, e.Close())
}

func TestChannelPublisherDelivers(t *testing.T) {
	pub, ch := NewChannelPublisher("assessment.events", watermill.NopLogger{})
	defer pub.Close()

	msgs, err := ch.Subscribe(context.Background(), "assessment.events")
	require.NoError(t, err)

	ev := Diff(nil, session(model.StatusCreated))[0]
	require.NoError(t, pub.Publish(context.Background(), ev))

	select {
	case msg := <-msgs:
		assert.Equal(t, string(TypeSessionCreated), msg.Metadata.Get("event_type"))
		var got Event
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		assert.Equal(t, ev.ID, got.ID)
		assert.Equal(t, "s-1", got.SessionID)
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLogSubscriberWritesEvents(t *testing.T) {
	pub, ch := NewChannelPublisher("assessment.events", watermill.NopLogger{})
	defer pub.Close()

	var out syncBuffer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, LogSubscriber(ctx, ch, "assessment.events", zerolog.New(&out)))

	require.NoError(t, pub.Publish(ctx, Diff(nil, session(model.StatusCreated))...))

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"event_type":"session.created"`)
	}, 2*time.Second, 20*time.Millisecond)
	assert.Contains(t, out.String(), `"session_id":"s-1"`)
}
