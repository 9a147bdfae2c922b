package logger

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSetupFallsBackToInfo(t *testing.T) {
	Setup("nonsense", "json")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestNewWritesServiceField(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug", "json")
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	log.Info().Str("session_id", "s-1").Msg("hello")
	out := buf.String()
	assert.Contains(t, out, `"service":"psytest"`)
	assert.Contains(t, out, `"session_id":"s-1"`)
	assert.Contains(t, out, `"message":"hello"`)
}

func TestWatermillAdapterWritesFields(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	var buf bytes.Buffer
	a := NewWatermillAdapter(zerolog.New(&buf))

	a.With(watermill.LogFields{"topic": "events"}).Error("publish failed", errors.New("boom"), watermill.LogFields{"attempt": 2})

	out := buf.String()
	assert.Contains(t, out, `"component":"watermill"`)
	assert.Contains(t, out, `"topic":"events"`)
	assert.Contains(t, out, `"attempt":2`)
	assert.Contains(t, out, `"error":"boom"`)
}
