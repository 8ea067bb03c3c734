package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("2160h")))
	assert.Equal(t, 2160*time.Hour, d.Duration())

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2160h0m0s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestDuration_JSON(t *testing.T) {
	in := struct {
		Timeout Duration `json:"timeout"`
	}{Timeout: Duration(500 * time.Millisecond)}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"timeout":"500ms"}`, string(data))

	var out struct {
		Timeout Duration `json:"timeout"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in.Timeout, out.Timeout)
	assert.Equal(t, 500.0, out.Timeout.Milliseconds())
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("sk-live-123")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "sk-live-123", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(struct{ Key Secret }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-live-123")

	y, err := s.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "[REDACTED]", y)

	var empty Secret
	assert.Equal(t, "", empty.String())
	assert.False(t, empty.IsSet())
}

func TestSecret_Unmarshal(t *testing.T) {
	var s Secret
	require.NoError(t, json.Unmarshal([]byte(`"raw-value"`), &s))
	assert.Equal(t, "raw-value", s.Value())

	require.NoError(t, s.UnmarshalText([]byte("from-env")))
	assert.Equal(t, "from-env", s.Value())
}
