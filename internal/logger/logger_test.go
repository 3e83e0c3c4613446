package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParsesLevelAndFormat(t *testing.T) {
	log := New("debug", "json")
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	fallback := New("loud", "text")
	assert.Equal(t, logrus.InfoLevel, fallback.GetLevel())
}

func TestComponentField(t *testing.T) {
	var buf bytes.Buffer
	log := New("info", "json")
	log.SetOutput(&buf)

	Component(log, "orchestrator").Info("hello")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "orchestrator", line["component"])
	assert.Equal(t, "hello", line["msg"])
}

func TestLoggerSatisfiesAsynq(t *testing.T) {
	var _ asynq.Logger = Discard()
	assert.Equal(t, asynq.WarnLevel, AsynqLevel("WARN"))
	assert.Equal(t, asynq.InfoLevel, AsynqLevel(""))
}
