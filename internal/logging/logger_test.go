package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	Configure(logger, Options{Level: "warn", Output: &buf})

	Component(logger, "apikeys").Info("dropped")
	Component(logger, "apikeys").WithField("key_id", "key_1").Warn("negative balance")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "negative balance", entry["msg"])
	assert.Equal(t, "apikeys", entry["component"])
	assert.Equal(t, "key_1", entry["key_id"])
	assert.Equal(t, "warning", entry["level"])
}

func TestConfigure_Local(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	Configure(logger, Options{Level: "error", Local: true, Output: &buf})

	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	logger.Debug("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestConfigure_InvalidLevel(t *testing.T) {
	logger := logrus.New()
	Configure(logger, Options{Level: "chatty"})
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}

func TestIsLocal(t *testing.T) {
	t.Setenv("LOCAL", "TRUE")
	assert.True(t, IsLocal())

	t.Setenv("LOCAL", "0")
	assert.False(t, IsLocal())
}
