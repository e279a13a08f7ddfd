package setup

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cart-safety-engine/internal/domain"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(domain.LoggingConfig{Level: "debug", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	logger, err = NewLogger(domain.LoggingConfig{Level: "warn", Format: "text", Output: "stderr"})
	require.NoError(t, err)
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)

	_, err = NewLogger(domain.LoggingConfig{Level: "verbose"})
	assert.Error(t, err)

	_, err = NewLogger(domain.LoggingConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
