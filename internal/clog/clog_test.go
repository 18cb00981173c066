package clog

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestInitSetsLevel(t *testing.T) {
	cases := []struct {
		level    Level
		expected logrus.Level
	}{
		{DebugLevel, logrus.DebugLevel},
		{InfoLevel, logrus.InfoLevel},
		{WarnLevel, logrus.WarnLevel},
		{ErrorLevel, logrus.ErrorLevel},
		{"bogus", logrus.InfoLevel},
	}
	for _, c := range cases {
		Init(c.level)
		assert.Equal(t, c.expected, Get().GetLevel())
	}
}

func TestGetDefaultsWithoutInit(t *testing.T) {
	mu.Lock()
	log = nil
	mu.Unlock()
	assert.NotNil(t, Get())
}

func TestWithFieldReturnsEntry(t *testing.T) {
	Init(InfoLevel)
	entry := WithField("conn", "c1")
	assert.Equal(t, "c1", entry.Data["conn"])
}
