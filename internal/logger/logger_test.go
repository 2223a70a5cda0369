package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecentBuffer(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel("info")
	EnableRecent(2)
	t.Cleanup(func() {
		EnableRecent(0)
		ClearRecent()
	})
	ClearRecent()

	Infof("first %d", 1)
	Debugf("hidden")
	Warnf("second")
	Errorf("third")

	lines := Recent()
	if assert.Len(t, lines, 2) {
		assert.Equal(t, "second", lines[0].Message)
		assert.Equal(t, "WARN", lines[0].Level)
		assert.Equal(t, "third", lines[1].Message)
	}
	assert.Contains(t, buf.String(), "first 1")
	assert.NotContains(t, buf.String(), "hidden")

	ClearRecent()
	assert.Empty(t, Recent())
}

func TestRecentDisabled(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	EnableRecent(0)
	ClearRecent()
	Infof("not kept")
	assert.Empty(t, Recent())
}
