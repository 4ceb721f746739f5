package ui

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	prevOut, prevNoColor := Out, color.NoColor
	buf := &bytes.Buffer{}
	Out = buf
	color.NoColor = true
	t.Cleanup(func() {
		Out = prevOut
		color.NoColor = prevNoColor
	})
	return buf
}

func TestStatusLines(t *testing.T) {
	buf := captureOutput(t)

	Header("Summary")
	Successf("%d files ingested", 2)
	Warning("count went backwards")
	Failuref("%s: %s", "a.md", "timeout")

	assert.Equal(t, "Summary\n=======\n✓ 2 files ingested\n! count went backwards\n✗ a.md: timeout\n", buf.String())
}

func TestCountText(t *testing.T) {
	captureOutput(t)

	assert.Equal(t, "0", CountText(0))
	assert.Equal(t, "42", CountText(42))
}

func TestNewProgressBar_DisabledReturnsNil(t *testing.T) {
	assert.Nil(t, NewProgressBar(ProgressConfig{Enabled: false}, 10, "x"))
	assert.Nil(t, NewProgressBar(ProgressConfig{Enabled: true, Writer: &bytes.Buffer{}}, 0, "x"))
	assert.NotNil(t, NewProgressBar(ProgressConfig{Enabled: true, Writer: &bytes.Buffer{}}, 3, "x"))
}
