package logutil

import (
    "bytes"
    "encoding/json"
    "strings"
    "testing"

    "github.com/hashicorp/go-hclog"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestNew_JSONOutput(t *testing.T) {
    var buf bytes.Buffer
    SetOutput(&buf)
    SetJSON(true)
    t.Cleanup(func() { SetOutput(nil); SetJSON(false) })

    New("test").Info("granted", "component", "rest")
    var line map[string]any
    require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
    assert.Equal(t, "granted", line["@message"])
    assert.Equal(t, "test", line["@module"])
    assert.Equal(t, "rest", line["component"])
}

func TestNamed_NilFallsBack(t *testing.T) {
    var buf bytes.Buffer
    SetOutput(&buf)
    t.Cleanup(func() { SetOutput(nil) })

    Named(nil, "raft").Warn("barrier failed")
    assert.True(t, strings.Contains(buf.String(), "raft: barrier failed"), buf.String())
}

func TestStd_InfersLevels(t *testing.T) {
    var buf bytes.Buffer
    SetOutput(&buf)
    t.Cleanup(func() { SetOutput(nil) })

    Std(New("memberlist")).Printf("[WARN] memberlist: refuting a suspect message")
    assert.Contains(t, buf.String(), "[WARN]")
}

func TestParseLevel(t *testing.T) {
    lv, ok := ParseLevel(" Debug ")
    assert.True(t, ok)
    assert.Equal(t, hclog.Debug, lv)
    _, ok = ParseLevel("loud")
    assert.False(t, ok)
}

func TestSetOutput_AcceptsAnyWriter(t *testing.T) {
    t.Cleanup(func() { SetOutput(nil) })
    var buf bytes.Buffer
    var sb strings.Builder
    require.NotPanics(t, func() {
        SetOutput(&buf)
        New("a").Info("to buffer")
        SetOutput(&sb)
        New("b").Info("to builder")
        SetOutput(nil)
    })
    assert.Contains(t, buf.String(), "to buffer")
    assert.Contains(t, sb.String(), "to builder")
}
