package dns

import (
    "context"
    "strings"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestParseSRVName(t *testing.T) {
    s, p, n, ok := parseSRVName("_gossip._tcp.leaders.default.svc")
    require.True(t, ok)
    assert.Equal(t, "gossip", s)
    assert.Equal(t, "tcp", p)
    assert.Equal(t, "leaders.default.svc", n)

    _, _, _, ok = parseSRVName("bad.srv")
    assert.False(t, ok)
    _, _, _, ok = parseSRVName("node1.example.com")
    assert.False(t, ok)
}

func TestValidate(t *testing.T) {
    o := Options{}
    require.Error(t, o.Validate())
    o = Options{Names: []string{"a"}, Port: 70000}
    require.Error(t, o.Validate())
    o = Options{Names: []string{"a"}}
    require.NoError(t, o.Validate())
    assert.Equal(t, 7946, o.Port)
    assert.Equal(t, 5*time.Second, o.Refresh)
    assert.NotNil(t, o.Resolver)
}

func TestPassthroughHostPort(t *testing.T) {
    d, err := New(Options{Names: []string{"1.2.3.4:7946", "1.2.3.4:7946"}})
    require.NoError(t, err)
    got, err := d.Seeds(context.Background())
    require.NoError(t, err)
    assert.Equal(t, []string{"1.2.3.4:7946"}, got)
}

func TestLookupHostLocalhost(t *testing.T) {
    d, err := New(Options{Names: []string{"localhost"}, Port: 12345})
    require.NoError(t, err)
    got, err := d.Seeds(context.Background())
    require.NoError(t, err)
    require.NotEmpty(t, got)
    for _, s := range got {
        assert.True(t, strings.HasSuffix(s, ":12345"), s)
    }
}

func TestAllNamesFailing(t *testing.T) {
    d, err := New(Options{Names: []string{"does-not-exist.invalid"}})
    require.NoError(t, err)
    _, err = d.Seeds(context.Background())
    assert.Error(t, err)
}
