package display_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gcp/rustywin/internal/display"
)

func TestParseLocal(t *testing.T) {
	d, err := display.Parse(":0")
	require.NoError(t, err)
	require.Equal(t, display.Local, d.Transport)
	require.Equal(t, "", d.Host)
	require.Equal(t, 0, d.ServerNum)
	require.Equal(t, 0, d.ScreenNum)
	require.True(t, d.IsLocal())
}

func TestParseLocalWithScreen(t *testing.T) {
	d, err := display.Parse(":0.1")
	require.NoError(t, err)
	require.Equal(t, 0, d.ServerNum)
	require.Equal(t, 1, d.ScreenNum)
}

func TestParseExplicitUnixTransport(t *testing.T) {
	d, err := display.Parse("unix/:0.0")
	require.NoError(t, err)
	require.True(t, d.IsLocal())
	require.Equal(t, 0, d.ServerNum)
}

func TestParseTCPViaHost(t *testing.T) {
	d, err := display.Parse("myhost:0")
	require.NoError(t, err)
	require.Equal(t, display.TCP, d.Transport)
	require.Equal(t, "myhost", d.Host)
	require.False(t, d.IsLocal())
}

func TestParseTCPViaTransportPrefix(t *testing.T) {
	d, err := display.Parse("tcp/:0")
	require.NoError(t, err)
	require.Equal(t, display.TCP, d.Transport)
}

func TestParseDECnet(t *testing.T) {
	d, err := display.Parse("host::0")
	require.NoError(t, err)
	require.Equal(t, display.DECnet, d.Transport)
}

func TestParseMissingColonIsError(t *testing.T) {
	_, err := display.Parse("garbage")
	require.Error(t, err)
}

func TestParseBadServerNumberIsError(t *testing.T) {
	_, err := display.Parse(":abc")
	require.Error(t, err)
}

func TestShadowString(t *testing.T) {
	require.Equal(t, ":7", display.ShadowString(7))
	require.Equal(t, ":0", display.ShadowString(0))
}
