package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.HostsOpen.Set(2)
	c.Dials.Inc()
	c.Accepts.Inc()
	c.AcceptsRefused.Inc()
	c.RegistryErrors.Inc()
	c.HandshakeErrors.Inc()

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 6)
}

func TestNewWithNilRegistry(t *testing.T) {
	c := New(nil)
	require.NotNil(t, c)
	c.Dials.Inc()
}
