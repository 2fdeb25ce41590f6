package virtaddr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	cases := []Addr{
		{Net: "lonetX", Host: "alpha", Port: 1},
		{Net: "lonetX", Host: "", Port: 0},
		{Net: "lonetX", Host: "beta", Port: 65535},
	}
	for _, a := range cases {
		got, err := Parse(a.Net, a.String())
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse("net", "no-colon-here")
	assert.Error(t, err)

	_, err = Parse("net", "a:b:c")
	assert.Error(t, err)

	_, err = Parse("net", "host:notanumber")
	assert.Error(t, err)
}

func TestString(t *testing.T) {
	a := Addr{Net: "lonetX", Host: "alpha", Port: 4}
	assert.Equal(t, "alpha:4", a.String())
}
