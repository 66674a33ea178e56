package sid

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenTaskID(t *testing.T) {
	conf := viper.New()
	conf.Set("node.machine_id", 3)
	s := NewSid(conf)

	a, err := s.GenTaskID("pve1", 100)
	require.NoError(t, err)
	b, err := s.GenTaskID("pve1", 100)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	parts := strings.Split(a, ":")
	require.Len(t, parts, 5)
	assert.Equal(t, "UPID", parts[0])
	assert.Equal(t, "pve1", parts[1])
	assert.Equal(t, "qmigrate", parts[3])
	assert.Equal(t, "100", parts[4])
}

func TestIntToBase62(t *testing.T) {
	assert.Equal(t, "0", IntToBase62(0))
	assert.Equal(t, "Z", IntToBase62(35))
	assert.Equal(t, "10", IntToBase62(62))
}
