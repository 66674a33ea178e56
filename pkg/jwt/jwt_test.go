package jwt

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJWT() *JWT {
	conf := viper.New()
	conf.Set("security.jwt.key", "unit-test-key")
	return NewJwt(conf)
}

func TestTunnelTicketRoundTrip(t *testing.T) {
	j := newTestJWT()

	ticket, err := j.GenTunnelTicket(100, "node2", "/run/qemu-server/100.mtunnel", time.Minute)
	require.NoError(t, err)

	claims, err := j.ParseTunnelTicket(ticket, 100, "/run/qemu-server/100.mtunnel")
	require.NoError(t, err)
	assert.Equal(t, uint32(100), claims.VMID)
	assert.Equal(t, "node2", claims.Node)

	_, err = j.ParseTunnelTicket(ticket, 100, "/run/qemu-server/100.migrate")
	assert.Error(t, err)
}

func TestTunnelTicketWrongVMID(t *testing.T) {
	j := newTestJWT()

	ticket, err := j.GenTunnelTicket(100, "node2", "/run/qemu-server/100.mtunnel", time.Minute)
	require.NoError(t, err)

	_, err = j.ParseTunnelTicket(ticket, 101, "/run/qemu-server/100.mtunnel")
	assert.Error(t, err)
}

func TestTunnelTicketExpired(t *testing.T) {
	j := newTestJWT()

	ticket, err := j.GenTunnelTicket(100, "node2", "/run/qemu-server/100.mtunnel", -time.Minute)
	require.NoError(t, err)

	_, err = j.ParseTunnelTicket(ticket, 100, "/run/qemu-server/100.mtunnel")
	assert.Error(t, err)
}

func TestParseToken(t *testing.T) {
	j := newTestJWT()

	token, err := j.GenToken("root@pam", time.Now().Add(time.Hour))
	require.NoError(t, err)

	claims, err := j.ParseToken("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "root@pam", claims.UserId)
}
