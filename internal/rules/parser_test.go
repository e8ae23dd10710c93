package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCombinedLogLine(t *testing.T) {
	p := ParseLine(`192.168.1.10 - - [10/Oct/2026:13:55:36 +0000] "GET /index.html HTTP/1.1" 200 2326 "-" "Mozilla/5.0"`)

	assert.Equal(t, "192.168.1.10", p.IP)
	assert.Equal(t, "GET", p.Method)
	assert.Equal(t, "/index.html", p.Path)
	assert.Equal(t, 200, p.Status)
	assert.Equal(t, "Mozilla/5.0", p.UserAgent)
	require.NotNil(t, p.Timestamp)
	assert.Equal(t, 2026, p.Timestamp.Year())
}

func TestParseKeyValueLine(t *testing.T) {
	p := ParseLine(`level=warn msg="login failed" user=alice ip=10.1.2.3 status=401 path=/login`)

	assert.Equal(t, "10.1.2.3", p.IP)
	assert.Equal(t, "alice", p.Username)
	assert.Equal(t, 401, p.Status)
	assert.Equal(t, "/login", p.Path)
}

func TestParseSSHDLine(t *testing.T) {
	p := ParseLine("Sep  1 10:00:00 host sshd[1234]: Failed password for invalid user bob from 203.0.113.7 port 22 ssh2")

	assert.Equal(t, "203.0.113.7", p.IP)
	assert.Equal(t, "bob", p.Username)
}

func TestParseUnstructuredLine(t *testing.T) {
	p := ParseLine("something happened, no structure here")

	assert.Empty(t, p.IP)
	assert.Empty(t, p.Username)
	assert.Zero(t, p.Status)
	assert.Nil(t, p.Timestamp)
}

func TestIsFailedAuth(t *testing.T) {
	assert.True(t, isFailedAuth("Authentication failure for root"))
	assert.True(t, isFailedAuth("user login FAILED"))
	assert.True(t, isFailedAuth("invalid password supplied"))
	assert.False(t, isFailedAuth("login succeeded"))
	assert.False(t, isFailedAuth("password changed"))
}
