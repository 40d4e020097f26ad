package cmdbuilder

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/andrej220/provisioner/pkg/osprobe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
)

var allCategories = []osprobe.Category{osprobe.Windows, osprobe.UbuntuDebian, osprobe.CentOS, osprobe.GenericLinux}

func decodeWindows(t *testing.T, cmd string) string {
	t.Helper()
	const prefix = "powershell -NoProfile -NonInteractive -ExecutionPolicy Bypass -EncodedCommand "
	require.True(t, strings.HasPrefix(cmd, prefix), cmd)
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(cmd, prefix))
	require.NoError(t, err)
	script, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(raw)
	require.NoError(t, err)
	return string(script)
}

func TestRenderIsDeterministic(t *testing.T) {
	for _, cat := range allCategories {
		t.Run(cat.String(), func(t *testing.T) {
			a, err := Render(cat, "svcuser", "Str0ng!Pass")
			require.NoError(t, err)
			b, err := Render(cat, "svcuser", "Str0ng!Pass")
			require.NoError(t, err)
			assert.Equal(t, a, b)
			assert.NotEmpty(t, a)
		})
	}
}

func TestRenderUbuntuDebian(t *testing.T) {
	cmd, err := Render(osprobe.UbuntuDebian, "svcuser", "Str0ng!Pass")
	require.NoError(t, err)

	for _, want := range []string{
		"{ id -u svcuser >/dev/null 2>&1 || sudo useradd -m -s /bin/bash svcuser; }",
		"printf '%s\\n' 'svcuser:Str0ng!Pass' | sudo chpasswd",
		"sudo usermod -aG sudo svcuser",
		"PasswordAuthentication yes/' /etc/ssh/sshd_config",
		"/etc/ssh/sshd_config.d/*.conf",
		"PubkeyAuthentication yes",
		"sudo sed -i '1i AuthenticationMethods any' /etc/ssh/sshd_config",
		"sudo sed -i '/^Match User svcuser$/,+1d' /etc/ssh/sshd_config",
		"printf 'Match User %s\\n    PasswordAuthentication yes\\n' svcuser",
		"{ sudo systemctl restart ssh || sudo service ssh restart || sudo /etc/init.d/ssh restart; }",
	} {
		assert.Contains(t, cmd, want)
	}
	assert.NotContains(t, cmd, "wheel")
	assert.NotContains(t, cmd, "cloud-init")
	assert.NotContains(t, cmd, "\n")

	// stale Match block removed before the fresh one is appended
	assert.Less(t, strings.Index(cmd, "/^Match User svcuser$/,+1d"), strings.Index(cmd, "printf 'Match User"))
}

func TestRenderCentOS(t *testing.T) {
	cmd, err := Render(osprobe.CentOS, "svcuser", "Str0ng!Pass")
	require.NoError(t, err)

	assert.Contains(t, cmd, "printf '%s\\n%s\\n' 'Str0ng!Pass' 'Str0ng!Pass' | sudo passwd svcuser")
	assert.Contains(t, cmd, "sudo usermod -aG wheel svcuser")
	assert.Contains(t, cmd, "sudo chage -M 99999 svcuser")
	assert.Contains(t, cmd, "sudo systemctl restart sshd")
	assert.NotContains(t, cmd, "chpasswd")
}

func TestRenderGenericLinux(t *testing.T) {
	cmd, err := Render(osprobe.GenericLinux, "svcuser", "Str0ng!Pass")
	require.NoError(t, err)

	debian, err := Render(osprobe.UbuntuDebian, "svcuser", "Str0ng!Pass")
	require.NoError(t, err)

	assert.Contains(t, cmd, "sudo touch /etc/cloud/cloud-init.disabled")
	assert.Contains(t, cmd, "{ sudo usermod -aG sudo svcuser || sudo usermod -aG wheel svcuser; }")
	assert.Contains(t, cmd, "sudo chpasswd")
	assert.Contains(t, cmd, "sudo /etc/init.d/sshd restart")
	assert.Greater(t, len(cmd), len(debian))
}

func TestRenderWindows(t *testing.T) {
	cmd, err := Render(osprobe.Windows, "svcuser", "Str0ng!Pass")
	require.NoError(t, err)
	script := decodeWindows(t, cmd)

	for _, want := range []string{
		"$ErrorActionPreference = 'Stop'",
		"$user = 'svcuser'",
		"ConvertTo-SecureString 'Str0ng!Pass' -AsPlainText -Force",
		"Add-LocalGroupMember -Group 'Administrators'",
		"Add-WindowsCapability -Online",
		"Start-Service sshd",
		"Set-Service -Name sshd -StartupType Automatic",
		"-LocalPort 22",
	} {
		assert.Contains(t, script, want)
	}
	assert.NotContains(t, cmd, "Str0ng!Pass")
}

func TestRenderQuotesPassword(t *testing.T) {
	evil := `x'; rm -rf / #$(reboot)`
	cmd, err := Render(osprobe.UbuntuDebian, "svcuser", evil)
	require.NoError(t, err)
	assert.Contains(t, cmd, `'svcuser:x'"'"'; rm -rf / #$(reboot)'`)

	cmd, err = Render(osprobe.Windows, "svcuser", "it's ‘quoted’")
	require.NoError(t, err)
	assert.Contains(t, decodeWindows(t, cmd), "ConvertTo-SecureString 'it''s ‘‘quoted’’'")
}

func TestRenderRejectsBadInput(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		want     error
	}{
		{"empty user", "", "pw", ErrInvalidUsername},
		{"injection user", "bob; reboot", "pw", ErrInvalidUsername},
		{"uppercase user", "Bob", "pw", ErrInvalidUsername},
		{"leading digit", "1bob", "pw", ErrInvalidUsername},
		{"too long", strings.Repeat("a", 33), "pw", ErrInvalidUsername},
		{"empty password", "bob", "", ErrInvalidPassword},
		{"newline password", "bob", "a\nb", ErrInvalidPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Render(osprobe.UbuntuDebian, tt.username, tt.password)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPSQuote(t *testing.T) {
	assert.Equal(t, "'plain'", psQuote("plain"))
	assert.Equal(t, "'o''brien'", psQuote("o'brien"))
	assert.Equal(t, "''", psQuote(""))
}
