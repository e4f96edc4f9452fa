package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
log_level: debug
data_dir: /var/lib/mailrulez
retention:
  approved_ads: 30
accounts:
  - name: personal
    email: me@example.com
    host: imap.example.com
    port: 993
    use_tls: true
    folders:
      junk: Spam
  - email: other@gmail.com
    host: imap.gmail.com
    port: 993
    limit: 25
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "json", cfg.RuleStore)
	assert.Equal(t, []string{"gmail.com", "googlemail.com"}, cfg.LabelProviders)
	assert.Equal(t, filepath.Join("/var/lib/mailrulez", "lists"), cfg.ListsPath())
	assert.Equal(t, filepath.Join("/var/lib/mailrulez", "rules.json"), cfg.RulesPath())
	assert.Equal(t, filepath.Join("/var/lib/mailrulez", "history.db"), cfg.HistoryPath())
	assert.Equal(t, 30, cfg.RetentionDays("approved_ads"))
	assert.Equal(t, 0, cfg.RetentionDays("unknown"))

	require.Len(t, cfg.Accounts, 2)
	personal := cfg.Accounts[0]
	assert.Equal(t, "INBOX", personal.GetFolder())
	assert.Equal(t, DefaultPrimaryLimit, personal.GetLimit())
	assert.Equal(t, DefaultMaintenanceLimit, personal.GetMaintenanceLimit())
	assert.Equal(t, "me@example.com", personal.GetUsername())
	assert.Equal(t, 25, cfg.Accounts[1].GetLimit())
}

func TestFoldersFor(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	folders := cfg.FoldersFor("ME@example.com")
	assert.Equal(t, "Spam", folders.Junk)
	assert.Equal(t, DefaultProcessedFolder, folders.Processed)
	assert.Equal(t, DefaultApprovedAdsFolder, folders.ApprovedAds)
	assert.Equal(t, DefaultPendingFolder, folders.Pending)

	assert.Equal(t, DefaultFolders(), cfg.FoldersFor("nobody@example.com"))
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing email", "accounts:\n  - host: h\n    port: 1\n"},
		{"missing host", "accounts:\n  - email: a@b.c\n    port: 1\n"},
		{"missing port", "accounts:\n  - email: a@b.c\n    host: h\n"},
		{"duplicate email", "accounts:\n  - {email: a@b.c, host: h, port: 1}\n  - {email: A@b.c, host: h, port: 1}\n"},
		{"bad rule store", "rule_store: bolt\n"},
		{"bad log format", "log_format: xml\n"},
		{"sender without port", "sender:\n  host: smtp.example.com\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("MAIL_RULEZ_LOG_LEVEL", "warn")
	t.Setenv("PERSONAL_IMAP_PASSWORD", "s3cret")

	cfg, err := Parse([]byte(`
accounts:
  - email: me@example.com
    host: imap.example.com
    port: 993
    password_env: PERSONAL_IMAP_PASSWORD
`))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "s3cret", cfg.Accounts[0].Password)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Accounts, 2)
}
