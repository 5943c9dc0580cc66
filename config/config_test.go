package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomstore/negotiation"
	"github.com/caio-sobreiro/dicomstore/types"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "STORESCP", cfg.SCP.AETitle)
	assert.Equal(t, PathStrategyHierarchical, cfg.SCP.PathStrategy)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "dicomstore.yaml", `
log:
  level: debug
  format: json
scp:
  ae_title: ARCHIVE
  address: 127.0.0.1:4242
  storage_dir: /var/lib/dicom
  path_strategy: flat
  transfer_syntax_policy: last
  recognized_transfer_syntaxes: all
  max_associations: 8
  read_timeout: 15s
metrics:
  enabled: true
  address: 127.0.0.1:9100
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "ARCHIVE", cfg.SCP.AETitle)
	assert.Equal(t, "127.0.0.1:4242", cfg.SCP.Address)
	assert.Equal(t, PathStrategyFlat, cfg.SCP.PathStrategy)
	assert.Equal(t, 8, cfg.SCP.MaxAssociations)
	assert.Equal(t, 15*time.Second, cfg.SCP.ReadTimeout)
	assert.True(t, cfg.Metrics.Enabled)

	// Unset keys keep their defaults.
	assert.Equal(t, "STORESCU", cfg.SCU.AETitle)
	assert.Equal(t, Default().SCP.WriteTimeout, cfg.SCP.WriteTimeout)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "dicomstore.toml", `
[scp]
ae_title = "ARCHIVE"
storage_dir = "/data"
release_timeout = "5s"

[scu]
called_ae_title = "PACS"
address = "pacs.example:104"
separate_transfer_syntax_contexts = true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ARCHIVE", cfg.SCP.AETitle)
	assert.Equal(t, "/data", cfg.SCP.StorageDir)
	assert.Equal(t, 5*time.Second, cfg.SCP.ReleaseTimeout)
	assert.Equal(t, "PACS", cfg.SCU.CalledAETitle)
	assert.Equal(t, "pacs.example:104", cfg.SCU.Address)
	assert.True(t, cfg.SCU.SeparateTransferSyntaxContexts)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	yamlPath := writeFile(t, "bad.yaml", "scp:\n  ae_titel: X\n")
	_, err := Load(yamlPath)
	assert.Error(t, err)

	tomlPath := writeFile(t, "bad.toml", "[scp]\nae_titel = \"X\"\n")
	_, err = Load(tomlPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown keys")
}

func TestLoadUnsupportedExtension(t *testing.T) {
	path := writeFile(t, "dicomstore.json", "{}")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config format")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidateReportsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "loud"
	cfg.SCP.AETitle = "AN_AE_TITLE_THAT_IS_TOO_LONG"
	cfg.SCP.PathStrategy = "random"
	cfg.SCP.TransferSyntaxPolicy = "best"
	cfg.SCP.MaxPDULength = 10
	cfg.Metrics = MetricsConfig{Enabled: true}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"log.level",
		"scp.ae_title",
		"scp.path_strategy",
		"scp.transfer_syntax_policy",
		"scp.max_pdu_length",
		"metrics.address",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestSCPPolicy(t *testing.T) {
	proposed := []*types.PresentationContext{
		types.NewProposedContext(1, types.CTImageStorage, types.ImplicitVRLittleEndian, types.RLELossless),
	}

	cfg := Default().SCP
	got := cfg.Policy().Select(proposed, 1)
	require.NoError(t, negotiation.Verify(proposed, got))
	assert.Equal(t, types.ImplicitVRLittleEndian, got[0].TransferSyntax())

	cfg.TransferSyntaxPolicy = PolicyLast
	cfg.RecognizedTransferSyntaxes = RecognizedAll
	got = cfg.Policy().Select(proposed, 1)
	assert.Equal(t, types.RLELossless, got[0].TransferSyntax())

	cfg.RecognizedTransferSyntaxes = RecognizedUncompressed
	got = cfg.Policy().Select(proposed, 1)
	assert.Equal(t, types.ImplicitVRLittleEndian, got[0].TransferSyntax())
}

func TestSCPTimeouts(t *testing.T) {
	cfg := Default().SCP
	cfg.ReadTimeout = time.Second
	timeouts := cfg.Timeouts()
	assert.Equal(t, time.Second, timeouts.Read)
	assert.Equal(t, cfg.WriteTimeout, timeouts.Write)
	assert.Equal(t, cfg.ReleaseTimeout, timeouts.Release)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "ae_title", "STORESCP")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"ae_title":"STORESCP"`)

	_, err = LogConfig{Level: "info", Format: "xml"}.NewLogger(&buf)
	assert.Error(t, err)
}

func TestTLSDisabled(t *testing.T) {
	server, err := TLSConfig{}.Server()
	require.NoError(t, err)
	assert.Nil(t, server)

	client, err := TLSConfig{}.Client()
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestTLSErrors(t *testing.T) {
	_, err := TLSConfig{Enabled: true}.Server()
	assert.Error(t, err)

	_, err = TLSConfig{Enabled: true, CAFile: filepath.Join(t.TempDir(), "ca.pem")}.Client()
	assert.Error(t, err)

	garbage := writeFile(t, "ca.pem", "not a certificate")
	_, err = TLSConfig{Enabled: true, CAFile: garbage}.Client()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no certificates")

	client, err := TLSConfig{Enabled: true, ServerName: "pacs"}.Client()
	require.NoError(t, err)
	assert.Equal(t, "pacs", client.ServerName)
}
