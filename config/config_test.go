package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, source string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(source), 0o644))
	return path
}

func baseConfig(t *testing.T, dir string) Config {
	scriptPath := writeScript(t, dir, "inbox.scm", `(append! "archive")`)
	return Config{
		Source: SourceConfig{Host: "imap.example.com", Port: 993, Username: "bot"},
		Folders: []FolderConfig{
			{Mailbox: "INBOX", Script: scriptPath, PollIntervalSec: 30},
		},
		Destinations: map[string]DestinationConfig{
			"archive": {Kind: "imap", Mailbox: "Archive"},
		},
	}
}

func TestConfigValidateAcceptsWellFormedConfig(t *testing.T) {
	dir := t.TempDir()
	c := baseConfig(t, dir)
	assert.Empty(t, c.Validate())
}

func TestConfigValidateRequiresSourceHost(t *testing.T) {
	dir := t.TempDir()
	c := baseConfig(t, dir)
	c.Source.Host = ""
	errs := c.Validate()
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Error(), "source.host")
}

func TestConfigValidateRequiresAtLeastOneFolder(t *testing.T) {
	c := Config{Source: SourceConfig{Host: "h", Port: 1, Username: "u"}}
	errs := c.Validate()
	found := false
	for _, e := range errs {
		if e.Error() == "config: at least one folder must be configured" {
			found = true
		}
	}
	assert.True(t, found, "expected a missing-folder error, got %v", errs)
}

func TestConfigValidateRejectsUnknownDestinationKind(t *testing.T) {
	dir := t.TempDir()
	c := baseConfig(t, dir)
	c.Destinations["archive"] = DestinationConfig{Kind: "ftp"}
	errs := c.Validate()
	require.NotEmpty(t, errs)
	found := false
	for _, e := range errs {
		if e.Error() == `config: destinations[archive]: unknown kind "ftp", expected imap or s3` {
			found = true
		}
	}
	assert.True(t, found, "expected an unknown-kind error, got %v", errs)
}

func TestConfigValidateRejectsMissingScriptFile(t *testing.T) {
	dir := t.TempDir()
	c := baseConfig(t, dir)
	c.Folders[0].Script = filepath.Join(dir, "does-not-exist.scm")
	errs := c.Validate()
	require.NotEmpty(t, errs)
}

func TestConfigValidateRejectsScriptReferencingUnknownDestination(t *testing.T) {
	dir := t.TempDir()
	c := baseConfig(t, dir)
	c.Folders[0].Script = writeScript(t, dir, "inbox2.scm", `(append! "nowhere")`)
	errs := c.Validate()
	found := false
	for _, e := range errs {
		if e.Error() == `config: folders[0].script "`+c.Folders[0].Script+`" references unknown destination "nowhere"` {
			found = true
		}
	}
	assert.True(t, found, "expected an unknown-destination error, got %v", errs)
}

func TestConfigValidateRejectsUnreferencedDestination(t *testing.T) {
	dir := t.TempDir()
	c := baseConfig(t, dir)
	c.Destinations["unused"] = DestinationConfig{Kind: "imap", Mailbox: "Unused"}
	errs := c.Validate()
	found := false
	for _, e := range errs {
		if e.Error() == "config: destinations[unused] is configured but referenced by no folder's script" {
			found = true
		}
	}
	assert.True(t, found, "expected an unreferenced-destination error, got %v", errs)
}

func TestConfigValidateRejectsDuplicateMailbox(t *testing.T) {
	dir := t.TempDir()
	c := baseConfig(t, dir)
	c.Folders = append(c.Folders, FolderConfig{Mailbox: "INBOX", Script: c.Folders[0].Script})
	errs := c.Validate()
	found := false
	for _, e := range errs {
		if e.Error() == `config: folders[1]: mailbox "INBOX" is configured more than once` {
			found = true
		}
	}
	assert.True(t, found, "expected a duplicate-mailbox error, got %v", errs)
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "inbox.scm", `(append! "archive")`)
	yamlPath := writeScript(t, dir, "config.yaml", `
source:
  host: imap.example.com
  port: 993
  username: bot@example.com
folders:
  - mailbox: INBOX
    script: `+filepath.Join(dir, "inbox.scm")+`
    pollIntervalSec: 30
destinations:
  archive:
    kind: imap
    mailbox: Archive
`)
	c, err := Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "imap.example.com", c.Source.Host)
	assert.Equal(t, 993, c.Source.Port)
	assert.Len(t, c.Folders, 1)
	assert.Equal(t, "INBOX", c.Folders[0].Mailbox)
	assert.Empty(t, c.Validate())
}
