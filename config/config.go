// Package config loads and validates the YAML file describing a
// recogedor instance: the source IMAP account, the folders to monitor,
// and the destination stores their scripts may append to.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kivikakk/recogedor/script"
)

// SourceConfig is the IMAP account recogedor polls or IDLEs on for new
// mail, and issues label (flag) updates against.
type SourceConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`

	// ResolverServer, if set, is a "host:port" DNS server recogedor
	// queries directly for Host's address instead of the OS resolver.
	ResolverServer string `yaml:"resolverServer,omitempty"`
}

// FolderConfig names one source mailbox to monitor, the filter script
// file that governs it, and how often to poll when IDLE is unavailable.
type FolderConfig struct {
	Mailbox         string `yaml:"mailbox"`
	Script          string `yaml:"script"`
	PollIntervalSec int    `yaml:"pollIntervalSec"`
}

// DestinationConfig names one place a script's (append! "name") may send
// a copy of a message. Kind discriminates between an IMAP mailbox on the
// same source account and an S3 bucket/prefix.
type DestinationConfig struct {
	Kind string `yaml:"kind"` // "imap" or "s3"

	// Kind == "imap"
	Mailbox string `yaml:"mailbox,omitempty"`

	// Kind == "s3"
	Region string `yaml:"region,omitempty"`
	Bucket string `yaml:"bucket,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
}

// MetricsConfig configures the optional Prometheus HTTP listener.
type MetricsConfig struct {
	ListenAddress string `yaml:"listenAddress,omitempty"`
}

// Config is the top-level, unmarshaled configuration file.
type Config struct {
	Source       SourceConfig                 `yaml:"source"`
	Folders      []FolderConfig               `yaml:"folders"`
	Destinations map[string]DestinationConfig `yaml:"destinations"`
	Metrics      MetricsConfig                `yaml:"metrics"`
}

// Load reads and parses the YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %q: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parsing %q: %w", path, err)
	}
	return &c, nil
}

// Validate checks the configuration for internal consistency and
// returns every problem found, rather than failing on the first one, so
// an operator can fix a broken file in one pass instead of one error at
// a time.
func (c *Config) Validate() (errs []error) {
	if c.Source.Host == "" {
		errs = append(errs, fmt.Errorf("config: source.host is required"))
	}
	if c.Source.Port <= 0 {
		errs = append(errs, fmt.Errorf("config: source.port must be positive"))
	}
	if c.Source.Username == "" {
		errs = append(errs, fmt.Errorf("config: source.username is required"))
	}

	if len(c.Folders) == 0 {
		errs = append(errs, fmt.Errorf("config: at least one folder must be configured"))
	}
	seenMailbox := make(map[string]bool, len(c.Folders))
	referencedDests := make(map[string]bool)
	for i, f := range c.Folders {
		if f.Mailbox == "" {
			errs = append(errs, fmt.Errorf("config: folders[%d].mailbox is required", i))
		} else if seenMailbox[f.Mailbox] {
			errs = append(errs, fmt.Errorf("config: folders[%d]: mailbox %q is configured more than once", i, f.Mailbox))
		} else {
			seenMailbox[f.Mailbox] = true
		}
		if f.PollIntervalSec < 0 {
			errs = append(errs, fmt.Errorf("config: folders[%d].pollIntervalSec must not be negative", i))
		}
		if f.Script == "" {
			errs = append(errs, fmt.Errorf("config: folders[%d].script is required", i))
			continue
		}
		source, err := os.ReadFile(f.Script)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: folders[%d].script %q: %w", i, f.Script, err))
			continue
		}
		program, err := script.ParseProgram(string(source))
		if err != nil {
			errs = append(errs, fmt.Errorf("config: folders[%d].script %q: %w", i, f.Script, err))
			continue
		}
		for _, name := range appendedDestinations(program) {
			referencedDests[name] = true
			if _, ok := c.Destinations[name]; !ok {
				errs = append(errs, fmt.Errorf("config: folders[%d].script %q references unknown destination %q", i, f.Script, name))
			}
		}
	}

	for name, d := range c.Destinations {
		switch d.Kind {
		case "imap":
			if d.Mailbox == "" {
				errs = append(errs, fmt.Errorf("config: destinations[%s]: mailbox is required for kind imap", name))
			}
		case "s3":
			if d.Bucket == "" {
				errs = append(errs, fmt.Errorf("config: destinations[%s]: bucket is required for kind s3", name))
			}
			if d.Region == "" {
				errs = append(errs, fmt.Errorf("config: destinations[%s]: region is required for kind s3", name))
			}
		default:
			errs = append(errs, fmt.Errorf("config: destinations[%s]: unknown kind %q, expected imap or s3", name, d.Kind))
		}
		if !referencedDests[name] {
			errs = append(errs, fmt.Errorf("config: destinations[%s] is configured but referenced by no folder's script", name))
		}
	}

	return errs
}

// appendedDestinations walks every statement of program, including
// nested if/else branches, collecting the destination name of each
// append! it finds.
func appendedDestinations(program script.Program) []string {
	var names []string
	var walk func(stmt script.Stmt)
	walk = func(stmt script.Stmt) {
		switch s := stmt.(type) {
		case script.StmtAppend:
			names = append(names, string(s.Dest))
		case script.StmtIf:
			walk(s.Then)
			if s.Else != nil {
				walk(s.Else)
			}
		}
	}
	for _, stmt := range program {
		walk(stmt)
	}
	return names
}
