// Package config loads and validates Robocat's process-wide configuration
// (§6), generalizing the teacher's configuration.go (IsValid/Clone cascade)
// from Mattermost plugin settings to a mounted YAML file plus mounted secret
// files.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ApprovalRule is one entry of an approve_ruleset's ordered rule list.
// Earlier rules win; more specific glob patterns must precede less specific
// ones (the caller is responsible for ordering — we do not re-sort).
type ApprovalRule struct {
	Patterns  []string `yaml:"patterns"`
	Approvers []string `yaml:"approvers"`
}

// ApproveRuleset is one job_status_check_rule.<name>.approve_ruleset entry.
type ApproveRuleset struct {
	RelevanceChecker string         `yaml:"relevance_checker"`
	Rules            []ApprovalRule `yaml:"rules"`
}

// JobStatusCheckRule is a named approval ruleset keyed by its relevance
// checker identity (§3: "per-repo approval rulesets keyed by relevance-
// checker identity").
type JobStatusCheckRule struct {
	ApproveRuleset ApproveRuleset `yaml:"approve_ruleset"`
}

// JiraConfig is the tracker connection configuration (§6).
type JiraConfig struct {
	URL          string   `yaml:"url"`
	Login        string   `yaml:"login"`
	Password     string   `yaml:"password"`
	TimeoutSecs  int      `yaml:"timeout"`
	Retries      int      `yaml:"retries"`
	ProjectKeys  []string `yaml:"project_keys"`
}

// RepoConfig is the git-repository configuration (§6).
type RepoConfig struct {
	Path                  string `yaml:"path"`
	URL                   string `yaml:"url"`
	NeedCodeOwnerApproval bool   `yaml:"need_code_owner_approval"`
}

// PipelineConfig names the autorun stage (§3: "autorun pipeline stage name").
type PipelineConfig struct {
	AutorunStage string `yaml:"autorun_stage"`
}

// NxSubmoduleCheckRule lists the submodule directories to validate (§3).
type NxSubmoduleCheckRule struct {
	SubmoduleDirs []string `yaml:"nx_submodule_dirs"`
}

// EscalationConfig holds the escalation.channel setting (SPEC_FULL PART 5).
// It is loaded and kept on Config, but no other package reads it: permanent
// 4xx errors end the cycle as a logged failure, not as a finding addressed
// to this channel.
type EscalationConfig struct {
	Channel string `yaml:"channel"`
}

// ComplianceConfig names the external checker binaries the open-source and
// submodule checkers are delegated to (§1 Non-goals: Robocat never
// reimplements the underlying content checks itself, only invokes them).
type ComplianceConfig struct {
	OpenSourceCheckerCmd string `yaml:"open_source_checker_cmd"`
	SubmoduleCheckerCmd  string `yaml:"submodule_checker_cmd"`
}

// Config is the closed, enumerated configuration schema of §6. Unknown keys
// are a startup-time error (§9: "unknown keys are a startup-time error").
type Config struct {
	Jira                   JiraConfig                      `yaml:"jira"`
	Repo                   RepoConfig                      `yaml:"repo"`
	Pipeline               PipelineConfig                  `yaml:"pipeline"`
	JobStatusCheckRule     map[string]JobStatusCheckRule    `yaml:"job_status_check_rule"`
	NxSubmoduleCheckRule   NxSubmoduleCheckRule             `yaml:"nx_submodule_check_rule"`
	Escalation             EscalationConfig                `yaml:"escalation"`
	Compliance             ComplianceConfig                `yaml:"compliance"`
	SupportedProjects      []string                        `yaml:"supported_projects"`
	BotHandle              string                          `yaml:"bot_handle"`
	ForgeURL               string                          `yaml:"forge_url"`
	ForgeToken             string                          `yaml:"-"` // mounted secret file only
	Parallelism            int                              `yaml:"parallelism"`
	EventDedupWindowSecs   int                              `yaml:"event_dedup_window_seconds"`
}

// Clone shallow-copies the configuration. The teacher's configuration.go
// does the same for its (much smaller) struct.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// IsValid checks that required configuration is present and well-formed,
// mirroring the teacher's IsValid().
func (c *Config) IsValid() error {
	if c.Repo.Path == "" {
		return fmt.Errorf("repo.path is required")
	}
	if c.Jira.URL == "" {
		return fmt.Errorf("jira.url is required")
	}
	if len(c.SupportedProjects) == 0 {
		return fmt.Errorf("supported_projects must list at least one project")
	}
	if c.Parallelism < 1 {
		return fmt.Errorf("parallelism must be at least 1, got %d", c.Parallelism)
	}
	if c.EventDedupWindowSecs < 30 {
		return fmt.Errorf("event_dedup_window_seconds must be at least 30, got %d", c.EventDedupWindowSecs)
	}
	if c.BotHandle == "" {
		return fmt.Errorf("bot_handle is required")
	}
	for name, rule := range c.JobStatusCheckRule {
		if len(rule.ApproveRuleset.Rules) == 0 {
			return fmt.Errorf("job_status_check_rule.%s.approve_ruleset.rules must not be empty", name)
		}
	}
	return nil
}

// GetParallelism returns the configured parallelism, falling back to 2 when
// it is unset or below 1 — mirrors the teacher's default cascade.
func (c *Config) GetParallelism() int {
	if c.Parallelism < 1 {
		return 2
	}
	return c.Parallelism
}

// IsSupportedProject reports whether project is in the configured set (§3).
func (c *Config) IsSupportedProject(project string) bool {
	for _, p := range c.SupportedProjects {
		if strings.EqualFold(p, project) {
			return true
		}
	}
	return false
}

// Load reads and validates the configuration file at path. Secrets (the Jira
// password and forge token) are read from separate mounted files named by
// the JIRA_PASSWORD_FILE and FORGE_TOKEN_FILE environment variables, never
// taken from flags (§6: "Secrets are provided via mounted files, never
// flags").
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read configuration file")
	}

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true) // reject unknown keys — §9 "closed, enumerated schema"
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse configuration file")
	}

	if secretPath := os.Getenv("JIRA_PASSWORD_FILE"); secretPath != "" {
		pw, err := os.ReadFile(secretPath)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read mounted jira password file")
		}
		cfg.Jira.Password = strings.TrimSpace(string(pw))
	}
	if secretPath := os.Getenv("FORGE_TOKEN_FILE"); secretPath != "" {
		tok, err := os.ReadFile(secretPath)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read mounted forge token file")
		}
		cfg.ForgeToken = strings.TrimSpace(string(tok))
	}

	if err := cfg.IsValid(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return &cfg, nil
}
