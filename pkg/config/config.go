// Package config loads the YAML run configuration for one install() call:
// concurrency limits, disk budget, temp directory, the per-kind skip list,
// and the skip-verify-and-downloads flag (spec §6, §4.7). It configures
// this run of the engine, not the modlist being installed.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nettoneko/hoolamike/pkg/manifest"
	"github.com/nettoneko/hoolamike/pkg/planner"
	"github.com/nettoneko/hoolamike/pkg/supervisor"
)

// Configuration is the top-level YAML run configuration object.
type Configuration struct {
	// Concurrency holds the per-class worker ceilings (spec §4.7). A zero
	// field means "use the platform-derived default" (supervisor.DefaultLimits).
	Concurrency struct {
		CPUHeavy int `yaml:"cpu_heavy"`
		IOHeavy  int `yaml:"io_heavy"`
		Light    int `yaml:"light"`
		Files    int `yaml:"open_files"`
	} `yaml:"concurrency"`

	// DiskBudgetBytes bounds the working directory's transient footprint
	// (spec §4.2, §4.7). Zero means "use the default".
	DiskBudgetBytes int64 `yaml:"disk_budget_bytes"`

	// TempDir is the directory the Archive Access Layer spills extracted
	// segments into (spec §4.2). Empty means os.TempDir().
	TempDir string `yaml:"temp_dir"`

	// SkipKinds lists directive kinds to omit from the plan entirely (spec
	// §6's repeatable --skip-kind flag), by their canonical string name
	// (e.g. "transformed-texture").
	SkipKinds []string `yaml:"skip_kinds"`

	// SkipVerifyAndDownloads disables post-write hash verification, for fast
	// iterative reinstall (spec §6). It does not change archive lookup: a
	// source archive that is not on disk still fails to locate.
	SkipVerifyAndDownloads bool `yaml:"skip_verify_and_downloads"`

	// Variables seeds the Variable Table RemappedInlineFile substitutes
	// against (spec §4.5), supplementing whatever the modlist loader itself
	// derives from the install's target paths.
	Variables map[string]string `yaml:"variables"`
}

// Load reads and decodes a YAML Configuration from path. A missing file is
// not an error: the caller gets Default() so install() always has usable
// limits, matching the teacher's global configuration's tolerance for an
// absent config file.
func Load(path string) (*Configuration, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "unable to read configuration file %q", path)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "unable to parse configuration file %q", path)
	}
	return cfg, nil
}

// Default returns a Configuration with every field at its engine default
// (no skip kinds, verification on, platform-derived concurrency).
func Default() *Configuration {
	return &Configuration{}
}

// Limits converts the YAML concurrency/disk-budget fields into
// supervisor.Limits, falling back to supervisor.DefaultLimits() field by
// field for anything left at zero.
func (c *Configuration) Limits() supervisor.Limits {
	limits := supervisor.DefaultLimits()
	if c.Concurrency.CPUHeavy > 0 {
		limits.CPUHeavyConcurrency = c.Concurrency.CPUHeavy
	}
	if c.Concurrency.IOHeavy > 0 {
		limits.IOHeavyConcurrency = c.Concurrency.IOHeavy
	}
	if c.Concurrency.Light > 0 {
		limits.LightConcurrency = c.Concurrency.Light
	}
	if c.Concurrency.Files > 0 {
		limits.OpenFiles = c.Concurrency.Files
	}
	if c.DiskBudgetBytes > 0 {
		limits.DiskBudgetBytes = c.DiskBudgetBytes
	}
	return limits
}

// PlannerOptions converts the skip-kind list into planner.Options, failing
// on any name that doesn't map to a known DirectiveKind (spec §4.1's "unknown
// kind is a hard failure for the caller").
func (c *Configuration) PlannerOptions() (planner.Options, error) {
	opts := planner.Options{SkipKinds: make(map[manifest.DirectiveKind]bool, len(c.SkipKinds))}
	for _, name := range c.SkipKinds {
		kind, ok := manifest.ParseDirectiveKind(name)
		if !ok {
			return planner.Options{}, errors.Errorf("unknown directive kind %q in skip_kinds", name)
		}
		opts.SkipKinds[kind] = true
	}
	return opts, nil
}

// VariableTable returns the configured Variable Table for RemappedInlineFile
// substitution (spec §4.5).
func (c *Configuration) VariableTable() planner.VariableTable {
	return planner.VariableTable(c.Variables)
}

// WorkingDirectory returns the base directory the run's working directory
// is created under: TempDir, or os.TempDir() if unset. It is not itself the
// working directory — the caller creates a fresh per-run subdirectory under
// it and is responsible for removing that subdirectory on success (spec
// §6), so a run never writes spill files directly into a shared temp dir.
func (c *Configuration) WorkingDirectory() string {
	if c.TempDir != "" {
		return c.TempDir
	}
	return os.TempDir()
}
