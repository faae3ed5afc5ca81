package sling

import (
	"os"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/flarco/g"
	"github.com/slingdata-io/sling-csv/core/dbio/iop"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// DefaultSplitSize is the split size used when none is configured
const DefaultSplitSize = "64MB"

// NewConfig return a config object from a YAML / JSON string or file path
func NewConfig(cfgStr string) (cfg Config, err error) {
	err = cfg.Unmarshal(cfgStr)
	if err != nil {
		err = g.Error(err, "Unable to parse config string")
		return
	}

	err = cfg.Prepare()
	if err != nil {
		err = g.Error(err, "Unable to prepare config")
		return
	} else if cfg.Target.URL == "" {
		err = g.Error("did not provide target url")
	}
	return
}

// Unmarshal parse a configuration file path or config text
func (cfg *Config) Unmarshal(cfgStr string) error {
	cfgBytes := []byte(cfgStr)
	if _, err := os.Stat(cfgStr); err == nil {
		cfgBytes, err = os.ReadFile(cfgStr)
		if err != nil {
			return g.Error(err, "could not read from config file: "+cfgStr)
		}
	}

	err := yaml.Unmarshal(cfgBytes, cfg)
	if err != nil {
		return g.Error(err, "Error parsing config")
	}

	return nil
}

// Prepare validates the source and sets defaults. The target is only
// required to execute a copy.
func (cfg *Config) Prepare() (err error) {
	if cfg.Prepared {
		return
	}

	if cfg.Source.URL == "" && len(cfg.Source.Splits) == 0 {
		return g.Error("did not provide source url")
	}

	for _, split := range cfg.Source.Splits {
		if split.Path == "" {
			return g.Error("split has no path: %s", split)
		}
	}

	if cfg.Options.SplitSize == "" {
		cfg.Options.SplitSize = DefaultSplitSize
	}
	if _, err = cfg.SplitSizeBytes(); err != nil {
		return err
	}

	if cfg.Options.Concurrency <= 0 {
		cfg.Options.Concurrency = runtime.NumCPU()
	}

	for k, v := range cfg.Env {
		if _, found := os.LookupEnv(k); !found {
			os.Setenv(k, cast.ToString(v))
		}
	}

	cfg.Prepared = true
	return
}

// SplitSizeBytes returns the split size in bytes
func (cfg *Config) SplitSizeBytes() (int64, error) {
	if cfg.Options.SplitSize == "" {
		return 0, nil
	}
	size, err := humanize.ParseBytes(cfg.Options.SplitSize)
	if err != nil {
		return 0, g.Error(err, "invalid split size: %s", cfg.Options.SplitSize)
	}
	return cast.ToInt64(size), nil
}

// Marshal returns the config as YAML
func (cfg *Config) Marshal() (cfgBytes []byte, err error) {
	cfgBytes, err = yaml.Marshal(cfg)
	if err != nil {
		err = g.Error(err, "could not marshal config")
	}
	return
}

// SetDefaultProps applies props (for example from an env file) under
// the props of the source and target
func (cfg *Config) SetDefaultProps(props map[string]string) {
	for k, v := range props {
		k = strings.ToLower(k)
		if cfg.Source.Props == nil {
			cfg.Source.Props = map[string]any{}
		}
		if cfg.Target.Props == nil {
			cfg.Target.Props = map[string]any{}
		}
		if _, ok := cfg.Source.Props[k]; !ok {
			cfg.Source.Props[k] = v
		}
		if _, ok := cfg.Target.Props[k]; !ok {
			cfg.Target.Props[k] = v
		}
	}
}

// Config is a job: read the source splits, write one target file
type Config struct {
	Source  Source         `json:"source" yaml:"source"`
	Target  Target         `json:"target" yaml:"target"`
	Options ConfigOptions  `json:"options,omitempty" yaml:"options,omitempty"`
	Env     map[string]any `json:"env,omitempty" yaml:"env,omitempty"`

	Prepared bool `json:"-" yaml:"-"`
}

// ConfigOptions are execution options
type ConfigOptions struct {
	SplitSize   string `json:"split_size,omitempty" yaml:"split_size,omitempty"` // e.g. 64MB
	Concurrency int    `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
}

// Source is the input: a path or pattern, or explicit splits
type Source struct {
	URL    string         `json:"url,omitempty" yaml:"url,omitempty"`
	Fields []string       `json:"fields,omitempty" yaml:"fields,omitempty"`
	Splits []iop.Split    `json:"splits,omitempty" yaml:"splits,omitempty"`
	Props  map[string]any `json:"props,omitempty" yaml:"props,omitempty"`
}

// Target is the output file
type Target struct {
	URL   string         `json:"url" yaml:"url"`
	Props map[string]any `json:"props,omitempty" yaml:"props,omitempty"`
}

// DeclaredFields returns the declared source fields, unknown when none
func (s Source) DeclaredFields() iop.DeclaredFields {
	if len(s.Fields) == 0 {
		return iop.UnknownFields()
	}
	return iop.KnownFields(s.Fields...)
}

// PropsMap returns the source props as strings
func (s Source) PropsMap() iop.Props {
	return stringProps(s.Props)
}

// PropsMap returns the target props as strings
func (t Target) PropsMap() iop.Props {
	return stringProps(t.Props)
}

func stringProps(m map[string]any) iop.Props {
	props := iop.Props{}
	for k, v := range m {
		props[strings.ToLower(k)] = cast.ToString(v)
	}
	return props
}
