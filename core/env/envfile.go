package env

import (
	"os"
	"strings"

	"github.com/flarco/g"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// EnvFile holds default csv properties and environment variables,
// read from `~/.slingcsv/env.yaml`
type EnvFile struct {
	Props map[string]any `json:"props,omitempty" yaml:"props,omitempty"`
	Env   map[string]any `json:"env,omitempty" yaml:"env,omitempty"`

	Path string `json:"-" yaml:"-"`
	Body string `json:"-" yaml:"-"`
}

// LoadEnvFile reads the env file at path. A missing file yields an empty EnvFile.
// Values in `env` are set as environment variables unless already set, and
// `${VAR}` references in the body are expanded first.
func LoadEnvFile(path string) (ef EnvFile, err error) {
	ef.Path = CleanWindowsPath(path)
	ef.Props = map[string]any{}
	ef.Env = map[string]any{}

	if !g.PathExists(path) {
		return ef, nil
	}

	bytes, err := os.ReadFile(path)
	if err != nil {
		return ef, g.Error(err, "could not read env file %s", path)
	}
	ef.Body = os.ExpandEnv(string(bytes))

	if err = yaml.Unmarshal([]byte(ef.Body), &ef); err != nil {
		return ef, g.Error(err, "error parsing yaml of env file %s", path)
	}

	for k, v := range ef.Env {
		if _, found := os.LookupEnv(k); !found {
			os.Setenv(k, cast.ToString(v))
		}
	}
	return ef, nil
}

// LoadHomeEnvFile loads the env file of the home dir
func LoadHomeEnvFile() (EnvFile, error) {
	return LoadEnvFile(HomeDirEnvFile)
}

// StringProps returns the default props as strings, keys lower-cased
func (ef EnvFile) StringProps() map[string]string {
	props := map[string]string{}
	for k, v := range ef.Props {
		props[strings.ToLower(k)] = cast.ToString(v)
	}
	return props
}
