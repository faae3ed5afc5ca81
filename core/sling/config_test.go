package sling

import (
	"os"
	"path"
	"runtime"
	"testing"

	"github.com/flarco/g"
	"github.com/slingdata-io/sling-csv/core/dbio/iop"
	"github.com/stretchr/testify/assert"
)

func TestConfig(t *testing.T) {
	cfgStr := `
source:
  url: s3://bucket/data/*.csv
  fields: [id, name]
  props:
    csv.reader.skip_header: true
    CSV.Reader.Delimiter: "|"
target:
  url: /tmp/out.csv
  props:
    csv.writer.compression: zstd
options:
  split_size: 128MB
env:
  SLINGCSV_TEST_CONFIG_VAR: hello
`
	cfg, err := NewConfig(cfgStr)
	g.AssertNoError(t, err)
	assert.True(t, cfg.Prepared)
	assert.Equal(t, "s3://bucket/data/*.csv", cfg.Source.URL)
	assert.Equal(t, iop.KnownFields("id", "name"), cfg.Source.DeclaredFields())
	assert.Equal(t, runtime.NumCPU(), cfg.Options.Concurrency)
	assert.Equal(t, "hello", os.Getenv("SLINGCSV_TEST_CONFIG_VAR"))

	size, err := cfg.SplitSizeBytes()
	g.AssertNoError(t, err)
	assert.EqualValues(t, 128*1000*1000, size)

	props := cfg.Source.PropsMap()
	assert.Equal(t, "true", props["csv.reader.skip_header"])
	assert.Equal(t, "|", props["csv.reader.delimiter"])
	assert.Equal(t, "zstd", cfg.Target.PropsMap().Get(iop.KeyCompression))

	// round trip through a file
	cfgBytes, err := cfg.Marshal()
	g.AssertNoError(t, err)
	cfgPath := path.Join(t.TempDir(), "job.yaml")
	g.AssertNoError(t, os.WriteFile(cfgPath, cfgBytes, 0644))

	cfg2, err := NewConfig(cfgPath)
	g.AssertNoError(t, err)
	assert.Equal(t, cfg.Source, cfg2.Source)
	assert.Equal(t, cfg.Options, cfg2.Options)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{
		Source: Source{Splits: []iop.Split{{Path: "data.csv", Start: 0, End: 100}}},
		Target: Target{URL: "out.csv"},
	}
	g.AssertNoError(t, cfg.Prepare())
	assert.Equal(t, DefaultSplitSize, cfg.Options.SplitSize)
	assert.Equal(t, iop.UnknownFields(), cfg.Source.DeclaredFields())

	cfg.SetDefaultProps(map[string]string{"CSV.STRICT": "false", "csv.reader.delimiter": ";"})
	cfg.Source.Props["csv.reader.delimiter"] = "|"
	cfg.SetDefaultProps(map[string]string{"csv.reader.delimiter": ";"})
	assert.Equal(t, "false", cfg.Source.PropsMap().Get(iop.KeyStrict))
	assert.Equal(t, "|", cfg.Source.PropsMap().Get("csv.reader.delimiter"))
	assert.Equal(t, ";", cfg.Target.PropsMap().Get("csv.reader.delimiter"))
}

func TestConfigInvalid(t *testing.T) {
	_, err := NewConfig("target:\n  url: out.csv")
	assert.ErrorContains(t, err, "did not provide source url")

	_, err = NewConfig("source:\n  url: data.csv")
	assert.ErrorContains(t, err, "did not provide target url")

	_, err = NewConfig("source:\n  splits: [{start: 0, end: 10}]\ntarget:\n  url: out.csv")
	assert.ErrorContains(t, err, "split has no path")

	_, err = NewConfig("source:\n  url: data.csv\ntarget:\n  url: out.csv\noptions:\n  split_size: lots")
	assert.ErrorContains(t, err, "invalid split size")

	_, err = NewConfig("source: [")
	assert.Error(t, err)
}
