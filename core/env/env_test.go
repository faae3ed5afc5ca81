package env

import (
	"os"
	"path"
	"testing"

	"github.com/flarco/g"
	"github.com/stretchr/testify/assert"
)

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	filePath := path.Join(dir, "env.yaml")
	body := `
props:
  csv.reader.delimiter: "|"
  CSV.STRICT: false
env:
  SLINGCSV_TEST_VAR: ${SLINGCSV_TEST_SOURCE}
`
	g.AssertNoError(t, os.WriteFile(filePath, []byte(body), 0644))
	t.Setenv("SLINGCSV_TEST_SOURCE", "hello")

	ef, err := LoadEnvFile(filePath)
	g.AssertNoError(t, err)
	assert.Equal(t, map[string]string{"csv.reader.delimiter": "|", "csv.strict": "false"}, ef.StringProps())
	assert.Equal(t, "hello", os.Getenv("SLINGCSV_TEST_VAR"))
	os.Unsetenv("SLINGCSV_TEST_VAR")

	ef, err = LoadEnvFile(path.Join(dir, "missing.yaml"))
	g.AssertNoError(t, err)
	assert.Empty(t, ef.StringProps())

	g.AssertNoError(t, os.WriteFile(filePath, []byte("props: [a"), 0644))
	_, err = LoadEnvFile(filePath)
	assert.Error(t, err)
}

func TestSetHomeDir(t *testing.T) {
	t.Setenv("SLINGCSV_TEST_HOME_DIR", "/tmp/x")
	assert.Equal(t, "/tmp/x", SetHomeDir("slingcsv_test"))
	assert.Equal(t, "/tmp/x/env.yaml", GetEnvFilePath("/tmp/x"))
	assert.Equal(t, "c:/a/b", CleanWindowsPath(`c:\a\b`))
}
