package main

import (
	"bytes"
	"os"
	"path"
	"strings"
	"testing"

	"github.com/flarco/g"
	"github.com/stretchr/testify/assert"
)

func runCommand(t *testing.T, process func(c *g.CliSC) (bool, error), vals map[string]any) (string, error) {
	buf := &bytes.Buffer{}
	output = buf
	t.Cleanup(func() { output = os.Stdout })

	ok, err := process(&g.CliSC{Vals: vals})
	assert.True(t, ok)
	return buf.String(), err
}

func writeSource(t *testing.T) string {
	dir := t.TempDir()
	content := "id,name\n1,Alice\n2,\"Bob, Jr\"\n3,\n4,Dana\n"
	g.AssertNoError(t, os.WriteFile(path.Join(dir, "people.csv"), []byte(content), 0644))
	return dir
}

func TestCommandRead(t *testing.T) {
	dir := writeSource(t)
	src := path.Join(dir, "people.csv")

	out, err := runCommand(t, processRead, g.M(
		"src", src,
		"src-props", `{"csv.reader.skip_header": true, "csv.reader.null": ""}`,
	))
	g.AssertNoError(t, err)
	assert.Equal(t, []string{
		`{"id":"1","name":"Alice"}`,
		`{"id":"2","name":"Bob, Jr"}`,
		`{"id":"3","name":null}`,
		`{"id":"4","name":"Dana"}`,
	}, strings.Split(strings.TrimSpace(out), "\n"))

	// limit and declared fields
	out, err = runCommand(t, processRead, g.M(
		"src", src,
		"src-fields", "name",
		"src-props", "csv.reader.skip_header: true",
		"limit", "2",
	))
	g.AssertNoError(t, err)
	assert.Equal(t, "{\"name\":\"Alice\"}\n{\"name\":\"Bob, Jr\"}\n", out)

	// single split
	out, err = runCommand(t, processRead, g.M(
		"src", src,
		"split-size", "20B",
		"split", "1",
	))
	g.AssertNoError(t, err)
	assert.Equal(t, "{\"col0\":\"3\",\"col1\":\"\"}\n{\"col0\":\"4\",\"col1\":\"Dana\"}\n", out)

	_, err = runCommand(t, processRead, g.M("src", src, "split", "9"))
	assert.ErrorContains(t, err, "out of range")
}

func TestCommandPlanSchema(t *testing.T) {
	dir := writeSource(t)
	src := path.Join(dir, "people.csv")

	out, err := runCommand(t, processPlan, g.M("src", src, "split-size", "15B"))
	g.AssertNoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if assert.Len(t, lines, 3) {
		assert.Contains(t, lines[0], `"start":0`)
		assert.Contains(t, lines[0], `"end":15`)
		assert.Contains(t, lines[2], `"codec":"none"`)
		assert.Contains(t, lines[2], `"splittable":true`)
	}

	out, err = runCommand(t, processSchema, g.M("src", src, "src-props", "{csv.reader.skip_header: true}"))
	g.AssertNoError(t, err)
	assert.Equal(t, "{\"columns\":2,\"fields\":[\"id\",\"name\"]}\n", out)

	_, err = runCommand(t, processSchema, g.M("src", src, "src-fields", "id,email", "src-props", "{csv.reader.skip_header: true}"))
	assert.Error(t, err)
}

func TestCommandCopy(t *testing.T) {
	dir := writeSource(t)

	cfgPath := path.Join(dir, "job.yaml")
	job := `
source:
  url: ` + path.Join(dir, "people.csv") + `
  props:
    csv.reader.skip_header: true
target:
  url: ` + path.Join(dir, "out", "people.csv") + `
options:
  split_size: 16B
  concurrency: 2
`
	g.AssertNoError(t, os.WriteFile(cfgPath, []byte(job), 0644))

	_, err := runCommand(t, processCopy, g.M(
		"config", cfgPath,
		"tgt-props", `{"csv.writer.delimiter": "|", "csv.writer.record_separator": "\\n"}`,
	))
	g.AssertNoError(t, err)

	data, err := os.ReadFile(path.Join(dir, "out", "people.csv"))
	g.AssertNoError(t, err)
	assert.Equal(t, "id|name\n1|Alice\n2|Bob, Jr\n3|\n4|Dana\n", string(data))

	_, err = runCommand(t, processCopy, g.M("src", path.Join(dir, "people.csv")))
	assert.ErrorContains(t, err, "did not provide target url")
}

func TestParsePayload(t *testing.T) {
	props, err := parsePayload(`{"a": 1}`)
	g.AssertNoError(t, err)
	assert.Equal(t, 1.0, props["a"])

	props, err = parsePayload("a: x\nb: true")
	g.AssertNoError(t, err)
	assert.Equal(t, "x", props["a"])
	assert.Equal(t, true, props["b"])

	_, err = parsePayload("a:x")
	assert.Error(t, err)

	props, err = parsePayload("  ")
	g.AssertNoError(t, err)
	assert.Empty(t, props)
}
