package main

import (
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/flarco/g"
	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"
	"github.com/slingdata-io/sling-csv/core/dbio/iop"
	"github.com/slingdata-io/sling-csv/core/env"
	"github.com/slingdata-io/sling-csv/core/sling"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// output receives the records and plans printed by the commands
var output io.Writer = os.Stdout

// errStopReading ends a read early once the limit is reached
var errStopReading = g.Error("limit reached")

func processCopy(c *g.CliSC) (ok bool, err error) {
	ok = true
	task, err := newTask(c.Vals)
	if err != nil {
		return ok, err
	}

	if err = task.Execute(); err != nil {
		return ok, g.Error(err, "copy failed")
	}

	env.Println(env.GreenString(g.F(
		"wrote %s rows to %s (%s)",
		humanize.Comma(cast.ToInt64(task.GetCount())), task.OutputURL, task.GetBytesString(),
	)))
	return
}

func processPlan(c *g.CliSC) (ok bool, err error) {
	ok = true
	task, err := newTask(c.Vals)
	if err != nil {
		return ok, err
	}

	plans, err := task.Plans()
	if err != nil {
		return ok, g.Error(err, "could not plan splits")
	}

	encoder := json.NewEncoder(output)
	for i, plan := range plans {
		codec := iop.NoneCompressorType
		if plan.Codec != nil {
			codec = plan.Codec.Name()
		}
		err = encoder.Encode(g.M(
			"index", i,
			"path", plan.Split.Path,
			"start", plan.Split.Start,
			"end", plan.Split.End,
			"codec", codec,
			"splittable", plan.Splittable,
			"bounded", plan.Bounded,
		))
		if err != nil {
			return ok, g.Error(err, "could not print plan")
		}
	}
	return
}

func processRead(c *g.CliSC) (ok bool, err error) {
	ok = true
	task, err := newTask(c.Vals)
	if err != nil {
		return ok, err
	}

	splits, err := task.Splits()
	if err != nil {
		return ok, err
	}

	if val, found := c.Vals["split"]; found && cast.ToString(val) != "" {
		index := cast.ToInt(val)
		if index < 0 || index >= len(splits) {
			return ok, g.Error("split index %d is out of range (%d splits)", index, len(splits))
		}
		splits = splits[index : index+1]
	}

	rs, err := task.ResolveSchema()
	if err != nil {
		return ok, err
	}

	limit := cast.ToInt(c.Vals["limit"])
	count := 0
	encoder := json.NewEncoder(output)
	for _, split := range splits {
		err = task.ReadSplit(task.Context.Ctx, split, func(row *iop.RowBuffer) error {
			if limit > 0 && count >= limit {
				return errStopReading
			}
			record := g.M()
			for i, name := range rs.Names {
				if !row.IsNull(i) {
					record[name], _ = row.Get(i)
				} else {
					record[name] = nil
				}
			}
			count++
			return encoder.Encode(record)
		})
		if err == errStopReading {
			break
		} else if err != nil {
			return ok, g.Error(err, "could not read %s", split)
		}
	}
	g.Debug("printed %d records", count)
	return
}

func processSchema(c *g.CliSC) (ok bool, err error) {
	ok = true
	task, err := newTask(c.Vals)
	if err != nil {
		return ok, err
	}

	rs, err := task.ResolveSchema()
	if err != nil {
		return ok, g.Error(err, "could not resolve schema")
	}

	err = json.NewEncoder(output).Encode(g.M("fields", rs.Names, "columns", rs.Columns))
	if err != nil {
		return ok, g.Error(err, "could not print schema")
	}
	return
}

// newTask builds a task from the command flags, the job config and the
// default props of the home env file
func newTask(vals map[string]any) (task *sling.TaskExecution, err error) {
	cfg, err := configFromVals(vals)
	if err != nil {
		return nil, err
	}

	envFile, err := env.LoadHomeEnvFile()
	if err != nil {
		return nil, g.Error(err, "could not load env file")
	}
	cfg.SetDefaultProps(envFile.StringProps())

	task = sling.NewTask(os.Getenv("SLINGCSV_EXEC_ID"), cfg)
	if task.Err != nil {
		return nil, task.Err
	}
	task.Context = g.NewContext(ctx.Ctx)
	return task, nil
}

func configFromVals(vals map[string]any) (cfg *sling.Config, err error) {
	cfg = &sling.Config{}

	if cfgStr := cast.ToString(vals["config"]); cfgStr != "" {
		if err = cfg.Unmarshal(cfgStr); err != nil {
			return nil, g.Error(err, "could not parse config")
		}
	}

	for k, v := range vals {
		val := cast.ToString(v)
		if val == "" {
			continue
		}

		switch k {
		case "src":
			cfg.Source.URL = val
		case "src-fields":
			cfg.Source.Fields = lo.Map(strings.Split(val, ","), func(f string, i int) string {
				return strings.TrimSpace(f)
			})
		case "src-props":
			props, err := parsePayload(val)
			if err != nil {
				return nil, g.Error(err, "invalid src-props")
			}
			cfg.Source.Props = mergeProps(cfg.Source.Props, props)
		case "tgt":
			cfg.Target.URL = val
		case "tgt-props":
			props, err := parsePayload(val)
			if err != nil {
				return nil, g.Error(err, "invalid tgt-props")
			}
			cfg.Target.Props = mergeProps(cfg.Target.Props, props)
		case "split-size":
			cfg.Options.SplitSize = val
		case "concurrency":
			cfg.Options.Concurrency = cast.ToInt(val)
		}
	}

	return cfg, nil
}

func mergeProps(base, props map[string]any) map[string]any {
	if base == nil {
		base = map[string]any{}
	}
	for k, v := range props {
		base[k] = v
	}
	return base
}

func parsePayload(payload string) (options map[string]any, err error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return map[string]any{}, nil
	}

	// try json
	options, err = g.UnmarshalMap(payload)
	if err == nil {
		return options, nil
	}

	// try yaml
	err = yaml.Unmarshal([]byte(payload), &options)
	if err != nil {
		return options, g.Error(err, "could not parse options")
	}

	for k := range options {
		if strings.Contains(k, ":") {
			return options, g.Error("invalid key: %s. Try adding a space after the colon.", k)
		}
	}

	return options, nil
}
