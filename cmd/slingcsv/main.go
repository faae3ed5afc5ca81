package main

import (
	"context"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/flarco/g"
	"github.com/integrii/flaggy"
	"github.com/slingdata-io/sling-csv/core"
	"github.com/slingdata-io/sling-csv/core/env"
	"github.com/slingdata-io/sling-csv/core/sling"
	"github.com/spf13/cast"
)

var (
	ctx         = g.NewContext(context.Background())
	interrupted = false
)

func init() {
	env.InitLogger()
}

var sourceFlags = []g.Flag{
	{
		Name:        "config",
		ShortName:   "c",
		Type:        "string",
		Description: "The job config string or file to use (JSON or YAML).",
	},
	{
		Name:        "src",
		ShortName:   "",
		Type:        "string",
		Description: "The source file path, folder or glob pattern (local or s3://).",
	},
	{
		Name:        "src-fields",
		ShortName:   "",
		Type:        "string",
		Description: "The comma separated field names to read. Unknown when omitted.",
	},
	{
		Name:        "src-props",
		ShortName:   "",
		Type:        "string",
		Description: "In-line reader properties in JSON or YAML format, e.g. '{csv.reader.skip_header: true}'",
	},
	{
		Name:        "split-size",
		ShortName:   "",
		Type:        "string",
		Description: "The size of the byte ranges to cut the source files into (default 64MB).",
	},
}

var cliCopy = &g.CliSC{
	Name:        "copy",
	Description: "Copy the records of the source files into one target file",
	Flags: append(append([]g.Flag{}, sourceFlags...), []g.Flag{
		{
			Name:        "tgt",
			ShortName:   "",
			Type:        "string",
			Description: "The target file path (local or s3://).",
		},
		{
			Name:        "tgt-props",
			ShortName:   "",
			Type:        "string",
			Description: "In-line writer properties in JSON or YAML format, e.g. '{csv.writer.compression: gzip}'",
		},
		{
			Name:        "concurrency",
			ShortName:   "",
			Type:        "string",
			Description: "The number of splits read concurrently (default is the number of CPUs).",
		},
	}...),
	ExecProcess: processCopy,
}

var cliPlan = &g.CliSC{
	Name:        "plan",
	Description: "Show the splits of the source and how each one would be read",
	Flags:       sourceFlags,
	ExecProcess: processPlan,
}

var cliRead = &g.CliSC{
	Name:        "read",
	Description: "Print the records of the source as JSON lines",
	Flags: append(append([]g.Flag{}, sourceFlags...), []g.Flag{
		{
			Name:        "split",
			ShortName:   "",
			Type:        "string",
			Description: "The index of the split to read (all splits when omitted).",
		},
		{
			Name:        "limit",
			ShortName:   "l",
			Type:        "string",
			Description: "The maximum number of records to print.",
		},
	}...),
	ExecProcess: processRead,
}

var cliSchema = &g.CliSC{
	Name:        "schema",
	Description: "Show the resolved field names of the source",
	Flags:       sourceFlags,
	ExecProcess: processSchema,
}

func init() {
	cliCopy.Make().Add()
	cliPlan.Make().Add()
	cliRead.Make().Add()
	cliSchema.Make().Add()
}

func main() {

	exitCode := 11
	done := make(chan struct{})
	interrupt := make(chan os.Signal, 1)
	kill := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	signal.Notify(kill, syscall.SIGTERM)

	if val := os.Getenv("SLINGCSV_SHOW_PROGRESS"); val != "" {
		sling.ShowProgress = cast.ToBool(val)
	}

	exit := func() {
		time.Sleep(50 * time.Millisecond) // so logger can flush
		os.Exit(exitCode)
	}

	go func() {
		select {
		case <-kill:
			env.Println("\nkilling process...")
			exitCode = 111
			exit()
		case <-interrupt:
			env.Println("\ninterrupting...")
			interrupted = true
			ctx.Cancel()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
			}
			exit()
		case <-done:
			exit()
		}
	}()

	exitCode = cliInit(done)
	time.Sleep(50 * time.Millisecond) // so logger can flush

	os.Exit(exitCode)
}

func cliInit(done chan struct{}) int {
	defer close(done)

	// recover from panic
	defer func() {
		if r := recover(); r != nil {
			g.Warn(g.F("panic occurred! %#v\n%s", r, string(debug.Stack())))
		}
	}()

	flaggy.SetName("slingcsv")
	flaggy.SetDescription("Split-parallel CSV reader and writer")
	flaggy.DefaultParser.ShowHelpOnUnexpected = true
	flaggy.DefaultParser.AdditionalHelpPrepend = "Reads CSV files in byte-range splits and writes them back out.\nVersion " + core.Version

	flaggy.SetVersion(core.Version)
	for _, cli := range g.CliArr {
		flaggy.AttachSubcommand(cli.Sc, 1)
	}

	flaggy.ShowHelpOnUnexpectedDisable()
	flaggy.Parse()

	ok, err := g.CliProcess()
	if err != nil {
		g.PrintFatal(err)
		return 1
	} else if !ok {
		flaggy.ShowHelp("")
	}

	return 0
}
