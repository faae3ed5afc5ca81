package sling

import (
	"context"
	"io"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/flarco/g"
	"github.com/slingdata-io/sling-csv/core"
	"github.com/slingdata-io/sling-csv/core/dbio/filesys"
	"github.com/slingdata-io/sling-csv/core/dbio/iop"
	"github.com/spf13/cast"
)

// rows buffered per split before its reader blocks
var rowChannelSize = 1000

// Execute runs the task
func (t *TaskExecution) Execute() error {

	done := make(chan struct{})
	now := time.Now()
	t.StartTime = &now

	if t.Context == nil {
		t.Context = g.NewContext(context.Background())
	}

	// print for debugging
	g.Trace("using Config:\n%s", g.Pretty(t.Config))

	if ShowProgress {
		go t.updateProgress(done)
	}

	go func() {
		defer close(done)
		defer t.PBar.Finish()

		// recover from panic
		defer func() {
			if r := recover(); r != nil {
				t.Err = g.Error("panic occurred! %#v\n%s", r, string(debug.Stack()))
			}
		}()

		if t.Err != nil {
			return
		}
		t.Status = ExecStatusRunning

		g.DebugLow("sling-csv version: %s (%s %s)", core.Version, runtime.GOOS, runtime.GOARCH)
		g.Debug("using source props: %s", g.Marshal(t.Config.Source.Props))
		g.Debug("using target props: %s", g.Marshal(t.Config.Target.Props))

		t.Err = t.runFileToFile()
	}()

	select {
	case <-done:
	case <-t.Context.Ctx.Done():
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
		if t.Err == nil {
			t.Err = g.Error("Execution interrupted")
		}
		t.Status = ExecStatusInterrupted
	}

	now2 := time.Now()
	t.EndTime = &now2

	if t.Err == nil {
		t.SetProgress("execution succeeded")
		t.Status = ExecStatusSuccess
	} else {
		t.SetProgress("execution failed")
		if t.Status != ExecStatusInterrupted {
			t.Status = ExecStatusError
		}
	}

	return t.Err
}

// updateProgress refreshes the progress bar every second until done
func (t *TaskExecution) updateProgress(done chan struct{}) {
	ticker1s := time.NewTicker(time.Second)
	defer ticker1s.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker1s.C:
			if cnt := t.GetCount(); cnt > 1000 {
				t.PBar.Start()
				t.PBar.Update(cnt, t.GetBytes(), cast.ToInt(t.splitsDone.Load()), len(t.splits))
			}
		}
	}
}

// outputURL returns the target url, with the suffix of codec when missing
func outputURL(url string, codec iop.Codec) string {
	if codec == nil {
		return url
	}
	for _, suffix := range codec.Suffixes() {
		if strings.HasSuffix(strings.ToLower(url), suffix) {
			return url
		}
	}
	return url + codec.Suffixes()[0]
}

// openTarget resolves the sink schema for fields and creates the output
// chain: file, compression, charset and csv serialization
func (t *TaskExecution) openTarget(fields []string) (sw *iop.SchemaWriter, err error) {
	ctx := t.Context.Ctx
	props := t.Config.Target.PropsMap()

	format, err := iop.NewFormatSpec(props, iop.RoleWriter)
	if err != nil {
		return nil, err
	}

	codec, err := t.codecs.CodecByName(props.Get(iop.KeyCompression))
	if err != nil {
		return nil, err
	}

	sink, err := iop.NewSchemaResolver(format, nil).ResolveSink(iop.KnownFields(fields...))
	if err != nil {
		return nil, err
	}

	tgtFs, err := filesys.NewFileSysClientFromURLContext(ctx, t.Config.Target.URL)
	if err != nil {
		return nil, g.Error(err, "could not create target file system client for %s", t.Config.Target.URL)
	}

	t.OutputURL = outputURL(t.Config.Target.URL, codec)
	file, err := tgtFs.Create(ctx, t.OutputURL)
	if err != nil {
		return nil, g.Error(err, "could not create %s", t.OutputURL)
	}

	out, err := iop.CompressWriter(codec, &countingWriter{WriteCloser: file, t: t})
	if err != nil {
		file.Close()
		return nil, err
	}

	w, err := iop.NewSplitRecordWriter(out, sink.Format())
	if err != nil {
		return nil, err
	}

	return iop.NewSchemaWriter(w, sink), nil
}

// runFileToFile reads the splits concurrently and writes their records in
// split order. Each split has its own channel, so a split is fully written
// before the next one is consumed.
func (t *TaskExecution) runFileToFile() (err error) {
	ctx := g.NewContext(t.Context.Ctx)
	if t.Config.Target.URL == "" {
		return g.Error("did not provide target url")
	}

	t.SetProgress("reading from %s", sourceDesc(t.Config.Source.URL, t.Config.Source.Splits))
	splits, err := t.Splits()
	if err != nil {
		return err
	}

	rs, err := t.ResolveSchema()
	if err != nil {
		return err
	}

	sw, err := t.openTarget(rs.Names)
	if err != nil {
		return err
	}
	t.SetProgress("writing to %s", t.OutputURL)

	chans := make([]chan *iop.RowBuffer, len(splits))
	for i := range chans {
		chans[i] = make(chan *iop.RowBuffer, rowChannelSize)
	}

	// the first error cancels the other splits
	var failOnce sync.Once
	var failErr error
	fail := func(err error) {
		if ctx.Ctx.Err() != nil {
			return
		}
		failOnce.Do(func() {
			failErr = err
			ctx.CaptureErr(err)
			ctx.Cancel()
		})
	}

	ctx.SetConcurrencyLimit(t.Config.Options.Concurrency)
	launched := make(chan struct{})
	go func() {
		defer close(launched)
		for i, split := range splits {
			ctx.Wg.Read.Add()
			go func(split iop.Split, rows chan *iop.RowBuffer) {
				defer ctx.Wg.Read.Done()
				defer close(rows)

				err := t.ReadSplit(ctx.Ctx, split, func(row *iop.RowBuffer) error {
					select {
					case rows <- row.Clone():
						return nil
					case <-ctx.Ctx.Done():
						return ctx.Ctx.Err()
					}
				})
				if err != nil {
					fail(err)
				}
			}(split, chans[i])
		}
	}()

	for _, rows := range chans {
		for row := range rows {
			if ctx.Ctx.Err() != nil {
				continue // drain
			}
			if err := sw.Write(row); err != nil {
				fail(err)
				continue
			}
			t.rowsWritten.Add(1)
		}
		t.splitsDone.Add(1)
	}

	<-launched
	ctx.Wg.Read.Wait()

	closeErr := sw.Close()
	if failErr != nil {
		return failErr
	} else if t.Context.Ctx.Err() != nil {
		return g.Error(t.Context.Ctx.Err(), "Execution interrupted")
	} else if closeErr != nil {
		return closeErr
	}

	g.Debug(
		"read %s rows, wrote %s rows [%s r/s] to %s (%s)",
		humanize.Comma(cast.ToInt64(t.rowsRead.Load())),
		humanize.Comma(cast.ToInt64(t.GetCount())), humanize.Comma(t.GetRate()),
		t.OutputURL, t.GetBytesString(),
	)
	if skipped := t.GetSkipped(); skipped > 0 {
		g.Warn("dropped %d malformed records in total", skipped)
	}
	return nil
}

// sourceDesc describes the source for logging
func sourceDesc(url string, splits []iop.Split) string {
	if url != "" {
		return url
	}
	return g.F("%d splits", len(splits))
}

// countingWriter counts the bytes written to the target
type countingWriter struct {
	io.WriteCloser
	t *TaskExecution
}

func (cw *countingWriter) Write(p []byte) (n int, err error) {
	n, err = cw.WriteCloser.Write(p)
	cw.t.bytesWritten.Add(cast.ToUint64(n))
	return
}
