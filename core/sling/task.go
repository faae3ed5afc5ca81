package sling

import (
	"context"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/flarco/g"
	"github.com/segmentio/ksuid"
	"github.com/slingdata-io/sling-csv/core/dbio/filesys"
	"github.com/slingdata-io/sling-csv/core/dbio/iop"
	"github.com/slingdata-io/sling-csv/core/env"
	"github.com/spf13/cast"
)

// TaskExecution is a job execution: the splits of the source are read
// concurrently and their records are written, in split order, to the target
type TaskExecution struct {
	ExecID       string     `json:"exec_id"`
	Config       *Config    `json:"config"`
	Status       ExecStatus `json:"status"`
	Err          error      `json:"error"`
	StartTime    *time.Time `json:"start_time"`
	EndTime      *time.Time `json:"end_time"`
	Progress     string     `json:"progress"`
	ProgressHist []string   `json:"progress_hist"`
	OutputURL    string     `json:"output_url"`

	Context *g.Context   `json:"-"`
	PBar    *ProgressBar `json:"-"`

	codecs   *iop.CodecRegistry
	srcFs    filesys.FileSysClient
	splits   []iop.Split
	resolver *iop.SchemaResolver
	schema   *iop.ResolvedSchema
	mux      sync.Mutex

	rowsRead     atomic.Uint64
	rowsWritten  atomic.Uint64
	rowsSkipped  atomic.Int64
	bytesWritten atomic.Uint64
	splitsDone   atomic.Int64
}

// NewExecID returns a new unique execution id
func NewExecID() string {
	uid, err := ksuid.NewRandom()
	execID := g.NewTsID("exec")
	if err == nil {
		execID = uid.String()
	}

	return execID
}

// NewTask creates a task with given configuration
func NewTask(execID string, cfg *Config) (t *TaskExecution) {
	if execID == "" {
		execID = NewExecID()
	}

	t = &TaskExecution{
		ExecID:       execID,
		Config:       cfg,
		Status:       ExecStatusCreated,
		Context:      g.NewContext(context.Background()),
		PBar:         NewPBar(time.Second),
		ProgressHist: []string{},
		codecs:       iop.DefaultCodecRegistry(),
	}

	err := cfg.Prepare()
	if err != nil {
		t.Err = g.Error(err, "could not prepare task")
		return
	}

	return
}

// SetProgress sets the progress
func (t *TaskExecution) SetProgress(text string, args ...interface{}) {
	progressText := g.F(text, args...)
	t.ProgressHist = append(t.ProgressHist, progressText)
	t.Progress = progressText
	if !t.PBar.started || t.PBar.finished {
		if strings.Contains(text, "execution failed") {
			text = env.RedString(text)
		}
		g.Info(text, args...)
	} else {
		t.PBar.SetStatus(progressText)
	}
}

// GetCount return the number of rows written so far
func (t *TaskExecution) GetCount() uint64 {
	return t.rowsWritten.Load()
}

// GetSkipped return the number of malformed records dropped so far
func (t *TaskExecution) GetSkipped() int64 {
	return t.rowsSkipped.Load()
}

// GetBytes return the number of bytes written to the target so far
func (t *TaskExecution) GetBytes() uint64 {
	return t.bytesWritten.Load()
}

// GetBytesString return the bytes written, humanized
func (t *TaskExecution) GetBytesString() string {
	return humanize.Bytes(t.GetBytes())
}

// GetRate return the rows per second since the start of the execution
func (t *TaskExecution) GetRate() (rowRate int64) {
	if t.StartTime == nil || t.StartTime.IsZero() {
		return
	}

	end := time.Now()
	if t.EndTime != nil && !t.EndTime.IsZero() {
		end = *t.EndTime
	}

	secElapsed := end.Sub(*t.StartTime).Seconds()
	if secElapsed <= 0 {
		return
	}
	return cast.ToInt64(math.Round(cast.ToFloat64(t.GetCount()) / secElapsed))
}

// sourceFs returns the file system client of the source, creating it on
// first use
func (t *TaskExecution) sourceFs() (fs filesys.FileSysClient, err error) {
	t.mux.Lock()
	defer t.mux.Unlock()
	if t.srcFs != nil {
		return t.srcFs, nil
	}

	url := t.Config.Source.URL
	if url == "" && len(t.Config.Source.Splits) > 0 {
		url = t.Config.Source.Splits[0].Path
	}

	t.srcFs, err = filesys.NewFileSysClientFromURLContext(t.Context.Ctx, url)
	if err != nil {
		return nil, g.Error(err, "could not create source file system client for %s", url)
	}
	return t.srcFs, nil
}

// readFormat returns the source format and props
func (t *TaskExecution) readFormat() (format iop.FormatSpec, props iop.Props, err error) {
	props = t.Config.Source.PropsMap()
	format, err = iop.NewFormatSpec(props, iop.RoleReader)
	return
}

// Splits returns the splits of the source: the configured ones, or the
// splits computed over the files matching the source url
func (t *TaskExecution) Splits() (splits []iop.Split, err error) {
	if t.Err != nil {
		return nil, t.Err
	} else if t.splits != nil {
		return t.splits, nil
	}

	if len(t.Config.Source.Splits) > 0 {
		t.splits = t.Config.Source.Splits
		return t.splits, nil
	}

	fs, err := t.sourceFs()
	if err != nil {
		return nil, err
	}

	splitSize, err := t.Config.SplitSizeBytes()
	if err != nil {
		return nil, err
	}

	t.splits, err = filesys.ExpandSplits(t.Context.Ctx, fs, t.codecs, t.Config.Source.URL, splitSize)
	if err != nil {
		return nil, err
	}
	g.Debug("planned %d splits over %s (split size %s)", len(t.splits), t.Config.Source.URL, t.Config.Options.SplitSize)
	return t.splits, nil
}

// planner returns a split planner over the source file system
func (t *TaskExecution) planner(props iop.Props) (planner *iop.SplitPlanner, err error) {
	fs, err := t.sourceFs()
	if err != nil {
		return nil, err
	}

	syncMode, err := props.SyncMode()
	if err != nil {
		return nil, err
	}
	return iop.NewSplitPlanner(fs, t.codecs, syncMode), nil
}

// Plans returns the plan of each split, without reading any byte
func (t *TaskExecution) Plans() (plans []iop.SplitPlan, err error) {
	splits, err := t.Splits()
	if err != nil {
		return nil, err
	}

	planner, err := t.planner(t.Config.Source.PropsMap())
	if err != nil {
		return nil, err
	}

	for _, split := range splits {
		plan, err := planner.Plan(split)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// ResolveSchema resolves the source field names, from the declared fields
// or from the first record of the first file
func (t *TaskExecution) ResolveSchema() (rs *iop.ResolvedSchema, err error) {
	if t.schema != nil {
		return t.schema, nil
	}

	splits, err := t.Splits()
	if err != nil {
		return nil, err
	}

	fs, err := t.sourceFs()
	if err != nil {
		return nil, err
	}

	format, _, err := t.readFormat()
	if err != nil {
		return nil, err
	}

	if t.resolver == nil {
		sampler := &iop.FileSampler{
			Opener: fs,
			Codecs: t.codecs,
			Path:   splits[0].Path,
			Format: format,
		}
		t.resolver = iop.NewSchemaResolver(format, sampler)
	}

	t.schema, err = t.resolver.ResolveSource(t.Context.Ctx, t.Config.Source.DeclaredFields())
	if err != nil {
		return nil, err
	}
	g.Debug("resolved source fields: %s", strings.Join(t.schema.Names, ", "))
	return t.schema, nil
}

// ReadSplit reads the records of a split in resolved field order, calling
// fn for each. The row is reused between calls.
func (t *TaskExecution) ReadSplit(ctx context.Context, split iop.Split, fn func(row *iop.RowBuffer) error) (err error) {
	rs, err := t.ResolveSchema()
	if err != nil {
		return err
	}

	format, props, err := t.readFormat()
	if err != nil {
		return err
	}

	planner, err := t.planner(props)
	if err != nil {
		return err
	}

	opened, err := planner.Open(ctx, split)
	if err != nil {
		return err
	}

	options := iop.ReaderOptions{Strict: props.Strict(), ExpectedColumns: rs.Columns}
	reader, err := iop.NewSplitRecordReader(ctx, opened, format, options)
	if err != nil {
		opened.Close()
		return err
	}

	sr := iop.NewSchemaReader(reader, rs)
	defer sr.Close()

	var count uint64
	for sr.Next() {
		if err = fn(sr.Row()); err != nil {
			return err
		}
		count++
	}

	t.rowsRead.Add(count)
	t.rowsSkipped.Add(sr.Skipped())
	if err = sr.Err(); err != nil {
		return err
	}

	if sr.Skipped() > 0 {
		g.Warn("dropped %d malformed records in %s", sr.Skipped(), split)
	}
	g.Trace("read %s records from %s", humanize.Comma(cast.ToInt64(count)), split)
	return nil
}
