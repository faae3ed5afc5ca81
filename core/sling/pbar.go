package sling

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/flarco/g"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/slingdata-io/sling-csv/core/env"
	"github.com/spf13/cast"
	pb "gopkg.in/cheggaaa/pb.v2"
)

var ShowProgress = env.IsInteractiveTerminal()

// ProgressBar shows the rows copied so far on the terminal
type ProgressBar struct {
	bar      *pb.ProgressBar
	started  bool
	finished bool
}

// NewPBar creates a new progress bar
func NewPBar(d time.Duration) *ProgressBar {
	pb.RegisterElement("status", elementStatus, true)
	pb.RegisterElement("counters", elementCounters, true)
	pb.RegisterElement("bytes", elementBytes, true)
	pb.RegisterElement("splits", elementSplits, true)
	tmpl := `{{etime . "%s" | yellow }} {{counters . }} {{speed . "%s r/s" | green }} {{ bytes . | blue }} {{ splits . }} {{ status . }}`
	if g.IsDebugLow() {
		pb.RegisterElement("mem", elementMem, true)
		pb.RegisterElement("cpu", elementCPU, true)
		tmpl = `{{etime . "%s" | yellow }} {{counters . }} {{speed . "%s r/s" | green }} {{ bytes . | blue }} {{ splits . }} {{ mem . }} {{ cpu . }} {{ status . }}`
	}
	pbar := pb.ProgressBarTemplate(tmpl).New(0)
	pbar.SetRefreshRate(d)
	pbar.SetWidth(40)
	return &ProgressBar{bar: pbar}
}

// SetStatus sets the progress bar status
func (p *ProgressBar) SetStatus(status string) {
	if !p.finished {
		p.bar.Set("status", status)
		p.bar.Write()
	}
}

// Update refreshes the counters of the bar
func (p *ProgressBar) Update(rows, bytes uint64, splitsDone, splitsTotal int) {
	if p.finished {
		return
	}
	p.bar.SetCurrent(cast.ToInt64(rows))
	p.bar.Set("bytes", humanize.Bytes(bytes))
	p.bar.Set("splits", g.F("%d/%d splits", splitsDone, splitsTotal))
}

func (p *ProgressBar) Start() {
	if !p.started {
		p.started = true
		p.bar.Start()
	}
}

func (p *ProgressBar) Finish() {
	if p.started && !p.finished {
		p.bar.Finish()
	}
	p.finished = true
}

// calculates the RAM percent
var elementMem pb.ElementFunc = func(state *pb.State, args ...string) string {
	memRAM, err := mem.VirtualMemory()
	if err != nil {
		return ""
	}
	return g.F("| %d%% MEM", cast.ToInt(memRAM.UsedPercent))
}

// calculates the CPU percent
var elementCPU pb.ElementFunc = func(state *pb.State, args ...string) string {
	cpuPct, err := cpu.Percent(0, false)
	if err != nil || len(cpuPct) == 0 {
		return ""
	}
	return g.F("| %d%% CPU", cast.ToInt(cpuPct[0]))
}

var elementStatus pb.ElementFunc = func(state *pb.State, args ...string) string {
	status := cast.ToString(state.Get("status"))
	if status == "" {
		return ""
	}
	return g.F("| %s", status)
}

var elementCounters pb.ElementFunc = func(state *pb.State, args ...string) string {
	f := "%[1]s"
	if state.Total() > 0 {
		f = "%s / %s"
	}
	if len(args) > 0 && args[0] != "" {
		f = args[0]
	}
	return fmt.Sprintf(
		f, humanize.Commaf(cast.ToFloat64(state.Value())),
		humanize.Commaf(cast.ToFloat64(state.Total())),
	)
}

var elementBytes pb.ElementFunc = func(state *pb.State, args ...string) string {
	bytes := cast.ToString(state.Get("bytes"))
	if bytes == "0 B" {
		return ""
	}
	return bytes
}

var elementSplits pb.ElementFunc = func(state *pb.State, args ...string) string {
	splits := cast.ToString(state.Get("splits"))
	if splits == "" {
		return ""
	}
	return g.F("| %s", splits)
}
