package scan

import (
	"fmt"
	"os"
	"sort"

	"duplexscan/pkg/decode"
	"duplexscan/pkg/device"
	"duplexscan/pkg/inspect"
	"duplexscan/pkg/log"
	"duplexscan/pkg/metrics"
)

// Stage is the position of one delivery in the transfer pipeline.
type Stage int

const (
	StageReady Stage = iota
	StageDecoding
	StageClassifying
	StageRouted
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageReady:
		return "Ready"
	case StageDecoding:
		return "Decoding"
	case StageClassifying:
		return "Classifying"
	case StageRouted:
		return "Routed"
	case StageFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// coordinator receives the source's notifications for one run. Its methods
// run on the source's delivery goroutine, one at a time.
type coordinator struct {
	engine *Engine
	run    *Run
}

var _ device.Events = (*coordinator)(nil)

// TransferReady answers the cancel-all question from the run's stop flag.
func (c *coordinator) TransferReady() bool {
	cancel := c.run.StopRequested()
	log.Trace("Transfer ready, cancel=%t", cancel)
	if cancel {
		c.run.log.Append("Scanning stopped, remaining pages cancelled")
	}
	return cancel
}

// DataTransferred runs one delivery through the pipeline. Failures are
// logged and count the page as failed; they never end the run.
func (c *coordinator) DataTransferred(t device.Transfer) {
	if !c.run.beginPage() {
		log.Warn("Delivery after run %s was finalised, dropped", c.run.ID)
		return
	}
	defer c.run.endPage()

	stage := StageReady
	defer func() {
		if p := recover(); p != nil {
			log.Error("Delivery panicked in stage %s: %v", stage, p)
			c.run.log.Append("Page dropped in %s: %v", stage, p)
			stage = StageFailed
			c.run.pageFailed()
		}
	}()

	_ = c.run.recorder.Record("Page", metrics.MLogic, func() error {
		c.process(t, &stage)
		return nil
	})
	if stage == StageRouted {
		c.run.pageWritten()
	} else {
		c.run.pageFailed()
	}
	log.Debug("Delivery finished in stage %s", stage)
}

func (c *coordinator) process(t device.Transfer, stage *Stage) {
	run := c.run
	rec := run.recorder

	keys := make([]string, 0, len(t.Info))
	for k := range t.Info {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		run.log.Append("%s = %s", k, t.Info[k])
	}

	*stage = StageDecoding
	var page *decode.PageBuffer
	err := rec.Record("Decode", metrics.MDecode, func() error {
		var err error
		page, err = decode.Decode(t, run.Resolution)
		return err
	})
	if err != nil {
		run.log.Append("Page dropped: %v", err)
		*stage = StageFailed
		return
	}

	*stage = StageClassifying
	var (
		score float64
		blank bool
	)
	sw := metrics.StartStopwatch()
	_ = rec.Record("Classify", metrics.MAnalyze, func() error {
		score, blank = c.engine.analyzer.Classify(page.Image)
		return nil
	})
	run.log.Append("Check empty %t (%.2f) duration %s", blank, score, metrics.Seconds.Format(sw.Stop()))

	if !blank {
		_ = rec.Record("Inspect", metrics.MAnalyze, func() error {
			if code, ok := inspect.ReadCode(page.Image); ok {
				run.log.Append("Patch code %s: %s", code.Format, code.Text)
			}
			return nil
		})
	}

	id := run.seq.Next()
	if err := os.MkdirAll(run.Dir, 0755); err != nil {
		run.log.Append("%s dropped: %v", id.Filename(), fmt.Errorf("failed to create directory %s: %w", run.Dir, err))
		*stage = StageFailed
		return
	}

	ok := true
	for _, res := range run.router.Route(page.Image, id, blank) {
		if res.Err != nil {
			ok = false
		}
	}
	if ok {
		*stage = StageRouted
	} else {
		*stage = StageFailed
	}
}

// TransferError counts a transfer the source could not complete.
func (c *coordinator) TransferError(err error) {
	if !c.run.beginPage() {
		log.Warn("Transfer error after run %s was finalised: %v", c.run.ID, err)
		return
	}
	defer c.run.endPage()
	c.run.log.Append("Transfer error: %v", err)
	c.run.pageFailed()
}

// SourceDisabled ends the run. The session returns to SourceOpen at once;
// finalisation happens on the UI loop.
func (c *coordinator) SourceDisabled() {
	log.Debug("Source disabled")
	c.run.endBatch()
	c.engine.machine.SourceDisabled()
	c.engine.ui.Post(func() { c.engine.finishRun(c.run) })
}
