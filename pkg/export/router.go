package export

import (
	"fmt"
	"image"

	"duplexscan/pkg/metrics"
	"duplexscan/pkg/paging"
	"duplexscan/pkg/runlog"
)

// Result is the outcome of one destination for one page.
type Result struct {
	Destination Destination
	Path        string
	Err         error
}

// Router sends a page to every enabled destination. Destinations are
// independent: a failure in one never stops the others.
type Router struct {
	exporters []Exporter
	recorder  *metrics.Recorder
	log       *runlog.Log
}

// NewRouter creates a router over the enabled exporters. recorder may be nil.
func NewRouter(log *runlog.Log, recorder *metrics.Recorder, exporters ...Exporter) *Router {
	return &Router{exporters: exporters, recorder: recorder, log: log}
}

// Destinations lists the enabled destinations in routing order.
func (r *Router) Destinations() []Destination {
	ds := make([]Destination, len(r.exporters))
	for i, e := range r.exporters {
		ds[i] = e.Destination()
	}
	return ds
}

// Route exports page under id's filename.
func (r *Router) Route(page image.Image, id paging.Identity, blank bool) []Result {
	results := make([]Result, 0, len(r.exporters))
	for _, e := range r.exporters {
		results = append(results, r.export(e, page, id.Filename(), blank))
	}
	return results
}

// export times one destination. The run log entry is written on every path,
// including a panicking exporter.
func (r *Router) export(e Exporter, page image.Image, name string, blank bool) (res Result) {
	res.Destination = e.Destination()
	sw := metrics.StartStopwatch()
	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("exporter panicked: %v", p)
		}
		msg := fmt.Sprintf("%s Save %s", name, label(res.Destination))
		if res.Err != nil {
			msg = fmt.Sprintf("%s error: %v", msg, res.Err)
		}
		r.log.StopAndLog(sw, msg)
	}()

	run := func() error {
		var err error
		res.Path, err = e.Export(page, name, blank)
		return err
	}
	if r.recorder != nil {
		res.Err = r.recorder.Record("Export_"+res.Destination.String(), metrics.MDiskWrite, run)
	} else {
		res.Err = run()
	}
	return res
}

func label(d Destination) string {
	if d == ImageOut {
		return "jpeg"
	}
	return "pdf"
}
