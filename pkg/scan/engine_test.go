package scan_test

import (
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"duplexscan/pkg/capability"
	"duplexscan/pkg/config"
	"duplexscan/pkg/device"
	"duplexscan/pkg/export"
	"duplexscan/pkg/hardware"
	"duplexscan/pkg/metrics"
	"duplexscan/pkg/result"
	"duplexscan/pkg/runlog"
	"duplexscan/pkg/scan"
	"duplexscan/pkg/scanerr"
	"duplexscan/pkg/session"
	"duplexscan/pkg/store"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// recordingListener keeps every notification.
type recordingListener struct {
	mu        sync.Mutex
	states    []session.State
	lines     []string
	snapshots []capability.Snapshot
	completed chan [2]int
}

func newRecordingListener() *recordingListener {
	return &recordingListener{completed: make(chan [2]int, 4)}
}

func (l *recordingListener) OnStateChanged(s session.State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *recordingListener) OnLogLine(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, line)
}

func (l *recordingListener) OnCapabilitiesRefreshed(s capability.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapshots = append(l.snapshots, s)
}

func (l *recordingListener) OnRunCompleted(written, failed int) {
	l.completed <- [2]int{written, failed}
}

func (l *recordingListener) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

func (l *recordingListener) States() []session.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]session.State(nil), l.states...)
}

func (l *recordingListener) Snapshots() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.snapshots)
}

// pageFiles lists the base names of the files in dir.
func pageFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}

var _ = Describe("Engine", func() {
	const deviceName = "Test Scanner"

	var (
		root     string
		listener *recordingListener
		engine   *scan.Engine
		src      *hardware.CoreSource
		opts     hardware.CoreOptions
		runOpts  scan.RunOptions
		drain    time.Duration
	)

	// start builds the engine over a Core source with opts and selects it.
	start := func() {
		src = hardware.NewCoreSource(deviceName, opts)
		var err error
		engine, err = scan.NewEngine(hardware.NewCore(src), scan.Options{Listener: listener, Threshold: 60, Workers: 2, DrainTimeout: drain})
		Expect(err).NotTo(HaveOccurred())
		Expect(engine.SelectDevice(deviceName)).To(Succeed())
	}

	BeforeEach(func() {
		root = GinkgoT().TempDir()
		listener = newRecordingListener()
		opts = hardware.CoreOptions{Sheets: 4}
		runOpts = scan.RunOptions{Threshold: 60, OutputRoot: root, Image: true, Document: true, Unit: metrics.Milliseconds}
		drain = 0
		engine = nil
	})

	AfterEach(func() {
		if engine != nil {
			engine.Close()
		}
	})

	Context("a four page batch with duplex off", func() {
		It("names pages by sheet and side and writes every destination", func() {
			opts.Blank = func(n int, _ bool) bool { return n == 2 }
			start()

			run, err := engine.StartRun(runOpts)
			Expect(err).NotTo(HaveOccurred())
			Eventually(run.Done()).Should(BeClosed())

			var counts [2]int
			Eventually(listener.completed).Should(Receive(&counts))
			Expect(counts).To(Equal([2]int{4, 0}))

			dir := filepath.Join(root, "200_60")
			Expect(run.Dir).To(Equal(dir))
			Expect(pageFiles(filepath.Join(dir, "ImageOut"))).To(ConsistOf("1_1.jpeg", "2_1.jpeg", "2_2.jpeg"))
			Expect(pageFiles(filepath.Join(dir, "ImageOut", export.BlankDir))).To(ConsistOf("1_2.jpeg"))
			Expect(pageFiles(filepath.Join(dir, "DocumentOut"))).To(ConsistOf("1_1.pdf", "1_2.pdf", "2_1.pdf", "2_2.pdf"))

			data, err := os.ReadFile(filepath.Join(dir, runlog.FileName))
			Expect(err).NotTo(HaveOccurred())
			text := string(data)
			Expect(text).To(HavePrefix("Start scanning... (threshold 60)"))
			Expect(text).To(ContainSubstring("Check empty true"))
			Expect(text).To(ContainSubstring("1_2 Save jpeg "))
			Expect(text).To(ContainSubstring("2_2 Save pdf "))
			Expect(strings.TrimSpace(text)).To(MatchRegexp(`End scanning \d+ msec$`))
			Expect(filepath.Join(dir, result.TimingsFile)).To(BeAnExistingFile())

			lines := listener.Lines()
			Expect(lines[len(lines)-1]).To(HavePrefix("End scanning"))
			Expect(listener.States()).To(Equal([]session.State{
				session.Loaded, session.Opened, session.SourceOpen, session.Transferring, session.SourceOpen,
			}))
			Expect(listener.Snapshots()).To(Equal(2))

			summary := run.Summary()
			Expect(summary.Written).To(Equal(4))
			Expect(summary.Stopped).To(BeFalse())
			Expect(engine.State()).To(Equal(session.SourceOpen))
		})

		It("skips every destination that is disabled", func() {
			start()
			runOpts.Document = false
			run, err := engine.StartRun(runOpts)
			Expect(err).NotTo(HaveOccurred())
			Eventually(run.Done()).Should(BeClosed())
			Expect(filepath.Join(run.Dir, "DocumentOut")).NotTo(BeADirectory())
			Expect(pageFiles(filepath.Join(run.Dir, "ImageOut"))).To(HaveLen(4))
		})
	})

	Context("stopping a run", func() {
		It("lets the page in transfer finish and cancels the rest", func() {
			opts.BeforeTransfer = func(n int) {
				if n == 3 {
					engine.StopRun()
				}
			}
			start()

			run, err := engine.StartRun(runOpts)
			Expect(err).NotTo(HaveOccurred())
			Eventually(run.Done()).Should(BeClosed())

			summary := run.Summary()
			Expect(summary.Written).To(Equal(3))
			Expect(summary.Stopped).To(BeTrue())
			Expect(pageFiles(filepath.Join(run.Dir, "ImageOut"))).To(ConsistOf("1_1.jpeg", "1_2.jpeg", "2_1.jpeg"))
			Expect(run.Log().Text()).To(ContainSubstring("Scanning stopped"))
		})
	})

	Context("page failures", func() {
		It("drops undecodable pages and keeps going", func() {
			opts.Corrupt = map[int]bool{2: true}
			start()
			run, err := engine.StartRun(runOpts)
			Expect(err).NotTo(HaveOccurred())
			Eventually(run.Done()).Should(BeClosed())

			var counts [2]int
			Eventually(listener.completed).Should(Receive(&counts))
			Expect(counts).To(Equal([2]int{3, 1}))
			Expect(run.Log().Text()).To(ContainSubstring("Page dropped"))
			Expect(run.Log().Text()).To(ContainSubstring(scanerr.ErrDecodeFailure.Error()))
		})

		It("counts transfer errors as failed pages", func() {
			opts.TransferErr = map[int]error{1: errors.New("feeder misfeed")}
			start()
			run, err := engine.StartRun(runOpts)
			Expect(err).NotTo(HaveOccurred())
			Eventually(run.Done()).Should(BeClosed())
			Expect(run.Summary().Failed).To(Equal(1))
			Expect(run.Summary().Written).To(Equal(3))
			Expect(run.Log().Text()).To(ContainSubstring("Transfer error: feeder misfeed"))
		})
	})

	Context("session guards", func() {
		It("refuses to start before a device is selected", func() {
			var err error
			engine, err = scan.NewEngine(hardware.NewCore(hardware.NewCoreSource(deviceName, opts)), scan.Options{Listener: listener})
			Expect(err).NotTo(HaveOccurred())
			_, err = engine.StartRun(runOpts)
			Expect(err).To(MatchError(scanerr.ErrPreconditionNotMet))
		})

		It("reports an enable failure and stays ready", func() {
			opts.EnableErr = errors.New("cover open")
			start()
			_, err := engine.StartRun(runOpts)
			Expect(err).To(MatchError(scanerr.ErrEnableFailed))
			Expect(engine.State()).To(Equal(session.SourceOpen))

			Eventually(listener.States).Should(HaveLen(3))
			Consistently(listener.States, 200*time.Millisecond).ShouldNot(ContainElement(session.Transferring))
		})

		It("rejects negotiation during capture and leaves the value unchanged", func() {
			block := make(chan struct{})
			opts.BeforeTransfer = func(int) { <-block }
			start()

			run, err := engine.StartRun(runOpts)
			Expect(err).NotTo(HaveOccurred())
			Expect(engine.SetCapability(capability.NameResolution, "300")).To(MatchError(scanerr.ErrPreconditionNotMet))
			snap, err := engine.GetCapabilitySnapshot()
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Resolution.Current).To(Equal(200.0))
			Expect(engine.CanClose()).To(BeFalse())
			close(block)
			Eventually(run.Done()).Should(BeClosed())
		})

		It("tears down from Transferring even if closing the source panics", func() {
			block := make(chan struct{})
			opts.BeforeTransfer = func(int) { <-block }
			opts.ClosePanics = true
			drain = 100 * time.Millisecond
			start()

			run, err := engine.StartRun(runOpts)
			Expect(err).NotTo(HaveOccurred())
			Expect(engine.State()).To(Equal(session.Transferring))

			report := engine.Close()
			engine = nil
			Expect(report.From).To(Equal(session.Transferring))
			Expect(report.Steps[0].Name).To(Equal("close source"))
			Expect(report.Steps[0].Err).To(MatchError(scanerr.ErrTeardownFault))
			Expect(report.Steps[1].Attempted).To(BeTrue())
			Expect(report.Steps[1].Err).NotTo(HaveOccurred())
			Expect(run.Finished()).To(BeTrue())
			Expect(run.Summary().Stopped).To(BeTrue())

			// The source never closed, so its batch is still parked on the
			// first delivery, which now arrives after finalisation.
			close(block)
			src.Wait()
			Expect(run.Summary().Written).To(Equal(0))
			Expect(filepath.Join(run.Dir, "ImageOut")).NotTo(BeADirectory())
		})

		It("lets the page in transfer finish before finalising on close", func() {
			block := make(chan struct{})
			opts.BeforeTransfer = func(int) { <-block }
			start()

			run, err := engine.StartRun(runOpts)
			Expect(err).NotTo(HaveOccurred())

			closed := make(chan session.TeardownReport, 1)
			closing := engine
			engine = nil
			go func() { closed <- closing.Close() }()
			Eventually(closing.State).Should(Equal(session.Closed))
			Expect(run.Finished()).To(BeFalse())
			close(block)

			var report session.TeardownReport
			Eventually(closed).Should(Receive(&report))
			Expect(report.Faults()).To(BeEmpty())

			summary := run.Summary()
			Expect(summary.Written).To(Equal(1))
			Expect(summary.Stopped).To(BeTrue())
			Expect(pageFiles(filepath.Join(run.Dir, "ImageOut"))).To(ConsistOf("1_1.jpeg"))
			data, err := os.ReadFile(filepath.Join(run.Dir, runlog.FileName))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring("1_1 Save jpeg"))

			var counts [2]int
			Eventually(listener.completed).Should(Receive(&counts))
			Expect(counts).To(Equal([2]int{1, 0}))
			src.Wait()
		})
	})

	Context("capabilities", func() {
		It("publishes the negotiated values and maps resolution on both axes", func() {
			start()
			Expect(engine.SetCapability(capability.NameResolution, "300")).To(Succeed())
			Expect(engine.SetCapability(capability.NamePixelType, "RGB")).To(Succeed())
			Expect(engine.SetCapability(capability.NameResolution, "1200")).To(MatchError(scanerr.ErrRejected))

			snap, err := engine.GetCapabilitySnapshot()
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Resolution.Current).To(Equal(300.0))
			Expect(snap.PixelType.Current).To(Equal(device.PixelRGB))

			run, err := engine.StartRun(runOpts)
			Expect(err).NotTo(HaveOccurred())
			Eventually(run.Done()).Should(BeClosed())
			Expect(run.Dir).To(Equal(filepath.Join(root, "300_60")))
		})

		It("reapplies the stored profile when the device is selected again", func() {
			db, err := store.NewBoltDB(filepath.Join(root, "profiles.db"))
			Expect(err).NotTo(HaveOccurred())
			defer db.Close()

			newEngine := func() *scan.Engine {
				e, err := scan.NewEngine(hardware.NewCore(hardware.NewCoreSource(deviceName, opts)), scan.Options{Listener: listener, DB: db, Threshold: 60})
				Expect(err).NotTo(HaveOccurred())
				Expect(e.SelectDevice(deviceName)).To(Succeed())
				return e
			}

			first := newEngine()
			Expect(first.SetCapability(capability.NameResolution, "150")).To(Succeed())
			Expect(first.SetCapability(capability.NameDuplex, "true")).To(Succeed())
			run, err := first.StartRun(runOpts)
			Expect(err).NotTo(HaveOccurred())
			Eventually(run.Done()).Should(BeClosed())
			first.Close()

			engine = newEngine()
			snap, err := engine.GetCapabilitySnapshot()
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Resolution.Current).To(Equal(150.0))
			Expect(snap.Duplex.Current).To(BeTrue())

			runs, err := db.ListRuns()
			Expect(err).NotTo(HaveOccurred())
			Expect(runs).To(HaveLen(1))
			Expect(runs[0].Written).To(Equal(8))
			Expect(runs[0].RunID).To(Equal(run.ID))
			Expect(runs[0].OutputDir).To(Equal(filepath.Join(root, "150_60")))
		})
	})

	Context("the Disk device layer", func() {
		It("scans page files, including PDFs", func() {
			pages := filepath.Join(root, "pages")
			Expect(os.MkdirAll(pages, 0755)).To(Succeed())

			img := image.NewGray(image.Rect(0, 0, 120, 160))
			for i := range img.Pix {
				img.Pix[i] = uint8(i % 251)
			}
			f, err := os.Create(filepath.Join(pages, "a.png"))
			Expect(err).NotTo(HaveOccurred())
			Expect(png.Encode(f, img)).To(Succeed())
			Expect(f.Close()).To(Succeed())

			blank := image.NewGray(image.Rect(0, 0, 120, 160))
			for i := range blank.Pix {
				blank.Pix[i] = 0xff
			}
			pdfDir := filepath.Join(root, "source")
			pdfPath, err := export.NewDocumentExporter(pdfDir).Export(blank, "b", false)
			Expect(err).NotTo(HaveOccurred())
			Expect(os.Rename(pdfPath, filepath.Join(pages, "b.pdf"))).To(Succeed())

			cfg := &config.Config{HardwareType: config.HWDisk, PagePath: pages}
			mgr, err := hardware.New(cfg)
			Expect(err).NotTo(HaveOccurred())
			engine, err = scan.NewEngine(mgr, scan.Options{Listener: listener, Threshold: 60})
			Expect(err).NotTo(HaveOccurred())
			names, err := engine.ListDevices()
			Expect(err).NotTo(HaveOccurred())
			Expect(names).To(Equal([]string{hardware.DiskSourceName}))
			Expect(engine.SelectDevice(hardware.DiskSourceName)).To(Succeed())

			runOpts.Document = false
			run, err := engine.StartRun(runOpts)
			Expect(err).NotTo(HaveOccurred())
			Eventually(run.Done()).Should(BeClosed())

			Expect(run.Summary().Written).To(Equal(2))
			Expect(pageFiles(filepath.Join(run.Dir, "ImageOut"))).To(ConsistOf("1_1.jpeg"))
			Expect(pageFiles(filepath.Join(run.Dir, "ImageOut", export.BlankDir))).To(ConsistOf("1_2.jpeg"))
		})
	})
})
