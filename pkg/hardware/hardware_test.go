package hardware

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"duplexscan/pkg/config"
	"duplexscan/pkg/device"
	"duplexscan/pkg/scanerr"
)

// eventLog records the notifications of one batch.
type eventLog struct {
	mu        sync.Mutex
	transfers []device.Transfer
	errs      []error
	disabled  int
	cancelAt  int // TransferReady answers true from this call on; 0 never
	ready     int
}

func (e *eventLog) TransferReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ready++
	return e.cancelAt > 0 && e.ready >= e.cancelAt
}

func (e *eventLog) DataTransferred(t device.Transfer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transfers = append(e.transfers, t)
}

func (e *eventLog) TransferError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, err)
}

func (e *eventLog) SourceDisabled() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disabled++
}

func runBatch(t *testing.T, src *CoreSource, ev *eventLog) {
	t.Helper()
	if err := src.Enable(device.NoUI, ev); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	src.Wait()
	if ev.disabled != 1 {
		t.Fatalf("SourceDisabled called %d times, want 1", ev.disabled)
	}
}

func TestCoreSource(t *testing.T) {
	t.Run("TestSimplexDelivery", func(t *testing.T) {
		src := NewCoreSource("s", CoreOptions{Sheets: 3})
		ev := &eventLog{}
		runBatch(t, src, ev)
		if len(ev.transfers) != 3 {
			t.Fatalf("got %d transfers, want 3", len(ev.transfers))
		}
		for i, tr := range ev.transfers {
			if len(tr.Native) == 0 || tr.Info["Camera"] != "front" {
				t.Errorf("transfer %d: native=%d bytes info=%v", i+1, len(tr.Native), tr.Info)
			}
		}
	})

	t.Run("TestDuplexDelivery", func(t *testing.T) {
		src := NewCoreSource("s", CoreOptions{Sheets: 2})
		if err := src.SetCapability(device.CapDuplexEnabled, true); err != nil {
			t.Fatalf("SetCapability: %v", err)
		}
		ev := &eventLog{}
		runBatch(t, src, ev)
		if len(ev.transfers) != 4 {
			t.Fatalf("got %d transfers, want 4", len(ev.transfers))
		}
		if ev.transfers[1].Info["Camera"] != "back" || ev.transfers[2].Info["Camera"] != "front" {
			t.Errorf("unexpected sides: %v %v", ev.transfers[1].Info, ev.transfers[2].Info)
		}
	})

	t.Run("TestCancelAll", func(t *testing.T) {
		src := NewCoreSource("s", CoreOptions{Sheets: 5})
		ev := &eventLog{cancelAt: 3}
		runBatch(t, src, ev)
		if len(ev.transfers) != 2 {
			t.Errorf("got %d transfers, want 2 before cancelling", len(ev.transfers))
		}
	})

	t.Run("TestFaults", func(t *testing.T) {
		boom := errors.New("jam")
		src := NewCoreSource("s", CoreOptions{Sheets: 3, TransferErr: map[int]error{2: boom}})
		ev := &eventLog{}
		runBatch(t, src, ev)
		if len(ev.transfers) != 2 || len(ev.errs) != 1 || !errors.Is(ev.errs[0], boom) {
			t.Errorf("transfers=%d errs=%v", len(ev.transfers), ev.errs)
		}

		src = NewCoreSource("s", CoreOptions{EnableErr: boom})
		if err := src.Enable(device.NoUI, &eventLog{}); !errors.Is(err, boom) {
			t.Errorf("Enable error = %v, want jam", err)
		}
	})

	t.Run("TestShowUIOnlyDeliversNothing", func(t *testing.T) {
		src := NewCoreSource("s", CoreOptions{Sheets: 2})
		ev := &eventLog{}
		if err := src.Enable(device.ShowUIOnly, ev); err != nil {
			t.Fatalf("Enable: %v", err)
		}
		src.Wait()
		if len(ev.transfers) != 0 || ev.disabled != 0 {
			t.Errorf("settings-only enable delivered %d pages", len(ev.transfers))
		}
	})

	t.Run("TestSetCapability", func(t *testing.T) {
		src := NewCoreSource("s", CoreOptions{})
		if err := src.SetCapability(device.CapXResolution, 300.0); err != nil {
			t.Fatalf("SetCapability(300): %v", err)
		}
		if err := src.SetCapability(device.CapXResolution, 250.0); !errors.Is(err, scanerr.ErrRejected) {
			t.Errorf("unlisted value: err = %v, want ErrRejected", err)
		}
		if err := src.SetCapability("ICAP_CONTRAST", 1.0); !errors.Is(err, scanerr.ErrUnsupported) {
			t.Errorf("unknown capability: err = %v, want ErrUnsupported", err)
		}
		info, err := src.QueryCapability(device.CapXResolution)
		if err != nil || info.Current != 300.0 {
			t.Errorf("current = %v, %v; want 300", info.Current, err)
		}
		info.Values[0] = -1.0
		again, _ := src.QueryCapability(device.CapXResolution)
		if again.Values[0] == -1.0 {
			t.Errorf("QueryCapability exposed the source's own slice")
		}
	})

	t.Run("TestClosed", func(t *testing.T) {
		src := NewCoreSource("s", CoreOptions{})
		if err := src.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if _, err := src.QueryCapability(device.CapPixelType); err == nil {
			t.Errorf("query on a closed source succeeded")
		}
	})
}

func TestSyntheticPage(t *testing.T) {
	s := PageSettings{Resolution: 200, PixelType: device.PixelRGB, Paper: device.PaperA5}
	img := SyntheticPage(1, false, s)
	b := img.Bounds()
	if b.Dx() >= b.Dy() || b.Dx() < qrCodeSize {
		t.Errorf("unexpected A5 page bounds %v", b)
	}
	if _, _, _, a := img.At(0, 0).RGBA(); a != 0xffff {
		t.Errorf("page is not opaque")
	}
}

func TestNew(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.png", "a.PDF", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := PageFiles(dir)
	if err != nil {
		t.Fatalf("PageFiles: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "a.PDF" {
		t.Errorf("PageFiles = %v", files)
	}

	tests := []struct {
		name    string
		cfg     config.Config
		source  string
		wantErr bool
	}{
		{"core", config.Config{HardwareType: config.HWCore, CoreSheets: 1}, CoreSourceName, false},
		{"disk", config.Config{HardwareType: config.HWDisk, PagePath: dir}, DiskSourceName, false},
		{"disk_empty", config.Config{HardwareType: config.HWDisk, PagePath: t.TempDir()}, "", true},
		{"unknown", config.Config{HardwareType: "Peripheral"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, err := New(&tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Errorf("New succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			names, err := mgr.Sources()
			if err != nil || len(names) != 1 || names[0] != tt.source {
				t.Errorf("Sources() = %v, %v", names, err)
			}
		})
	}
}
