package main

import (
	"fmt"
	"strings"

	"duplexscan/pkg/capability"
	"duplexscan/pkg/log"
	"duplexscan/pkg/scan"
	"duplexscan/pkg/session"

	"github.com/fatih/color"
)

var (
	failColor = color.New(color.FgRed)
	doneColor = color.New(color.FgGreen)
	infoColor = color.New(color.FgCyan)
)

// consoleListener prints the engine's notifications. Colour is dropped
// automatically when stdout is not a terminal.
type consoleListener struct{}

func (consoleListener) OnStateChanged(s session.State) { log.Debug("Session state %s", s) }

func (consoleListener) OnLogLine(line string) {
	switch {
	case strings.Contains(line, "dropped"), strings.Contains(line, " error"),
		strings.HasPrefix(line, "Cannot"):
		failColor.Println(line)
	case strings.HasPrefix(line, "End scanning"):
		doneColor.Println(line)
	default:
		fmt.Println(line)
	}
}

func (consoleListener) OnCapabilitiesRefreshed(s capability.Snapshot) {
	infoColor.Printf("%s: resolution %g, pixel type %s, duplex %t, paper %s\n",
		s.Device, s.Resolution.Current, s.PixelType.Current, s.Duplex.Current, s.PaperSize.Current)
}

func (consoleListener) OnRunCompleted(written, failed int) {
	log.Info("Run completed: %d written, %d failed", written, failed)
}

func printSummary(s scan.Summary) {
	fmt.Println("\n-------------------------------------------------")
	doneColor.Printf("Pages written: %d\n", s.Written)
	if s.Failed > 0 {
		failColor.Printf("Pages failed:  %d\n", s.Failed)
	} else {
		fmt.Printf("Pages failed:  %d\n", s.Failed)
	}
	if s.Stopped {
		fmt.Println("Stopped by operator")
	}
	fmt.Printf("Output:        %s\n", s.Dir)
	if s.LogPath != "" {
		fmt.Printf("Run log:       %s\n", s.LogPath)
	}
	fmt.Printf("Elapsed:       %s\n", s.Elapsed)
	fmt.Println("-------------------------------------------------")
}
