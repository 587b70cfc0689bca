package result

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"duplexscan/pkg/metrics"
)

// TimingsFile is the per-run timing report written next to Log.txt.
const TimingsFile = "Timings.csv"

// Writer is responsible for creating and writing result files of a run.
type Writer struct {
	runDir string
}

// NewWriter creates a new writer for the result files of one run directory.
func NewWriter(runDir string) *Writer {
	return &Writer{runDir: runDir}
}

// WriteTimings writes one row per stage and clock with its summary in
// microseconds. Nothing is written when there are no stages.
func (w *Writer) WriteTimings(stages []metrics.StageResult) (string, error) {
	if len(stages) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(w.runDir, 0755); err != nil {
		return "", fmt.Errorf("could not create results directory %s: %w", w.runDir, err)
	}

	filePath := filepath.Join(w.runDir, TimingsFile)
	file, err := os.Create(filePath)
	if err != nil {
		return "", fmt.Errorf("could not create timings file %s: %w", filePath, err)
	}
	defer file.Close()

	csvWriter := csv.NewWriter(file)
	header := []string{"Stage", "Type", "MetricType", "Count", "Mean_us", "Median_us", "P95_us", "Min_us", "Max_us"}
	if err := csvWriter.Write(header); err != nil {
		return "", fmt.Errorf("failed to write CSV header to %s: %w", filePath, err)
	}

	for _, stage := range stages {
		clocks := []struct {
			name string
			s    metrics.StatSummary
		}{
			{"WallClock", stage.WallClock},
			{"UserTime", stage.User},
			{"SystemTime", stage.System},
		}
		for _, c := range clocks {
			if err := csvWriter.Write(statsRow(stage, c.name, c.s)); err != nil {
				return "", fmt.Errorf("failed to write stats row for %s (%s): %w", stage.ConceptualName, c.name, err)
			}
		}
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return "", fmt.Errorf("failed to flush %s: %w", filePath, err)
	}
	return filePath, nil
}

func statsRow(stage metrics.StageResult, metricType string, s metrics.StatSummary) []string {
	return []string{
		stage.ConceptualName,
		stage.Type.String(),
		metricType,
		strconv.Itoa(s.Count),
		us(s.Mean),
		us(s.P50),
		us(s.P95),
		us(s.Min),
		us(s.Max),
	}
}

func us(d time.Duration) string {
	return strconv.FormatInt(d.Microseconds(), 10)
}
