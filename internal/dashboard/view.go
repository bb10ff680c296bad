package dashboard

import (
	"fmt"
	"time"

	"speedwatch/internal/sample"
)

const (
	// TimestampLayout is how timestamps appear in the table and current reading.
	TimestampLayout = "2006-01-02 15:04:05"
	// NoDataText is shown instead of the current reading for an empty buffer.
	NoDataText = "No data available yet."

	DefaultTableRows = 10
)

// Row is one table line, newest first.
type Row struct {
	Timestamp string `json:"timestamp"`
	Download  string `json:"download"`
	Upload    string `json:"upload"`
	Ping      string `json:"ping"`
	Failed    bool   `json:"failed,omitempty"`
}

// Point is one chart sample. Ping is not charted.
type Point struct {
	Time     time.Time `json:"t"`
	Download float64   `json:"download"`
	Upload   float64   `json:"upload"`
}

// Current is the most recent reading.
type Current struct {
	Timestamp string `json:"timestamp"`
	Download  string `json:"download"`
	Upload    string `json:"upload"`
	Ping      string `json:"ping"`
}

// View is everything the page renders, recomputed from the full buffer on
// every notification.
type View struct {
	Version  uint64             `json:"version"`
	Rows     []Row              `json:"rows"`
	Chart    []Point            `json:"chart"`
	Current  *Current           `json:"current,omitempty"`
	NoData   string             `json:"no_data,omitempty"`
	Stats    sample.WindowStats `json:"stats"`
	Interval int                `json:"interval"`
	Samples  int                `json:"samples"`
}

// BuildView derives a View from buffer contents (oldest first).
func BuildView(contents []sample.Sample, interval, tableRows int) View {
	if tableRows <= 0 {
		tableRows = DefaultTableRows
	}
	v := View{
		Interval: interval,
		Samples:  len(contents),
		Stats:    sample.Stats(contents),
		Rows:     make([]Row, 0, min(tableRows, len(contents))),
		Chart:    make([]Point, 0, len(contents)),
	}

	for _, s := range contents {
		v.Chart = append(v.Chart, Point{Time: s.Timestamp, Download: s.Download, Upload: s.Upload})
	}
	for i := len(contents) - 1; i >= 0 && len(v.Rows) < tableRows; i-- {
		s := contents[i]
		v.Rows = append(v.Rows, Row{
			Timestamp: s.Timestamp.UTC().Format(TimestampLayout),
			Download:  format2(s.Download),
			Upload:    format2(s.Upload),
			Ping:      format2(s.Ping),
			Failed:    s.IsZero(),
		})
	}

	if len(contents) == 0 {
		v.NoData = NoDataText
		return v
	}
	last := contents[len(contents)-1]
	v.Current = &Current{
		Timestamp: last.Timestamp.UTC().Format(TimestampLayout),
		Download:  format2(last.Download),
		Upload:    format2(last.Upload),
		Ping:      format2(last.Ping),
	}
	return v
}

func format2(v float64) string { return fmt.Sprintf("%.2f", v) }
