package sample

import (
	"github.com/montanaflynn/stats"
)

// Summary aggregates one metric over a window.
type Summary struct {
	Mean float64 `json:"mean"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// WindowStats describes a window of samples. Zero samples (failed cycles) are
// counted in Failures and excluded from the metric summaries.
type WindowStats struct {
	Total    int     `json:"total"`
	Failures int     `json:"failures"`
	Download Summary `json:"download"`
	Upload   Summary `json:"upload"`
	Ping     Summary `json:"ping"`
}

// Stats computes window statistics over in.
func Stats(in []Sample) WindowStats {
	out := WindowStats{Total: len(in)}
	if len(in) == 0 {
		return out
	}

	dl := make(stats.Float64Data, 0, len(in))
	ul := make(stats.Float64Data, 0, len(in))
	pg := make(stats.Float64Data, 0, len(in))
	for _, s := range in {
		if s.IsZero() {
			out.Failures++
			continue
		}
		dl = append(dl, s.Download)
		ul = append(ul, s.Upload)
		pg = append(pg, s.Ping)
	}

	out.Download = summarize(dl)
	out.Upload = summarize(ul)
	out.Ping = summarize(pg)
	return out
}

func summarize(data stats.Float64Data) Summary {
	if data.Len() == 0 {
		return Summary{}
	}
	// Errors only occur on empty input, handled above.
	mean, _ := data.Mean()
	lo, _ := data.Min()
	hi, _ := data.Max()
	return Summary{Mean: mean, Min: lo, Max: hi}
}
