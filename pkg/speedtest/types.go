package speedtest

// RawResult is the dictionary-like result returned by a single run.
//
// Field names and units follow the speed-test client's own result shape:
// Download/Upload are bits per second, Ping is milliseconds, Timestamp is an
// ISO-8601 string. Callers normalise units themselves.
type RawResult struct {
	Timestamp string  `json:"timestamp"`
	Download  float64 `json:"download"`
	Upload    float64 `json:"upload"`
	Ping      float64 `json:"ping"`

	// Informational only.
	Jitter        float64 `json:"jitter,omitempty"`
	ISP           string  `json:"isp,omitempty"`
	ServerName    string  `json:"server_name,omitempty"`
	ServerCountry string  `json:"server_country,omitempty"`
}
