package obs

import (
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
)

// Report is a timestamped metrics snapshot for one node.
type Report struct {
	Timestamp int64    `json:"timestamp"`
	Node      string   `json:"node"`
	Session   string   `json:"session"`
	Metrics   Snapshot `json:"metrics"`
}

// NewReport stamps the current metrics values.
func NewReport(node, session string, m *Metrics) Report {
	return Report{
		Timestamp: time.Now().UTC().UnixNano(),
		Node:      node,
		Session:   session,
		Metrics:   m.Snapshot(),
	}
}

// WriteReport writes a report to disk as JSON.
func WriteReport(path string, report Report) error {
	data, err := sonic.ConfigStd.MarshalIndent(report, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal report")
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create report dir").With("dir", dir)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadReport loads a report from disk.
func ReadReport(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, err
	}
	var report Report
	if err := sonic.ConfigStd.Unmarshal(data, &report); err != nil {
		return Report{}, errors.Wrap(err, "unmarshal report").With("path", path)
	}
	return report, nil
}
