package upstream

import (
	"context"
	"io"
	"regexp"

	"github.com/3leaps/dumpkeeper/pkg/workqueue"
)

// StatusFile is the per-snapshot job status file in each dump directory.
const StatusFile = "dumpruninfo.txt"

var statusLine = regexp.MustCompile(`name:[^;]+; status:([^;]+); updated:`)

// ParseStatus aggregates the job lines of a status file into one progress
// value. A failed job makes the whole snapshot an error; any running or
// waiting job keeps it in progress; only done or skipped jobs make it done.
// A state it does not recognise, or a file with no job lines, is unknown.
func ParseStatus(r io.Reader) (workqueue.Progress, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return workqueue.ProgressUnknown, err
	}

	running, done := 0, 0
	for _, m := range statusLine.FindAllSubmatch(raw, -1) {
		switch string(m[1]) {
		case "failed":
			return workqueue.ProgressError, nil
		case "in-progress", "waiting":
			running++
		case "done", "skipped":
			done++
		default:
			return workqueue.ProgressUnknown, nil
		}
	}

	switch {
	case running > 0:
		return workqueue.ProgressInProgress, nil
	case done > 0:
		return workqueue.ProgressDone, nil
	default:
		return workqueue.ProgressUnknown, nil
	}
}

// Status fetches and parses a status file. A missing file is unknown, not
// an error.
func (c *Client) Status(ctx context.Context, rawURL string) (workqueue.Progress, error) {
	resp, err := c.get(ctx, rawURL)
	if err != nil {
		if isNotFound(err) {
			return workqueue.ProgressUnknown, nil
		}
		return workqueue.ProgressUnknown, err
	}
	defer func() { _ = resp.Body.Close() }()
	return ParseStatus(resp.Body)
}
