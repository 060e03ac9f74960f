package archive_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/clock/testclock"

	"github.com/3leaps/dumpkeeper/pkg/archive"
	"github.com/3leaps/dumpkeeper/pkg/archive/archivetest"
	"github.com/3leaps/dumpkeeper/pkg/retry"
)

func testPolicy(delays *[]time.Duration) retry.Policy {
	p := retry.DefaultPolicy()
	p.OnRetry = func(_ int, d time.Duration, _ error) {
		*delays = append(*delays, d)
	}
	return p
}

// instant returns a context whose clock skips every retry pause.
func instant(t *testing.T) context.Context {
	t.Helper()
	ctx, tc := testclock.UseTime(context.Background(), time.Date(2015, 7, 3, 0, 0, 0, 0, time.UTC))
	tc.SetTimerCallback(func(d time.Duration, _ clock.Timer) { tc.Add(d) })
	return ctx
}

func metadata() archive.Metadata {
	return archive.Metadata{
		"collection":  "c",
		"creator":     "c",
		"contributor": "c",
		"mediatype":   "web",
		"rights":      "r",
		"licenseurl":  "l",
		"date":        "2015-07-03",
		"subject":     "s",
		"title":       "t",
		"description": "d",
	}
}

func TestRetryingUploadSuccess(t *testing.T) {
	var delays []time.Duration
	stub := archivetest.NewStub()
	r := archive.NewRetrying(stub, testPolicy(&delays), nil)

	ok := r.Upload(instant(t), "id", []archive.File{{Name: "a"}, {Name: "b"}}, metadata(), archive.UploadOptions{})
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, stub.Files("id"))
	assert.Empty(t, delays)
}

func TestRetryingUploadAlwaysFailing(t *testing.T) {
	var delays []time.Duration
	stub := archivetest.NewStub()
	stub.Err = errors.New("archive down")
	r := archive.NewRetrying(stub, testPolicy(&delays), nil)

	ok := r.Upload(instant(t), "id", []archive.File{{Name: "a"}}, metadata(), archive.UploadOptions{})
	assert.False(t, ok)
	assert.Equal(t, 3, stub.UploadCalls)
	assert.Equal(t, []time.Duration{60 * time.Second, 120 * time.Second}, delays)
}

func TestRetryingUploadResumesWithinRetries(t *testing.T) {
	var delays []time.Duration
	stub := archivetest.NewStub()
	calls := 0
	flaky := &flakyService{Service: stub, failOn: "b", failures: 1, calls: &calls}
	r := archive.NewRetrying(flaky, testPolicy(&delays), nil)

	files := []archive.File{{Name: "a"}, {Name: "b"}}
	assert.True(t, r.Upload(instant(t), "id", files, metadata(), archive.UploadOptions{}))
	assert.Equal(t, 3, calls, "a once, b twice")
	assert.Equal(t, []string{"a", "b"}, stub.Files("id"))
	assert.Equal(t, []time.Duration{60 * time.Second}, delays)
}

type flakyService struct {
	archive.Service
	failOn   string
	failures int
	calls    *int
}

func (f *flakyService) Upload(ctx context.Context, id string, files []archive.File, md archive.Metadata, opts archive.UploadOptions) error {
	*f.calls++
	if len(files) == 1 && files[0].Name == f.failOn && f.failures > 0 {
		f.failures--
		return errors.New("connection reset")
	}
	return f.Service.Upload(ctx, id, files, md, opts)
}

func TestRetryingDebugMakesNoCalls(t *testing.T) {
	var delays []time.Duration
	stub := archivetest.NewStub()
	p := testPolicy(&delays)
	p.Debug = true
	r := archive.NewRetrying(stub, p, nil)
	ctx := instant(t)

	assert.True(t, r.Debug())
	assert.False(t, r.Upload(ctx, "id", []archive.File{{Name: "a"}}, metadata(), archive.UploadOptions{}))
	_, ok := r.ListFiles(ctx, "id")
	assert.False(t, ok)
	assert.False(t, r.ModifyMetadata(ctx, "id", metadata(), archive.MetadataOptions{}))

	assert.Zero(t, stub.Calls())
	assert.Empty(t, delays)
}

func TestRetryingListFiles(t *testing.T) {
	var delays []time.Duration
	stub := archivetest.NewStub()
	stub.Seed("id", "z", "a")
	r := archive.NewRetrying(stub, testPolicy(&delays), nil)

	files, ok := r.ListFiles(instant(t), "id")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "z"}, files)
}

func TestRetryingModifyMetadata(t *testing.T) {
	var delays []time.Duration
	stub := archivetest.NewStub()
	r := archive.NewRetrying(stub, testPolicy(&delays), nil)
	ctx := instant(t)

	assert.False(t, r.ModifyMetadata(ctx, "missing", archive.Metadata{"title": "x"}, archive.MetadataOptions{}))
	assert.Len(t, delays, 2)

	stub.Seed("id", "a")
	assert.True(t, r.ModifyMetadata(ctx, "id", archive.Metadata{"title": "x"}, archive.MetadataOptions{}))
	assert.Equal(t, "x", stub.Metadata("id")["title"])
}
