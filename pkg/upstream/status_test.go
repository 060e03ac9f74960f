package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/dumpkeeper/pkg/workqueue"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  workqueue.Progress
	}{
		{
			name: "all done",
			input: "name:xmlstubsdump; status:done; updated:2015-07-03 10:00:00\n" +
				"name:articlesdump; status:skipped; updated:2015-07-03 11:00:00\n",
			want: workqueue.ProgressDone,
		},
		{
			name: "one running",
			input: "name:xmlstubsdump; status:done; updated:2015-07-03 10:00:00\n" +
				"name:articlesdump; status:in-progress; updated:2015-07-03 11:00:00\n",
			want: workqueue.ProgressInProgress,
		},
		{
			name:  "waiting",
			input: "name:articlesdump; status:waiting; updated:2015-07-03 11:00:00\n",
			want:  workqueue.ProgressInProgress,
		},
		{
			name: "failed wins",
			input: "name:xmlstubsdump; status:in-progress; updated:2015-07-03 10:00:00\n" +
				"name:articlesdump; status:failed; updated:2015-07-03 11:00:00\n",
			want: workqueue.ProgressError,
		},
		{
			name: "unrecognised state",
			input: "name:xmlstubsdump; status:done; updated:2015-07-03 10:00:00\n" +
				"name:articlesdump; status:paused; updated:2015-07-03 11:00:00\n",
			want: workqueue.ProgressUnknown,
		},
		{
			name:  "no lines",
			input: "<html>not a status file</html>",
			want:  workqueue.ProgressUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStatus(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/enwiki/20150703/"+StatusFile {
			_, _ = io.WriteString(w, "name:articlesdump; status:done; updated:2015-07-03 11:00:00\n")
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(Config{HTTPClient: srv.Client()})
	ctx := context.Background()

	got, err := c.Status(ctx, srv.URL+"/enwiki/20150703/"+StatusFile)
	require.NoError(t, err)
	assert.Equal(t, workqueue.ProgressDone, got)

	got, err = c.Status(ctx, srv.URL+"/enwiki/20150801/"+StatusFile)
	require.NoError(t, err)
	assert.Equal(t, workqueue.ProgressUnknown, got)
}
