package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIdentifier(t *testing.T) {
	date := time.Date(2015, 7, 3, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		prefix  string
		subject string
		want    string
	}{
		{name: "single subject", prefix: "cirrussearch", want: "cirrussearch-20150703"},
		{name: "multi subject", prefix: "dumps", subject: "enwiki", want: "dumps-enwiki-20150703"},
		{name: "legacy naming", subject: "enwiki", want: "enwiki-20150703"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Identifier(tt.prefix, tt.subject, date))
		})
	}
}

func TestUserFilesDropsDefaults(t *testing.T) {
	id := "dumps-enwiki-20150703"
	got := userFiles(id, []string{
		"z.txt",
		id + "_meta.xml",
		"a.txt",
		id + "_archive.torrent",
		id + "_files.xml",
		id + "_meta.sqlite",
	})
	assert.Equal(t, []string{"a.txt", "z.txt"}, got)
}

func TestMissing(t *testing.T) {
	assert.Equal(t, []string{"b", "d"}, Missing([]string{"a", "b", "c", "d"}, []string{"c", "a"}))
	assert.Nil(t, Missing([]string{"a"}, []string{"a", "b"}))
}
