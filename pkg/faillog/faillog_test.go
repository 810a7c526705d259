package faillog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_Record(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "failed.log")
	log := New(path)
	log.now = func() time.Time {
		return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	}

	log.Record(Entry{
		PostID:     "p1",
		FolderName: "2024-01-01 - Title",
		PartType:   "video",
		RemoteRef:  "vid-1",
		Err:        errors.New("giving up after 5 attempts"),
	})
	log.Record(Entry{PostID: "p2", PartType: "file", RemoteRef: "file-1", Err: errors.New("404")})
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t,
		"2024-01-01T12:00:00Z\tp1\t2024-01-01 - Title\tvideo\tvid-1\tgiving up after 5 attempts",
		lines[0])
	assert.Contains(t, lines[1], "\tp2\t")
}

func TestDiscard(t *testing.T) {
	t.Parallel()

	var r Reporter = Discard{}
	r.Record(Entry{PostID: "p1"})
	assert.NoError(t, r.Close())
}
