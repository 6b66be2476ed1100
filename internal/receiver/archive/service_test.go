package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_Ingest(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	col := newLocalCollection(t, "valheim", 0)
	svc := newTestService(t, clock, col)

	res, err := svc.Ingest(context.Background(), &IngestRequest{Collection: "Valheim", FileName: `C:\saves\world.zip`}, strings.NewReader("world data"))
	require.NoError(t, err)

	assert.Equal(t, "valheim", res.Archive.Collection)
	assert.Equal(t, "world.zip", res.Archive.FileName)
	assert.Equal(t, int64(10), res.Archive.Size)
	assert.True(t, res.Archive.ReceivedAt.Equal(t0))
	assert.NotZero(t, res.Archive.Seq)

	data, err := os.ReadFile(filepath.Join(col.Backend.Location(), "world.zip"))
	require.NoError(t, err)
	assert.Equal(t, "world data", string(data))

	staged, err := os.ReadDir(filepath.Join(col.Backend.Location(), incomingDir))
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestService_IngestUnknownCollection(t *testing.T) {
	col := newLocalCollection(t, "valheim", 0)
	svc := newTestService(t, clockwork.NewFakeClock(), col)

	_, err := svc.Ingest(context.Background(), &IngestRequest{Collection: "minecraft", FileName: "world.zip"}, strings.NewReader("data"))
	assert.ErrorIs(t, err, ErrUnknownCollection)

	assert.Empty(t, dirFiles(t, col.Backend.Location()))
	_, statErr := os.Stat(filepath.Join(col.Backend.Location(), incomingDir))
	assert.True(t, os.IsNotExist(statErr), "nothing staged for an unknown collection")
}

func TestService_IngestRejects(t *testing.T) {
	col := newLocalCollection(t, "valheim", 0)
	svc := newTestService(t, clockwork.NewFakeClock(), col)

	_, err := svc.Ingest(context.Background(), &IngestRequest{Collection: "valheim", FileName: "empty.zip"}, strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmptyPayload)

	for _, name := range []string{"", ".", "..", ".hidden.zip", "dir/", "/"} {
		_, err := svc.Ingest(context.Background(), &IngestRequest{Collection: "valheim", FileName: name}, strings.NewReader("data"))
		assert.ErrorIs(t, err, ErrInvalidFileName, name)
	}

	assert.Empty(t, dirFiles(t, col.Backend.Location()))
	staged, err := os.ReadDir(filepath.Join(col.Backend.Location(), incomingDir))
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestService_IngestReplacesSameName(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	col := newLocalCollection(t, "valheim", 0)
	svc := newTestService(t, clock, col)

	ingest(t, svc, "valheim", "world.zip", 10)
	clock.Advance(time.Second)
	ingest(t, svc, "valheim", "other.zip", 10)
	clock.Advance(time.Second)
	ingest(t, svc, "valheim", "world.zip", 30)

	list, err := svc.Index().List("valheim")
	require.NoError(t, err)
	assert.Equal(t, []string{"other.zip", "world.zip"}, fileNames(list))

	info, err := os.Stat(filepath.Join(col.Backend.Location(), "world.zip"))
	require.NoError(t, err)
	assert.Equal(t, int64(30), info.Size())
}

func TestService_ConcurrentIngest(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	valheim := newLocalCollection(t, "valheim", 500)
	factorio := newLocalCollection(t, "factorio", 0)
	svc := newTestService(t, clock, valheim, factorio)

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		for _, game := range []string{"valheim", "factorio"} {
			i, game := i, game
			wg.Add(1)
			go func() {
				defer wg.Done()
				body := bytes.NewReader(bytes.Repeat([]byte("x"), 100))
				_, err := svc.Ingest(context.Background(), &IngestRequest{Collection: game, FileName: fmt.Sprintf("%02d.zip", i)}, body)
				errs <- err
			}()
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	count, total, err := svc.Index().Usage("valheim")
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	assert.Equal(t, int64(500), total)
	assert.Len(t, dirFiles(t, valheim.Backend.Location()), 5)

	// index order and seq order agree
	list, err := svc.Index().List("valheim")
	require.NoError(t, err)
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].Seq, list[i].Seq)
	}

	count, _, err = svc.Index().Usage("factorio")
	require.NoError(t, err)
	assert.Equal(t, 20, count)
}

func TestService_RebuildAfterRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "receiver.db")
	clock := clockwork.NewFakeClockAt(t0)
	col := newLocalCollection(t, "valheim", 0)
	root := col.Backend.Location()

	svc, err := NewService(NewRegistryFromCollections(col), newTestDB(t, dbPath), WithClock(clock))
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	ingest(t, svc, "valheim", "a.zip", 10)
	ingest(t, svc, "valheim", "b.zip", 20)
	require.NoError(t, svc.Shutdown(context.Background()))

	// while down: one archive lost, one copied in by hand, one interrupted upload
	require.NoError(t, os.Remove(filepath.Join(root, "a.zip")))
	require.NoError(t, os.WriteFile(filepath.Join(root, "manual.zip"), []byte("manual"), 0o644))
	stale := filepath.Join(root, incomingDir, "dead.part")
	require.NoError(t, os.WriteFile(stale, []byte("partial"), 0o644))

	restarted, err := NewService(NewRegistryFromCollections(col), newTestDB(t, dbPath), WithClock(clock))
	require.NoError(t, err)
	defer restarted.Shutdown(context.Background())
	require.NoError(t, restarted.Start(context.Background()))

	stats, err := restarted.Stats(context.Background(), "valheim")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, int64(26), stats.TotalSizeBytes)

	list, err := restarted.Index().List("valheim")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b.zip", "manual.zip"}, fileNames(list))

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}

func TestService_RebuildEnforcesBudget(t *testing.T) {
	col := newLocalCollection(t, "valheim", 100)
	root := col.Backend.Location()

	old := filepath.Join(root, "old.zip")
	require.NoError(t, os.WriteFile(old, bytes.Repeat([]byte("x"), 80), 0o644))
	require.NoError(t, os.Chtimes(old, t0, t0))
	newer := filepath.Join(root, "new.zip")
	require.NoError(t, os.WriteFile(newer, bytes.Repeat([]byte("x"), 80), 0o644))
	require.NoError(t, os.Chtimes(newer, t0.Add(time.Hour), t0.Add(time.Hour)))

	svc := newTestService(t, clockwork.NewFakeClockAt(t0), col)
	require.NoError(t, svc.Start(context.Background()))

	assert.Equal(t, []string{"new.zip"}, dirFiles(t, root))
}

func TestService_Stats(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	col := newLocalCollection(t, "valheim", 1<<30)
	svc := newTestService(t, clock, col)

	for i := 0; i < 12; i++ {
		clock.Advance(time.Second)
		ingest(t, svc, "valheim", fmt.Sprintf("%02d.zip", i), 10)
	}

	stats, err := svc.Stats(context.Background(), "VALHEIM")
	require.NoError(t, err)
	assert.Equal(t, "valheim", stats.Name)
	assert.Equal(t, "local", stats.Backend)
	assert.Equal(t, 12, stats.Count)
	assert.Equal(t, int64(120), stats.TotalSizeBytes)
	assert.Equal(t, int64(1<<30), stats.MaxSizeBytes)
	require.Len(t, stats.Backups, statsBackupsLimit)
	assert.Equal(t, "11.zip", stats.Backups[0].FileName)
	assert.NotNil(t, stats.DiskFreeBytes)

	_, err = svc.Stats(context.Background(), "minecraft")
	assert.ErrorIs(t, err, ErrUnknownCollection)

	all, err := svc.AllStats(context.Background())
	require.NoError(t, err)
	assert.Contains(t, all, "valheim")
}

func TestCleanFileName(t *testing.T) {
	cases := map[string]string{
		"world.zip":            "world.zip",
		" world.zip ":          "world.zip",
		"saves/world.tar.gz":   "world.tar.gz",
		`C:\saves\world.zip`:   "world.zip",
		"../../etc/passwd.zip": "passwd.zip",
	}
	for in, want := range cases {
		got, err := CleanFileName(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
}
