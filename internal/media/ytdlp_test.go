package media

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/tune-ripper/internal/jobs"
	"github.com/MimeLyc/tune-ripper/internal/source"
)

// writeFakeYTDLP puts a yt-dlp script on PATH that runs body after
// resolving the -o template into $out.
func writeFakeYTDLP(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake yt-dlp is a shell script")
	}

	binDir := t.TempDir()
	script := `#!/bin/sh
out=""; prev=""
for a in "$@"; do
  if [ "$prev" = "-o" ]; then out="$a"; fi
  prev="$a"
done
printf '%s\n' "$@" > "` + filepath.Join(binDir, "args.txt") + `"
out=$(printf '%s' "$out" | sed -e 's/%(title)s/Song/' -e 's/%(ext)s/mp3/')
` + body + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(binDir, "yt-dlp"), []byte(script), 0o755))
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	return binDir
}

func recordedArgs(t *testing.T, binDir string) []string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(binDir, "args.txt"))
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(raw)), "\n")
}

func TestYTDLP_ProcessSingleItem(t *testing.T) {
	binDir := writeFakeYTDLP(t, `: > "$out"; exit 0`)
	downloads := filepath.Join(t.TempDir(), "ripped")
	y := NewYTDLP(Config{DownloadDir: downloads})

	name, err := y.Process(context.Background(), jobs.ItemRequest{
		JobID: "1a2b3c4d", Index: 0, Total: 1,
		URL: "https://youtu.be/abc", Source: source.YouTube,
	})
	require.NoError(t, err)
	assert.Equal(t, "1a2b3c4d_Song.mp3", name)
	assert.FileExists(t, filepath.Join(downloads, name))

	assert.Equal(t, []string{
		"--extract-audio", "--audio-format", "mp3", "--no-playlist", "--restrict-filenames",
		"-o", filepath.Join(downloads, "1a2b3c4d_%(title)s.%(ext)s"),
		"https://youtu.be/abc",
	}, recordedArgs(t, binDir))
}

func TestYTDLP_ProcessBatchItemWithBrowser(t *testing.T) {
	binDir := writeFakeYTDLP(t, `: > "$out"; exit 0`)
	downloads := t.TempDir()
	y := NewYTDLP(Config{DownloadDir: downloads})

	name, err := y.Process(context.Background(), jobs.ItemRequest{
		JobID: "1a2b3c4d", Index: 2, Total: 3,
		URL: "https://soundcloud.com/a/b", Source: source.SoundCloud, Browser: "firefox",
	})
	require.NoError(t, err)
	assert.Equal(t, "1a2b3c4d_3_Song.mp3", name)

	args := recordedArgs(t, binDir)
	assert.Contains(t, strings.Join(args, " "), "--cookies-from-browser firefox")
	assert.Equal(t, "https://soundcloud.com/a/b", args[len(args)-1])
}

func TestYTDLP_FailureText(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "stderr wins", body: `echo "partial" ; echo "ERROR: Video unavailable" >&2; exit 1`, want: "ERROR: Video unavailable"},
		{name: "stdout fallback", body: `echo "something went wrong"; exit 2`, want: "something went wrong"},
		{name: "nothing printed", body: `exit 1`, want: "unknown error occurred"},
		{name: "success without file", body: `exit 0`, want: "download finished but no MP3 file was found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeFakeYTDLP(t, tt.body)
			y := NewYTDLP(Config{DownloadDir: t.TempDir()})

			_, err := y.Process(context.Background(), jobs.ItemRequest{JobID: "1a2b3c4d", Total: 1, URL: "https://youtu.be/x"})
			require.Error(t, err)
			assert.True(t, jobs.IsErrorType(err, jobs.TypeProcessing))
			assert.Equal(t, tt.want, jobs.Message(err))
		})
	}
}

func TestYTDLP_Timeout(t *testing.T) {
	writeFakeYTDLP(t, `exec sleep 5`)
	y := NewYTDLP(Config{DownloadDir: t.TempDir(), Timeout: 100 * time.Millisecond})

	start := time.Now()
	_, err := y.Process(context.Background(), jobs.ItemRequest{JobID: "1a2b3c4d", Total: 1, URL: "https://youtu.be/x"})
	require.Error(t, err)
	assert.Equal(t, "download timed out after 100ms", jobs.Message(err))
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestYTDLP_IgnoresOtherItemsFiles(t *testing.T) {
	writeFakeYTDLP(t, `exit 0`)
	downloads := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(downloads, "1a2b3c4d_2_Other.mp3"), nil, 0o644))
	y := NewYTDLP(Config{DownloadDir: downloads})

	_, err := y.Process(context.Background(), jobs.ItemRequest{JobID: "1a2b3c4d", Index: 0, Total: 2, URL: "https://youtu.be/x"})
	require.Error(t, err)
	assert.Equal(t, "download finished but no MP3 file was found", jobs.Message(err))
}

func TestYTDLP_MissingBinary(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	y := NewYTDLP(Config{DownloadDir: t.TempDir()})

	_, err := y.Process(context.Background(), jobs.ItemRequest{JobID: "1a2b3c4d", Total: 1, URL: "https://youtu.be/x"})
	require.Error(t, err)
	assert.Contains(t, jobs.Message(err), "yt-dlp")
	assert.ElementsMatch(t, []string{"yt-dlp", "ffmpeg"}, y.Diagnose())
}

func TestFailureText_Truncates(t *testing.T) {
	long := strings.Repeat("é", 400)
	got := failureText(commandResult{Stderr: long})
	assert.LessOrEqual(t, len(got), 500)
	assert.Equal(t, strings.Repeat("é", 250), got)
}

func TestNewYTDLP_Defaults(t *testing.T) {
	y := NewYTDLP(Config{DownloadDir: "./ripped_tunes/"})
	assert.Equal(t, DefaultBinary, y.binary)
	assert.Equal(t, DefaultTimeout, y.timeout)
	assert.Equal(t, "ripped_tunes", y.DownloadDir())
}
