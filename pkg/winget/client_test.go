package winget

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-language/winpkg/internal/testutil"
)

func TestScanLines(t *testing.T) {
	input := "one\r\ntwo\rthree\nfour\r"
	sc := bufio.NewScanner(strings.NewReader(input))
	sc.Split(ScanLines)
	var got []string
	for sc.Scan() {
		got = append(got, sc.Text())
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, []string{"one", "two", "three", "four"}, got)
}

func TestReadLinesNoTrailingNewline(t *testing.T) {
	lines, err := ReadLines(strings.NewReader("a\nb"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, lines)
}

func TestReadLinesDrainsAfterOverlongLine(t *testing.T) {
	long := strings.Repeat("x", MaxLineSize+1)
	r := strings.NewReader("first\n" + long + "\nlast\n")

	lines, err := ReadLines(r)
	require.ErrorIs(t, err, bufio.ErrTooLong)
	assert.Equal(t, []string{"first"}, lines)
	assert.Zero(t, r.Len())
}

func TestClientRun(t *testing.T) {
	testutil.RequirePOSIXShell(t)
	dir := t.TempDir()
	path := testutil.WriteScript(t, dir, "winget", `echo "args: $*"
echo "oops" 1>&2
exit 3`)

	client := NewClient(path, nil, nil)
	res, err := client.Run(context.Background(), "show", "--id", "Foo.App")
	require.NoError(t, err)
	assert.Equal(t, ExitCode(3), res.ExitCode)
	assert.Equal(t, []string{"args: show --id Foo.App"}, res.Stdout)
	assert.Equal(t, []string{"oops"}, res.Stderr)
	assert.Equal(t, "args: show --id Foo.App", res.Output())
}

func TestClientRunCancelled(t *testing.T) {
	testutil.RequirePOSIXShell(t)
	dir := t.TempDir()
	path := testutil.WriteScript(t, dir, "winget", "exec sleep 30")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewClient(path, nil, nil).Run(ctx, "list")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestClientRunCancelledWhileGrandchildHoldsOutput(t *testing.T) {
	testutil.RequirePOSIXShell(t)
	dir := t.TempDir()
	path := testutil.WriteScript(t, dir, "winget", "echo start\nsleep 8 &\nwait")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	_, err := NewClient(path, nil, nil).Run(ctx, "export")
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestClientRunGrandchildOutlivesExit(t *testing.T) {
	testutil.RequirePOSIXShell(t)
	dir := t.TempDir()
	path := testutil.WriteScript(t, dir, "winget", "echo done\nsleep 8 &\nexit 0")

	start := time.Now()
	res, err := NewClient(path, nil, nil).Run(context.Background(), "show")
	require.NoError(t, err)
	assert.Equal(t, CodeSuccess, res.ExitCode)
	assert.Equal(t, []string{"done"}, res.Stdout)
	assert.Less(t, time.Since(start), 6*time.Second)
}

func TestClientRunOverlongLine(t *testing.T) {
	testutil.RequirePOSIXShell(t)
	dir := t.TempDir()
	path := testutil.WriteScript(t, dir, "pwsh", fmt.Sprintf("exec head -c %d /dev/zero", MaxLineSize+4096))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	_, err := NewClient(path, nil, nil).Run(ctx, "-Command", "Get-WinGetPackage")
	require.ErrorIs(t, err, bufio.ErrTooLong)
	assert.NoError(t, ctx.Err())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestClientStartMissingExecutable(t *testing.T) {
	_, err := NewClient("/nonexistent/winget", nil, nil).Run(context.Background(), "list")
	require.Error(t, err)
}

func TestLocate(t *testing.T) {
	dir := t.TempDir()
	file := testutil.WriteFile(t, dir, "winget.exe", "")

	got, ok := Locate("", dir, "/nonexistent/winget.exe", file)
	require.True(t, ok)
	assert.Equal(t, file, got)

	_, ok = Locate(dir)
	assert.False(t, ok)
}
