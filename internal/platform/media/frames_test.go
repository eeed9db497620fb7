package media

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/phrazzld/adlens/internal/domain"
	"github.com/phrazzld/adlens/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner stands in for ffmpeg: probes report a fixed duration and
// extraction writes rawFrames images to the requested output pattern.
type fakeRunner struct {
	mu         sync.Mutex
	calls      [][]string
	duration   string
	rawFrames  int
	extractErr error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	f.mu.Unlock()

	output := args[len(args)-1]
	if !strings.Contains(output, "%03d") {
		return []byte("Input #0\n  Duration: " + f.duration + ", start: 0.000000\n"), errors.New("exit status 1")
	}
	if f.extractErr != nil {
		return []byte("frame=0\nInvalid data found when processing input\n"), f.extractErr
	}
	for i := 1; i <= f.rawFrames; i++ {
		img := imaging.New(800, 400, color.NRGBA{R: uint8(i * 40), A: 255})
		if err := imaging.Save(img, fmt.Sprintf(output, i)); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newExtractor(t *testing.T, runner commandRunner, pool *task.WorkerPool) *FrameExtractor {
	t.Helper()
	x := NewFrameExtractor("ffmpeg", 100, pool, discardLogger())
	x.runner = runner
	return x
}

func videoHandle(t *testing.T) domain.MediaHandle {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "creative.mp4")
	require.NoError(t, os.WriteFile(path, []byte("video"), 0o600))
	return domain.MediaHandle{ItemID: "ad_1", Path: path, MediaType: domain.MediaTypeVideo}
}

func TestFrameExtractor_Video(t *testing.T) {
	pool := task.NewWorkerPool(task.WorkerPoolConfig{WorkerCount: 2, QueueSize: 8}, discardLogger())
	pool.Start()
	defer pool.Stop()

	runner := &fakeRunner{duration: "00:00:12.00", rawFrames: 3}
	x := newExtractor(t, runner, pool)
	media := videoHandle(t)

	set, err := x.Extract(context.Background(), media, 6)
	require.NoError(t, err)
	assert.Equal(t, "ad_1", set.ItemID)
	assert.False(t, set.Reused)
	require.Len(t, set.Frames, 3)

	extractArgs := runner.calls[1]
	assert.Contains(t, extractArgs, "fps=0.500000")
	assert.Contains(t, extractArgs, "6")

	for i, frame := range set.Frames {
		assert.Equal(t, i, frame.Index)
		img, err := imaging.Open(frame.Path)
		require.NoError(t, err)
		assert.LessOrEqual(t, img.Bounds().Dx(), 100)
	}
	assert.InDelta(t, 1.0, set.Frames[0].TimestampSeconds, 1e-9)
	assert.InDelta(t, 3.0, set.Frames[1].TimestampSeconds, 1e-9)

	raws, _ := filepath.Glob(filepath.Join(filepath.Dir(media.Path), framesDirName, "raw_*"))
	assert.Empty(t, raws)

	calls := runner.callCount()
	again, err := x.Extract(context.Background(), media, 6)
	require.NoError(t, err)
	assert.True(t, again.Reused)
	assert.Len(t, again.Frames, 3)
	assert.Equal(t, calls, runner.callCount(), "reused frames must not invoke ffmpeg")
}

func TestFrameExtractor_UnknownDurationFallsBack(t *testing.T) {
	runner := &fakeRunner{duration: "N/A", rawFrames: 2}
	x := newExtractor(t, runner, nil)

	set, err := x.Extract(context.Background(), videoHandle(t), 4)
	require.NoError(t, err)
	assert.Len(t, set.Frames, 2)
	assert.Contains(t, runner.calls[1], "fps=0.500000")
}

func TestFrameExtractor_Image(t *testing.T) {
	runner := &fakeRunner{}
	x := newExtractor(t, runner, nil)

	dir := t.TempDir()
	path := filepath.Join(dir, "creative.png")
	require.NoError(t, imaging.Save(imaging.New(400, 200, color.White), path))

	set, err := x.Extract(context.Background(),
		domain.MediaHandle{ItemID: "ad_2", Path: path, MediaType: domain.MediaTypeImage}, 6)
	require.NoError(t, err)
	require.Len(t, set.Frames, 1)
	assert.Zero(t, runner.callCount())

	img, err := imaging.Open(set.Frames[0].Path)
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy())
}

func TestFrameExtractor_Failures(t *testing.T) {
	t.Run("ffmpeg error", func(t *testing.T) {
		x := newExtractor(t, &fakeRunner{duration: "00:00:05.00", extractErr: errors.New("exit status 1")}, nil)
		_, err := x.Extract(context.Background(), videoHandle(t), 3)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Invalid data found when processing input")
	})

	t.Run("no frames", func(t *testing.T) {
		x := newExtractor(t, &fakeRunner{duration: "00:00:05.00"}, nil)
		_, err := x.Extract(context.Background(), videoHandle(t), 3)
		assert.EqualError(t, err, "ffmpeg produced no frames")
	})

	t.Run("bad max frames", func(t *testing.T) {
		x := newExtractor(t, &fakeRunner{}, nil)
		_, err := x.Extract(context.Background(), videoHandle(t), 0)
		assert.Error(t, err)
	})
}
