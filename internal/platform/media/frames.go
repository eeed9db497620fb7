package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/phrazzld/adlens/internal/domain"
	"github.com/phrazzld/adlens/internal/pipeline"
	"github.com/phrazzld/adlens/internal/platform/logger"
	"github.com/phrazzld/adlens/internal/task"
)

const (
	framesDirName = "frames"
	manifestName  = "frames.json"
	rawPattern    = "raw_%03d.jpg"
)

var durationPattern = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

// commandRunner runs an external process and returns its combined output.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// FrameExtractor implements pipeline.FrameExtractor with ffmpeg. Frames are
// downscaled with imaging on the shared worker pool.
type FrameExtractor struct {
	ffmpegPath string
	width      int
	pool       *task.WorkerPool
	runner     commandRunner
	logger     *slog.Logger
}

var _ pipeline.FrameExtractor = (*FrameExtractor)(nil)

// NewFrameExtractor creates a FrameExtractor. frames are fitted into a
// width x width box. pool may be nil, in which case resizing runs inline.
func NewFrameExtractor(ffmpegPath string, width int, pool *task.WorkerPool, logger *slog.Logger) *FrameExtractor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FrameExtractor{
		ffmpegPath: ffmpegPath,
		width:      width,
		pool:       pool,
		runner:     execRunner{},
		logger:     logger.With("component", "frame_extractor"),
	}
}

// Extract implements pipeline.FrameExtractor. Frames recorded in the item's
// manifest by an earlier run are returned without invoking ffmpeg.
func (x *FrameExtractor) Extract(
	ctx context.Context,
	media domain.MediaHandle,
	maxFrames int,
) (domain.FrameSet, error) {
	if maxFrames <= 0 {
		return domain.FrameSet{}, fmt.Errorf("max frames must be positive, got %d", maxFrames)
	}
	log := logger.FromContextOrDefault(ctx, x.logger).With("item_id", media.ItemID)

	dir := filepath.Join(filepath.Dir(media.Path), framesDirName)
	if frames, ok := readManifest(dir, maxFrames); ok {
		log.Debug("reusing extracted frames", "frame_count", len(frames))
		return domain.FrameSet{ItemID: media.ItemID, Frames: frames, Reused: true}, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.FrameSet{}, fmt.Errorf("create frames dir: %w", err)
	}

	var (
		frames []domain.Frame
		err    error
	)
	if media.MediaType == domain.MediaTypeImage {
		frames, err = x.fromImage(ctx, media, dir)
	} else {
		frames, err = x.fromVideo(ctx, media, dir, maxFrames)
	}
	if err != nil {
		return domain.FrameSet{}, err
	}

	if err := writeManifest(dir, frames); err != nil {
		log.Warn("failed to write frame manifest", "error", err)
	}

	log.Info("extracted frames", "frame_count", len(frames))
	return domain.FrameSet{ItemID: media.ItemID, Frames: frames}, nil
}

func (x *FrameExtractor) fromImage(ctx context.Context, media domain.MediaHandle, dir string) ([]domain.Frame, error) {
	dst := filepath.Join(dir, frameName(0))
	if err := x.resize(ctx, media.Path, dst); err != nil {
		return nil, err
	}
	return []domain.Frame{{ItemID: media.ItemID, Index: 0, Path: dst}}, nil
}

func (x *FrameExtractor) fromVideo(
	ctx context.Context,
	media domain.MediaHandle,
	dir string,
	maxFrames int,
) ([]domain.Frame, error) {
	// Spread samples evenly; fall back to one frame every two seconds.
	fps := 0.5
	if duration := x.probeDuration(ctx, media.Path); duration > 0 {
		fps = float64(maxFrames) / duration
	}

	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", media.Path,
		"-vf", "fps=" + strconv.FormatFloat(fps, 'f', 6, 64),
		"-frames:v", strconv.Itoa(maxFrames),
		"-q:v", "3",
		filepath.Join(dir, rawPattern),
	}
	if out, err := x.runner.Run(ctx, x.ffmpegPath, args...); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffmpeg frame extraction failed: %w: %s", err, lastLine(out))
	}

	var frames []domain.Frame
	for i := 1; i <= maxFrames; i++ {
		raw := filepath.Join(dir, fmt.Sprintf(rawPattern, i))
		if _, err := os.Stat(raw); err != nil {
			break
		}

		index := len(frames)
		dst := filepath.Join(dir, frameName(index))
		if err := x.resize(ctx, raw, dst); err != nil {
			return nil, err
		}
		_ = os.Remove(raw)

		frames = append(frames, domain.Frame{
			ItemID:           media.ItemID,
			Index:            index,
			Path:             dst,
			TimestampSeconds: (float64(index) + 0.5) / fps,
		})
	}

	if len(frames) == 0 {
		return nil, errors.New("ffmpeg produced no frames")
	}
	return frames, nil
}

// resize fits src into the configured box and writes it to dst as JPEG.
func (x *FrameExtractor) resize(ctx context.Context, src, dst string) error {
	work := func(ctx context.Context) error {
		img, err := imaging.Open(src, imaging.AutoOrientation(true))
		if err != nil {
			return fmt.Errorf("open frame: %w", err)
		}
		if x.width > 0 {
			img = imaging.Fit(img, x.width, x.width, imaging.Lanczos)
		}
		if err := imaging.Save(img, dst, imaging.JPEGQuality(85)); err != nil {
			return fmt.Errorf("save frame: %w", err)
		}
		return nil
	}

	if x.pool == nil {
		return work(ctx)
	}
	return x.pool.Do(ctx, "resize_frame", work)
}

// probeDuration reads the container duration from ffmpeg's banner output.
// It returns 0 when the duration cannot be determined.
func (x *FrameExtractor) probeDuration(ctx context.Context, path string) float64 {
	// ffmpeg exits non-zero without an output file; the banner is still printed.
	out, _ := x.runner.Run(ctx, x.ffmpegPath, "-hide_banner", "-i", path)
	m := durationPattern.FindSubmatch(out)
	if m == nil {
		return 0
	}
	hours, _ := strconv.Atoi(string(m[1]))
	minutes, _ := strconv.Atoi(string(m[2]))
	seconds, _ := strconv.ParseFloat(string(m[3]), 64)
	return float64(hours*3600+minutes*60) + seconds
}

func frameName(index int) string {
	return fmt.Sprintf("frame_%03d.jpg", index)
}

func readManifest(dir string, maxFrames int) ([]domain.Frame, bool) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, false
	}
	var frames []domain.Frame
	if err := json.Unmarshal(data, &frames); err != nil || len(frames) == 0 {
		return nil, false
	}
	for _, frame := range frames {
		if _, err := os.Stat(frame.Path); err != nil {
			return nil, false
		}
	}
	if len(frames) > maxFrames {
		frames = frames[:maxFrames]
	}
	return frames, true
}

func writeManifest(dir string, frames []domain.Frame) error {
	data, err := json.Marshal(frames)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, manifestName), data, 0o644)
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
