package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-guard/internal/constants"
	"github.com/kozaktomas/face-guard/internal/logger"
)

const megabyte = 1024 * 1024

// FFmpegDevice captures a local video device through an ffmpeg child process
// that emits MJPEG on stdout.
type FFmpegDevice struct {
	Path              string // e.g. /dev/video0
	Format            string // ffmpeg input format, e.g. v4l2
	Binary            string // ffmpeg executable
	FirstFrameTimeout time.Duration
	Logger            *slog.Logger
}

// ffmpegArgs builds the capture command line.
func ffmpegArgs(format, input string, c Constraints) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if format != "" {
		args = append(args, "-f", format)
	}
	if c.Width > 0 && c.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", c.Width, c.Height))
	}
	if c.FPS > 0 {
		args = append(args, "-framerate", strconv.Itoa(c.FPS))
	}
	// -vcodec mjpeg gives us JPEGs SplitJPEG can cut apart
	return append(args, "-i", input, "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-")
}

// Open starts the capture process and waits for the first frame.
func (d *FFmpegDevice) Open(ctx context.Context, c Constraints) (Source, error) {
	log := logger.OrDefault(d.Logger)

	binary := d.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	bin, err := exec.LookPath(binary)
	if err != nil {
		return nil, &Error{Kind: Unsupported, Err: err}
	}

	if d.Format == "v4l2" {
		if err := checkDevice(d.Path); err != nil {
			return nil, err
		}
	}
	if c.FacingMode != "" {
		log.Debug("facing mode is not selectable on this device, using configured path",
			slog.String("facing_mode", c.FacingMode), slog.String("device", d.Path))
	}

	cmd := exec.Command(bin, ffmpegArgs(d.Format, d.Path, c)...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	src := &ffmpegSource{
		cmd:        cmd,
		stderr:     stderr,
		firstFrame: make(chan struct{}),
		done:       make(chan struct{}),
		logger:     log,
	}
	src.track = &ffmpegTrack{id: uuid.NewString(), source: src}
	go src.readFrames(bufio.NewScanner(stdout))

	timeout := d.FirstFrameTimeout
	if timeout <= 0 {
		timeout = constants.FirstFrameTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-src.firstFrame:
		return src, nil
	case <-src.done:
		return nil, classifyFFmpegExit(src.stderrText(), src.exitErr)
	case <-ctx.Done():
		src.track.Stop()
		return nil, fmt.Errorf("waiting for first frame: %w", ctx.Err())
	case <-timer.C:
		src.track.Stop()
		return nil, &Error{Kind: StreamInactive, Err: fmt.Errorf("no frame within %s", timeout)}
	}
}

// checkDevice checks the capture device exists and is readable.
func checkDevice(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	return f.Close()
}

// classifyFFmpegExit maps an early ffmpeg exit onto the camera error taxonomy.
func classifyFFmpegExit(stderr string, exitErr error) error {
	msg := strings.TrimSpace(stderr)
	if msg == "" && exitErr != nil {
		msg = exitErr.Error()
	}
	cause := errors.New(msg)
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "device or resource busy"):
		return &Error{Kind: Busy, Err: cause}
	case strings.Contains(lower, "permission denied"):
		return &Error{Kind: PermissionDenied, Err: cause}
	case strings.Contains(lower, "no such file or directory"):
		return &Error{Kind: NotFound, Err: cause}
	case strings.Contains(lower, "unknown input format"):
		return &Error{Kind: Unsupported, Err: cause}
	default:
		return &Error{Kind: StreamInactive, Err: cause}
	}
}

type ffmpegSource struct {
	cmd        *exec.Cmd
	stderr     *bytes.Buffer
	slot       frameSlot
	track      *ffmpegTrack
	firstOnce  sync.Once
	firstFrame chan struct{}
	done       chan struct{}
	exitErr    error
	logger     *slog.Logger
}

func (s *ffmpegSource) readFrames(scanner *bufio.Scanner) {
	defer close(s.done)

	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(SplitJPEG)
	for scanner.Scan() {
		s.slot.put(scanner.Bytes(), time.Now())
		s.firstOnce.Do(func() { close(s.firstFrame) })
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("camera frame reader stopped", slog.Any("error", err))
	}

	// Wait for the process to exit so stderr is complete before anyone reads it.
	s.exitErr = s.cmd.Wait()
	produced, dropped := s.slot.stats()
	s.logger.Debug("camera capture ended", slog.Uint64("frames", produced), slog.Uint64("overwritten", dropped))
}

// stderrText is only safe to call after done is closed.
func (s *ffmpegSource) stderrText() string {
	return s.stderr.String()
}

func (s *ffmpegSource) Active() bool {
	select {
	case <-s.done:
		return false
	default:
		return s.track.Live()
	}
}

func (s *ffmpegSource) Tracks() []Track {
	return []Track{s.track}
}

func (s *ffmpegSource) LatestFrame() (Frame, bool) {
	return s.slot.latest()
}

type ffmpegTrack struct {
	id      string
	source  *ffmpegSource
	stopped atomic.Bool
}

func (t *ffmpegTrack) ID() string { return t.id }

func (t *ffmpegTrack) Live() bool {
	return !t.stopped.Load()
}

// Stop kills the capture process and waits for the reader to drain.
func (t *ffmpegTrack) Stop() {
	if !t.stopped.CompareAndSwap(false, true) {
		return
	}
	if p := t.source.cmd.Process; p != nil {
		_ = p.Kill()
	}
	select {
	case <-t.source.done:
	case <-time.After(5 * time.Second):
		t.source.logger.Warn("camera process did not exit after kill", slog.String("track_id", t.id))
	}
}
