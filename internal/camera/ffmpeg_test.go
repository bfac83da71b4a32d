package camera

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestFFmpegArgs(t *testing.T) {
	args := ffmpegArgs("v4l2", "/dev/video0", Constraints{Width: 640, Height: 480, FPS: 15})

	want := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "v4l2",
		"-video_size", "640x480",
		"-framerate", "15",
		"-i", "/dev/video0",
		"-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-",
	}
	if !slices.Equal(args, want) {
		t.Errorf("ffmpegArgs() =\n%v\nwant\n%v", args, want)
	}
}

func TestFFmpegArgs_NoFormatOrSize(t *testing.T) {
	args := ffmpegArgs("", "rtsp://cam.local/stream", Constraints{})

	if slices.Contains(args, "-video_size") || slices.Contains(args, "-framerate") {
		t.Errorf("unexpected size/rate flags: %v", args)
	}
	if args[3] != "-i" || args[4] != "rtsp://cam.local/stream" {
		t.Errorf("expected input right after logging flags, got %v", args)
	}
}

func TestClassifyFFmpegExit(t *testing.T) {
	tests := []struct {
		stderr string
		want   ErrorKind
	}{
		{"[video4linux2,v4l2 @ 0x1] ioctl(VIDIOC_STREAMON): Device or resource busy", Busy},
		{"/dev/video0: Permission denied", PermissionDenied},
		{"/dev/video9: No such file or directory", NotFound},
		{"Unknown input format: 'v4l2'", Unsupported},
		{"something else went wrong", StreamInactive},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			err := classifyFFmpegExit(tt.stderr, nil)
			if !IsKind(err, tt.want) {
				t.Errorf("classifyFFmpegExit(%q) = %v, want %s", tt.stderr, err, tt.want)
			}
		})
	}
}

func TestFFmpegDevice_MissingBinaryIsUnsupported(t *testing.T) {
	d := &FFmpegDevice{Binary: "definitely-not-ffmpeg-binary", Path: "/dev/video0"}

	_, err := d.Open(context.Background(), Constraints{})
	if !IsKind(err, Unsupported) {
		t.Errorf("expected Unsupported, got %v", err)
	}
}

func TestError_UserMessage(t *testing.T) {
	err := &Error{Kind: PermissionDenied, Err: errors.New("denied")}

	if got := err.UserMessage(); got != "Unable to access camera. Camera permission was denied. Please allow camera access and try again." {
		t.Errorf("unexpected message %q", got)
	}
	if !errors.Is(err, err.Err) {
		t.Error("expected Unwrap to expose the cause")
	}
}
