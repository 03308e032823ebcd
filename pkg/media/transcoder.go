package media

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"os/exec"
)

const defaultBitrate = "192k"

// Transcoder converts a compressed voice note to MP3 bytes.
type Transcoder interface {
	ToMP3(ctx context.Context, ogg []byte) ([]byte, error)
}

// FFmpeg streams the input through an ffmpeg process over stdin/stdout.
// The full note is held in memory on both sides; voice notes are short.
type FFmpeg struct {
	bin     string
	bitrate string
	timeout time.Duration
}

// NewFFmpeg builds a transcoder. bin defaults to "ffmpeg" on PATH; timeout
// bounds a hung process.
func NewFFmpeg(bin string, timeout time.Duration) *FFmpeg {
	if strings.TrimSpace(bin) == "" {
		bin = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FFmpeg{bin: bin, bitrate: defaultBitrate, timeout: timeout}
}

// ToMP3 re-encodes an OGG voice note to MP3 at a fixed bitrate.
func (f *FFmpeg) ToMP3(ctx context.Context, ogg []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.bin,
		"-hide_banner", "-loglevel", "error",
		"-f", "ogg", "-i", "pipe:0",
		"-f", "mp3", "-b:a", f.bitrate,
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(ogg)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("ffmpeg: %w: %s", err, detail)
		}
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}
	return out.Bytes(), nil
}
