package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const DefaultImagePrompt = "Describe this image in detail."

// SpeechToText turns an audio file into text.
type SpeechToText interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// Vision describes an image passed as a data URL.
type Vision interface {
	DescribeImage(ctx context.Context, prompt, dataURL string) (string, error)
}

// Encoder converts src into an mp3 at dst.
type Encoder func(ctx context.Context, src, dst string) error

// FFmpeg returns an Encoder running the ffmpeg binary at path.
func FFmpeg(path string) Encoder {
	if path == "" {
		path = "ffmpeg"
	}
	return func(ctx context.Context, src, dst string) error {
		cmd := exec.CommandContext(ctx, path, "-y", "-loglevel", "error", "-i", src, "-f", "mp3", dst)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(string(out)))
		}
		return nil
	}
}

type Interpreter struct {
	stt    SpeechToText
	vision Vision
	encode Encoder
	prompt string
	logger *slog.Logger
}

func NewInterpreter(stt SpeechToText, vision Vision, encode Encoder, prompt string, logger *slog.Logger) *Interpreter {
	if prompt == "" {
		prompt = DefaultImagePrompt
	}
	if encode == nil {
		encode = FFmpeg("")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Interpreter{stt: stt, vision: vision, encode: encode, prompt: prompt, logger: logger}
}

// TranscribeVoice re-encodes path to mp3 and transcribes it. The mp3 is
// removed whatever the outcome. ok is false on any failure.
func (i *Interpreter) TranscribeVoice(ctx context.Context, path string) (string, bool) {
	log := i.logger.With("op", "media.TranscribeVoice", slog.String("path", path))

	mp3 := path + ".mp3"
	defer os.Remove(mp3)

	if err := i.encode(ctx, path, mp3); err != nil {
		log.Error("audio conversion failed", slog.Any("error", err))
		return "", false
	}
	text, err := i.stt.Transcribe(ctx, mp3)
	if err != nil {
		log.Error("transcription failed", slog.Any("error", err))
		return "", false
	}
	return text, true
}

// CaptionImage asks the vision model to describe the image at path.
func (i *Interpreter) CaptionImage(ctx context.Context, path string) (string, bool) {
	log := i.logger.With("op", "media.CaptionImage", slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		log.Error("read image failed", slog.Any("error", err))
		return "", false
	}
	text, err := i.vision.DescribeImage(ctx, i.prompt, dataURL(path, data))
	if err != nil {
		log.Error("image description failed", slog.Any("error", err))
		return "", false
	}
	return text, true
}

func dataURL(path string, data []byte) string {
	mt := mime.TypeByExtension(filepath.Ext(path))
	if !strings.HasPrefix(mt, "image/") {
		mt = "image/jpeg"
	}
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(data)
}
