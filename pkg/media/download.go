// Package media fetches message attachments from the chat client and turns
// voice notes and images into text.
package media

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	chat "github.com/roboricindustries/chat-ingest/pkg/schemas/chat/v1"
)

// Download is a media file written to the scratch directory.
type Download struct {
	Path     string
	MimeType string
}

// payload is the chat client's /downloadMedia response.
type payload struct {
	MimeType string `json:"mimetype"`
	Data     string `json:"data"`
	Filename string `json:"filename,omitempty"`
}

type DownloaderConfig struct {
	Endpoint   string
	ScratchDir string
	Timeout    time.Duration
}

type Downloader struct {
	endpoint   string
	scratchDir string
	http       *http.Client
	logger     *slog.Logger
}

func NewDownloader(cfg DownloaderConfig, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Downloader{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		scratchDir: cfg.ScratchDir,
		http:       &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Download fetches the attachment of ev into <scratch>/<chatID>/. Any failure
// is logged and reported as nil.
func (d *Downloader) Download(ctx context.Context, ev chat.RawEvent, chatID string) *Download {
	log := d.logger.With("op", "media.Download", slog.String("message_id", ev.SerializedID()))

	p, err := d.fetch(ctx, ev.SerializedID())
	if err != nil {
		log.Error("media download failed", slog.Any("error", err))
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		log.Error("media payload is not base64", slog.Any("error", err))
		return nil
	}

	dir := filepath.Join(d.scratchDir, chatID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Error("create scratch dir failed", slog.Any("error", err))
		return nil
	}
	name := fmt.Sprintf("%d_%s.%s", time.Now().UnixMilli(), randomSuffix(), extensionFor(p.MimeType))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Error("write media failed", slog.Any("error", err))
		return nil
	}

	log.Debug("media saved", slog.String("path", path), slog.String("mime", p.MimeType))
	return &Download{Path: path, MimeType: p.MimeType}
}

func (d *Downloader) fetch(ctx context.Context, messageID string) (*payload, error) {
	u := d.endpoint + "/downloadMedia?messageId=" + url.QueryEscape(messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("chat client returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var p payload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode media payload: %w", err)
	}
	if p.Data == "" {
		return nil, fmt.Errorf("media payload has no data")
	}
	return &p, nil
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:13]
}

var knownExtensions = map[string]string{
	"audio/ogg":       "oga",
	"audio/mpeg":      "mp3",
	"audio/mp4":       "m4a",
	"audio/aac":       "aac",
	"audio/amr":       "amr",
	"image/jpeg":      "jpeg",
	"image/png":       "png",
	"image/webp":      "webp",
	"image/gif":       "gif",
	"video/mp4":       "mp4",
	"application/pdf": "pdf",
}

// extensionFor maps a MIME type (parameters allowed) to a file extension.
func extensionFor(mimeType string) string {
	base, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		base = strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	}
	base = strings.ToLower(base)
	if ext, ok := knownExtensions[base]; ok {
		return ext
	}
	if exts, _ := mime.ExtensionsByType(base); len(exts) > 0 {
		return strings.TrimPrefix(exts[0], ".")
	}
	return "bin"
}
