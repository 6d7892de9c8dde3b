package media

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	chat "github.com/roboricindustries/chat-ingest/pkg/schemas/chat/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func voiceEvent() chat.RawEvent {
	return chat.RawEvent{
		ID:       chat.MessageID{ID: "V1", Serialized: "false_111@c.us_V1"},
		From:     "111@c.us",
		Type:     "ptt",
		HasMedia: true,
	}
}

func TestDownload(t *testing.T) {
	var gotID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/downloadMedia" {
			http.NotFound(w, r)
			return
		}
		gotID = r.URL.Query().Get("messageId")
		if gotID == "false_111@c.us_BROKEN" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(payload{
			MimeType: "audio/ogg; codecs=opus",
			Data:     base64.StdEncoding.EncodeToString([]byte("OggS")),
		})
	}))
	defer srv.Close()

	scratch := t.TempDir()
	d := NewDownloader(DownloaderConfig{Endpoint: srv.URL + "/", ScratchDir: scratch}, discard())

	t.Run("writes file under chat dir", func(t *testing.T) {
		got := d.Download(context.Background(), voiceEvent(), "111")
		require.NotNil(t, got)
		assert.Equal(t, "false_111@c.us_V1", gotID)
		assert.Equal(t, "audio/ogg; codecs=opus", got.MimeType)
		assert.Equal(t, filepath.Join(scratch, "111"), filepath.Dir(got.Path))
		assert.True(t, strings.HasSuffix(got.Path, ".oga"))

		data, err := os.ReadFile(got.Path)
		require.NoError(t, err)
		assert.Equal(t, "OggS", string(data))
	})

	t.Run("server error yields nil", func(t *testing.T) {
		ev := voiceEvent()
		ev.ID.Serialized = "false_111@c.us_BROKEN"
		assert.Nil(t, d.Download(context.Background(), ev, "111"))
	})

	t.Run("unreachable endpoint yields nil", func(t *testing.T) {
		bad := NewDownloader(DownloaderConfig{Endpoint: "http://127.0.0.1:1", ScratchDir: scratch}, discard())
		assert.Nil(t, bad.Download(context.Background(), voiceEvent(), "111"))
	})
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, "jpeg", extensionFor("image/jpeg"))
	assert.Equal(t, "oga", extensionFor("audio/ogg; codecs=opus"))
	assert.Equal(t, "mp4", extensionFor("video/mp4"))
	assert.Equal(t, "bin", extensionFor("application/x-unknown-thing"))
}

type fakeSTT struct {
	text string
	err  error
	path string
}

func (f *fakeSTT) Transcribe(_ context.Context, path string) (string, error) {
	f.path = path
	_, statErr := os.Stat(path)
	if statErr != nil {
		return "", statErr
	}
	return f.text, f.err
}

type fakeVision struct {
	text    string
	err     error
	prompt  string
	dataURL string
}

func (f *fakeVision) DescribeImage(_ context.Context, prompt, dataURL string) (string, error) {
	f.prompt, f.dataURL = prompt, dataURL
	return f.text, f.err
}

func copyEncoder(_ context.Context, src, dst string) error {
	b, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, b, 0o644)
}

func TestTranscribeVoice(t *testing.T) {
	src := filepath.Join(t.TempDir(), "1_a.oga")
	require.NoError(t, os.WriteFile(src, []byte("OggS"), 0o644))

	t.Run("success removes mp3", func(t *testing.T) {
		stt := &fakeSTT{text: "hi there"}
		i := NewInterpreter(stt, nil, copyEncoder, "", discard())
		text, ok := i.TranscribeVoice(context.Background(), src)
		assert.True(t, ok)
		assert.Equal(t, "hi there", text)
		assert.Equal(t, src+".mp3", stt.path)
		_, err := os.Stat(src + ".mp3")
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("stt failure removes mp3", func(t *testing.T) {
		stt := &fakeSTT{err: errors.New("quota")}
		i := NewInterpreter(stt, nil, copyEncoder, "", discard())
		_, ok := i.TranscribeVoice(context.Background(), src)
		assert.False(t, ok)
		_, err := os.Stat(src + ".mp3")
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("encoder failure", func(t *testing.T) {
		failing := func(context.Context, string, string) error { return errors.New("no ffmpeg") }
		i := NewInterpreter(&fakeSTT{}, nil, failing, "", discard())
		_, ok := i.TranscribeVoice(context.Background(), src)
		assert.False(t, ok)
	})
}

func TestCaptionImage(t *testing.T) {
	img := filepath.Join(t.TempDir(), "1_a.png")
	require.NoError(t, os.WriteFile(img, []byte{0x89, 'P', 'N', 'G'}, 0o644))

	t.Run("default prompt and data url", func(t *testing.T) {
		v := &fakeVision{text: "a diagram"}
		i := NewInterpreter(nil, v, copyEncoder, "", discard())
		text, ok := i.CaptionImage(context.Background(), img)
		assert.True(t, ok)
		assert.Equal(t, "a diagram", text)
		assert.Equal(t, DefaultImagePrompt, v.prompt)
		assert.True(t, strings.HasPrefix(v.dataURL, "data:image/png;base64,"))
	})

	t.Run("custom prompt", func(t *testing.T) {
		v := &fakeVision{text: "x"}
		i := NewInterpreter(nil, v, copyEncoder, "What is shown?", discard())
		_, ok := i.CaptionImage(context.Background(), img)
		assert.True(t, ok)
		assert.Equal(t, "What is shown?", v.prompt)
	})

	t.Run("vision failure", func(t *testing.T) {
		i := NewInterpreter(nil, &fakeVision{err: errors.New("down")}, copyEncoder, "", discard())
		_, ok := i.CaptionImage(context.Background(), img)
		assert.False(t, ok)
	})

	t.Run("missing file", func(t *testing.T) {
		i := NewInterpreter(nil, &fakeVision{}, copyEncoder, "", discard())
		_, ok := i.CaptionImage(context.Background(), filepath.Join(t.TempDir(), "nope.jpg"))
		assert.False(t, ok)
	})
}
