package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"UltimateDJ/core/scratch"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"
)

// Fetcher 按媒体路径获取曲目字节
type Fetcher interface {
	Fetch(ctx context.Context, src string) (io.ReadCloser, error)
}

// HTTPFetcher 从中继的 /media 路由下载媒体
type HTTPFetcher struct {
	Base   string
	Client *http.Client
}

func (f HTTPFetcher) Fetch(ctx context.Context, src string) (io.ReadCloser, error) {
	u, err := url.JoinPath(f.Base, "media", src)
	if err != nil {
		return nil, fmt.Errorf("invalid media path %q: %w", src, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: %s", u, resp.Status)
	}
	return resp.Body, nil
}

// FileFetcher 从本地目录读取媒体
type FileFetcher struct {
	Root string
}

func (f FileFetcher) Fetch(_ context.Context, src string) (io.ReadCloser, error) {
	clean := filepath.Clean("/" + src)
	return os.Open(filepath.Join(f.Root, clean))
}

// memFile 让 mp3 解码器在已完整下载的媒体内定位
type memFile struct {
	*bytes.Reader
}

func (memFile) Close() error { return nil }

// decode 按扩展名选择解码器，默认 mp3
func decode(src string, data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	switch strings.ToLower(path.Ext(src)) {
	case ".wav":
		return wav.Decode(bytes.NewReader(data))
	default:
		return mp3.Decode(memFile{bytes.NewReader(data)})
	}
}

// DecodeBuffer 把整首曲目解码到内存，供缓冲搓碟使用
func DecodeBuffer(src string, data []byte) (*scratch.Buffer, error) {
	stream, format, err := decode(src, data)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	frames := make([][2]float64, 0, stream.Len())
	chunk := make([][2]float64, 4096)
	for {
		n, ok := stream.Stream(chunk)
		frames = append(frames, chunk[:n]...)
		if !ok {
			break
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", src, err)
	}
	return &scratch.Buffer{SampleRate: int(format.SampleRate), Samples: frames}, nil
}
