package job

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/richinsley/comfyvideo/client"
	"github.com/richinsley/comfyvideo/errdefs"
)

// file names of materialized inputs inside the scratch directory
const (
	ImageFile    = "input_image.jpg"
	EndImageFile = "end_image.jpg"
	VideoFile    = "input_video.mp4"
)

// Materializer turns a media source into a file the engine can read
type Materializer interface {
	Materialize(ctx context.Context, src MediaSource, dir, filename string) (string, error)
}

// FileMaterializer writes sources to local files. Paths are used as they are,
// URLs are downloaded and base64 payloads decoded.
type FileMaterializer struct {
	HTTPClient *http.Client
}

func (m *FileMaterializer) Materialize(ctx context.Context, src MediaSource, dir, filename string) (string, error) {
	switch src.Kind {
	case SourcePath:
		if _, err := os.Stat(src.Value); err != nil {
			return "", errdefs.Wrap(errdefs.ErrInvalidInput, err, fmt.Sprintf("input file %s", src.Value))
		}
		slog.Info("using input path", "path", src.Value)
		return src.Value, nil
	case SourceURL:
		return m.download(ctx, src.Value, filepath.Join(dir, filename))
	case SourceBase64:
		return decodeBase64(src.Value, filepath.Join(dir, filename))
	}
	return "", errdefs.InvalidInputf("unsupported input type: %s", src.Kind)
}

func (m *FileMaterializer) download(ctx context.Context, url, dst string) (string, error) {
	hc := m.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errdefs.Wrap(errdefs.ErrInvalidInput, err, "invalid input URL")
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", errdefs.Wrap(errdefs.ErrInvalidInput, err, "URL download failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errdefs.InvalidInputf("URL download failed: %s returned status %d", url, resp.StatusCode)
	}

	f, err := os.Create(dst)
	if err != nil {
		return "", errdefs.Wrap(errdefs.ErrConfiguration, err, "cannot create input file")
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", errdefs.Wrap(errdefs.ErrInvalidInput, err, "URL download failed")
	}
	slog.Info("downloaded input", "url", url, "path", dst, "bytes", n)
	return dst, nil
}

func decodeBase64(payload, dst string) (string, error) {
	// data:image/png;base64,....
	if strings.HasPrefix(payload, "data:") {
		if i := strings.Index(payload, ","); i >= 0 {
			payload = payload[i+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return "", errdefs.Wrap(errdefs.ErrInvalidInput, err, "base64 decoding failed")
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", errdefs.Wrap(errdefs.ErrConfiguration, err, "cannot write input file")
	}
	slog.Info("saved base64 input", "path", dst, "bytes", len(data))
	return dst, nil
}

// UploadingMaterializer materializes locally and then uploads the file into the
// engine's input folder, for engines that do not share a filesystem with the
// job runner. Files go to a subfolder named after the scratch directory and the
// returned path is the engine-relative name.
type UploadingMaterializer struct {
	Local  Materializer
	Client *client.ComfyClient
}

func (m *UploadingMaterializer) Materialize(ctx context.Context, src MediaSource, dir, filename string) (string, error) {
	path, err := m.Local.Materialize(ctx, src, dir, filename)
	if err != nil {
		return "", err
	}
	subfolder := filepath.Base(dir)
	name, err := m.Client.UploadFileFromPath(ctx, path, true, client.InputImageType, subfolder)
	if err != nil {
		return "", errdefs.Wrap(errdefs.ErrConnectivity, err, "cannot upload input")
	}
	slog.Info("uploaded input", "path", path, "name", name, "subfolder", subfolder)
	return subfolder + "/" + name, nil
}
