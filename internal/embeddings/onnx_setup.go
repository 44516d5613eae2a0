//go:build cgo

package embeddings

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
)

// onnxRuntimeVersion must match the onnxruntime_go release fastembed-go pins.
const onnxRuntimeVersion = "1.23.0"

const onnxReleaseURL = "https://github.com/microsoft/onnxruntime/releases/download"

// ErrUnsupportedPlatform is returned when no ONNX runtime build exists for
// the host OS and architecture.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// runtimeInstaller finds the ONNX runtime shared library fastembed-go loads
// through ONNX_PATH, and fetches the release archive when it is missing.
type runtimeInstaller struct {
	dir          string
	version      string
	baseURL      string
	goos, goarch string
	client       *http.Client
	logger       *zap.Logger
}

func newRuntimeInstaller(logger *zap.Logger) *runtimeInstaller {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &runtimeInstaller{
		dir:     filepath.Join(home, ".config", "ctxgraph", "lib"),
		version: onnxRuntimeVersion,
		baseURL: onnxReleaseURL,
		goos:    runtime.GOOS,
		goarch:  runtime.GOARCH,
		client:  &http.Client{Timeout: 5 * time.Minute},
		logger:  logger,
	}
}

// platform names the release archive for the target OS and architecture.
func (r *runtimeInstaller) platform() (string, error) {
	switch r.goos + "/" + r.goarch {
	case "linux/amd64":
		return "linux-x64", nil
	case "linux/arm64":
		return "linux-aarch64", nil
	case "darwin/amd64":
		return "osx-x86_64", nil
	case "darwin/arm64":
		return "osx-arm64", nil
	}
	return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, r.goos, r.goarch)
}

func (r *runtimeInstaller) libraryName() string {
	if r.goos == "darwin" {
		return "libonnxruntime.dylib"
	}
	return "libonnxruntime.so"
}

// locate returns ONNX_PATH if set, else the managed install if present,
// else "".
func (r *runtimeInstaller) locate() string {
	if p := os.Getenv("ONNX_PATH"); p != "" {
		return p
	}
	p := filepath.Join(r.dir, r.libraryName())
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return ""
}

func (r *runtimeInstaller) archiveURL(platform string) string {
	return fmt.Sprintf("%s/v%s/onnxruntime-%s-%s.tgz", r.baseURL, r.version, platform, r.version)
}

// ensure returns the library path, downloading and unpacking the release
// first when the library cannot be located.
func (r *runtimeInstaller) ensure(ctx context.Context) (string, error) {
	if p := r.locate(); p != "" {
		return p, nil
	}
	platform, err := r.platform()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(r.dir, 0700); err != nil {
		return "", fmt.Errorf("creating %s: %w", r.dir, err)
	}

	url := r.archiveURL(platform)
	r.logger.Info("downloading ONNX runtime", zap.String("url", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading ONNX runtime: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading ONNX runtime: status %d", resp.StatusCode)
	}

	prefix := fmt.Sprintf("onnxruntime-%s-%s/lib/", platform, r.version)
	if err := r.extract(resp.Body, prefix); err != nil {
		return "", fmt.Errorf("extracting ONNX runtime: %w", err)
	}

	p := filepath.Join(r.dir, r.libraryName())
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("library %s not found in archive", r.libraryName())
	}
	r.logger.Info("ONNX runtime installed", zap.String("path", p))
	return p, nil
}

// extract writes the regular files and symlinks under prefix in a .tgz
// stream into r.dir, flattened to their base names.
func (r *runtimeInstaller) extract(src io.Reader, prefix string) error {
	gz, err := gzip.NewReader(src)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}
		name := strings.TrimPrefix(hdr.Name, "./")
		if !strings.HasPrefix(name, prefix) {
			continue
		}

		dest := filepath.Join(r.dir, filepath.Base(name))
		switch hdr.Typeflag {
		case tar.TypeSymlink:
			_ = os.Remove(dest)
			if err := os.Symlink(filepath.Base(hdr.Linkname), dest); err != nil {
				return fmt.Errorf("linking %s: %w", dest, err)
			}
		case tar.TypeReg:
			if err := writeFile(dest, tr); err != nil {
				return err
			}
		}
	}
}

func writeFile(path string, src io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
