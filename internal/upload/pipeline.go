// Package upload stages user images in private temporary files and checks
// that they decode before anything else reads them.
package upload

import (
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	appErrors "github.com/wildid/wildid-server/pkg/errors"
)

// File is an accepted upload staged on disk.
type File struct {
	Path         string
	Ext          string
	OriginalName string
	Size         int64
	// Format is the decoder name ("png", "jpeg", ...) once validated.
	Format string
}

// MIMEType returns the media type of a validated file.
func (f *File) MIMEType() string {
	if f.Format == "" {
		return "application/octet-stream"
	}
	return "image/" + f.Format
}

// Pipeline accepts, validates and removes uploaded images.
type Pipeline struct {
	dir       string
	allowed   map[string]struct{}
	maxPixels int64
	log       zerolog.Logger
}

// DefaultMaxPixels is the largest width*height Validate decodes.
const DefaultMaxPixels = 89478485

// NewPipeline stages files in dir, creating it with owner-only permissions.
// An empty dir selects a private directory under the OS temp dir.
func NewPipeline(dir string, allowedExt []string, log zerolog.Logger) (*Pipeline, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "wildid-uploads")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "upload.NewPipeline.MkdirAll")
	}
	allowed := make(map[string]struct{}, len(allowedExt))
	for _, ext := range allowedExt {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}
	return &Pipeline{dir: dir, allowed: allowed, maxPixels: DefaultMaxPixels, log: log}, nil
}

// WithMaxPixels replaces the decode size limit. Non-positive values keep the
// current one.
func (p *Pipeline) WithMaxPixels(n int64) *Pipeline {
	if n > 0 {
		p.maxPixels = n
	}
	return p
}

// Dir returns the staging directory.
func (p *Pipeline) Dir() string {
	return p.dir
}

// Allowed reports whether filename carries an accepted extension.
func (p *Pipeline) Allowed(filename string) bool {
	_, ok := p.allowed[extension(filename)]
	return ok
}

// Accept copies src into a new randomly named file. The client filename only
// contributes its extension; nothing is written for a disallowed one.
func (p *Pipeline) Accept(filename string, src io.Reader) (*File, error) {
	ext := extension(filename)
	if _, ok := p.allowed[ext]; !ok {
		return nil, appErrors.ErrUnsupportedFileType
	}

	path := filepath.Join(p.dir, uuid.NewString()+"."+ext)
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "upload.Accept.OpenFile")
	}

	n, err := io.Copy(dst, src)
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, errors.Wrap(err, "upload.Accept.Copy")
	}

	return &File{Path: path, Ext: ext, OriginalName: SanitizeFilename(filename), Size: n}, nil
}

// Validate checks the declared dimensions against the pixel limit and then
// fully decodes the file. Anything the image codecs reject, and anything
// over the limit, is ErrInvalidImage.
func (p *Pipeline) Validate(f *File) error {
	fh, err := os.Open(f.Path)
	if err != nil {
		return errors.Wrap(err, "upload.Validate.Open")
	}
	defer fh.Close()

	cfg, _, err := image.DecodeConfig(fh)
	if err != nil {
		return invalidImage(err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return invalidImage(errors.Errorf("empty image %dx%d", cfg.Width, cfg.Height))
	}
	if int64(cfg.Width)*int64(cfg.Height) > p.maxPixels {
		p.log.Warn().Str("filename", f.OriginalName).Int("width", cfg.Width).Int("height", cfg.Height).Msg("rejected oversized image")
		return invalidImage(errors.Errorf("image %dx%d exceeds %d pixels", cfg.Width, cfg.Height, p.maxPixels))
	}

	if _, err := fh.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "upload.Validate.Seek")
	}
	_, format, err := image.Decode(fh)
	if err != nil {
		return invalidImage(err)
	}
	f.Format = format
	return nil
}

func invalidImage(cause error) error {
	return appErrors.Wrap(appErrors.CodeInvalidImage, appErrors.ErrInvalidImage.Error(), cause)
}

// Cleanup removes the staged file. A file that is already gone is not an
// error.
func (p *Pipeline) Cleanup(f *File) {
	if f == nil {
		return
	}
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		p.log.Error().Err(err).Str("path", f.Path).Msg("failed to remove upload")
	}
}

// Process runs accept, validate and fn, removing the staged file on every
// path out.
func (p *Pipeline) Process(ctx context.Context, filename string, src io.Reader, fn func(ctx context.Context, f *File) error) error {
	f, err := p.Accept(filename, src)
	if err != nil {
		return err
	}
	defer p.Cleanup(f)

	if err := p.Validate(f); err != nil {
		p.log.Info().Str("filename", f.OriginalName).Msg("rejected invalid image")
		return err
	}
	return fn(ctx, f)
}

func extension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}
