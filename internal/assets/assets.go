// Package assets stores generated frames in a session's image directory.
//
// Each frame is written at full fidelity as PNG plus a downscaled JPEG
// preview for display. Grid frames also get their last panel cropped out as a
// separate full-fidelity PNG.
package assets

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"

	"github.com/tatianab/storyframe/internal/models"
)

const (
	// PreviewMaxWidth bounds the preview width; smaller frames keep their size.
	PreviewMaxWidth = 512
	previewQuality  = 80
)

// Store writes frames under a save directory layout.
type Store struct {
	layout models.Layout
}

// NewStore creates a Store rooted at saveDir.
func NewStore(saveDir string) *Store {
	return &Store{layout: models.Layout{Root: saveDir}}
}

// SaveFrame writes data as the frame of turn. grid describes a multi-panel
// frame and may be nil.
func (s *Store) SaveFrame(sessionID string, turn int, data []byte, grid *models.GridLayout) (*models.FrameReference, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if err := os.MkdirAll(s.layout.ImagesDir(sessionID), 0755); err != nil {
		return nil, fmt.Errorf("create images dir: %w", err)
	}

	fullPath, previewPath, panelPath := s.layout.FramePaths(sessionID, turn)
	ref := &models.FrameReference{Turn: turn, Full: fullPath, Preview: previewPath}

	if format == "png" {
		err = os.WriteFile(string(fullPath), data, 0644)
	} else {
		err = writePNG(string(fullPath), img)
	}
	if err != nil {
		return nil, fmt.Errorf("write frame: %w", err)
	}

	if err := writeJPEG(string(previewPath), Downscale(img, PreviewMaxWidth)); err != nil {
		return nil, fmt.Errorf("write preview: %w", err)
	}

	if grid != nil && grid.Panels() > 1 {
		panel, err := LastPanel(img, *grid)
		if err != nil {
			return nil, err
		}
		if err := writePNG(string(panelPath), panel); err != nil {
			return nil, fmt.Errorf("write last panel: %w", err)
		}
		layout := *grid
		ref.Grid = &layout
		ref.LastPanel = panelPath
	}
	return ref, nil
}

// Read returns the bytes and MIME type of a full-fidelity frame.
func (s *Store) Read(path models.FullImagePath) ([]byte, string, error) {
	data, err := os.ReadFile(string(path))
	if err != nil {
		return nil, "", fmt.Errorf("read frame: %w", err)
	}
	return data, mimeType(string(path)), nil
}

// Clear removes every frame of a session.
func (s *Store) Clear(sessionID string) error {
	if err := os.RemoveAll(s.layout.ImagesDir(sessionID)); err != nil {
		return fmt.Errorf("clear images: %w", err)
	}
	return nil
}

// Downscale returns img scaled to at most maxWidth wide, keeping its aspect ratio.
func Downscale(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	if b.Dx() <= maxWidth {
		return img
	}
	h := b.Dy() * maxWidth / b.Dx()
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// LastPanel crops the bottom-right panel of a grid frame.
func LastPanel(img image.Image, grid models.GridLayout) (image.Image, error) {
	if grid.Rows < 1 || grid.Cols < 1 {
		return nil, fmt.Errorf("invalid grid %dx%d", grid.Rows, grid.Cols)
	}
	b := img.Bounds()
	pw, ph := b.Dx()/grid.Cols, b.Dy()/grid.Rows
	if pw < 1 || ph < 1 {
		return nil, fmt.Errorf("frame %dx%d too small for grid %dx%d", b.Dx(), b.Dy(), grid.Rows, grid.Cols)
	}
	x0 := b.Min.X + pw*(grid.Cols-1)
	y0 := b.Min.Y + ph*(grid.Rows-1)
	rect := image.Rect(x0, y0, x0+pw, y0+ph)

	dst := image.NewRGBA(image.Rect(0, 0, pw, ph))
	draw.Copy(dst, image.Point{}, img, rect, draw.Src, nil)
	return dst, nil
}

func writePNG(path string, img image.Image) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

func writeJPEG(path string, img image.Image) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: previewQuality}); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

func mimeType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	default:
		return "image/png"
	}
}
