package assets

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatianab/storyframe/internal/models"
)

// quadrants builds a w x h image whose four quadrants have distinct colors.
func quadrants(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	colors := []color.RGBA{{255, 0, 0, 255}, {0, 255, 0, 255}, {0, 0, 255, 255}, {255, 255, 0, 255}}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			q := 0
			if x >= w/2 {
				q++
			}
			if y >= h/2 {
				q += 2
			}
			img.Set(x, y, colors[q])
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestSaveFrame_WritesFullAndPreview(t *testing.T) {
	store := NewStore(t.TempDir())
	data := encodePNG(t, quadrants(1024, 512))

	ref, err := store.SaveFrame("s", 3, data, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, ref.Turn)
	assert.False(t, ref.IsGrid())

	full, err := os.ReadFile(string(ref.Full))
	require.NoError(t, err)
	assert.Equal(t, data, full, "png input is stored byte for byte")

	f, err := os.Open(string(ref.Preview))
	require.NoError(t, err)
	defer f.Close()
	preview, err := jpeg.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, PreviewMaxWidth, preview.Bounds().Dx())
	assert.Equal(t, 256, preview.Bounds().Dy())

	read, mime, err := store.Read(ref.Full)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, data, read)
}

func TestSaveFrame_ReencodesJPEGInput(t *testing.T) {
	store := NewStore(t.TempDir())
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, quadrants(64, 64), nil))

	ref, err := store.SaveFrame("s", 0, buf.Bytes(), nil)
	require.NoError(t, err)

	f, err := os.Open(string(ref.Full))
	require.NoError(t, err)
	defer f.Close()
	_, format, err := image.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
}

func TestSaveFrame_GridCropsLastPanel(t *testing.T) {
	store := NewStore(t.TempDir())
	grid := &models.GridLayout{Rows: 2, Cols: 2}

	ref, err := store.SaveFrame("s", 1, encodePNG(t, quadrants(200, 100)), grid)
	require.NoError(t, err)
	require.True(t, ref.IsGrid())

	f, err := os.Open(string(ref.LastPanel))
	require.NoError(t, err)
	defer f.Close()
	panel, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 100, 50), panel.Bounds())

	r, g, b, _ := panel.At(50, 25).RGBA()
	assert.Equal(t, [3]uint32{0xffff, 0xffff, 0}, [3]uint32{r, g, b}, "bottom-right quadrant is yellow")
}

func TestSaveFrame_RejectsGarbage(t *testing.T) {
	_, err := NewStore(t.TempDir()).SaveFrame("s", 0, []byte("not an image"), nil)
	assert.Error(t, err)
}

func TestClear(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	ref, err := store.SaveFrame("s", 0, encodePNG(t, quadrants(8, 8)), nil)
	require.NoError(t, err)

	require.NoError(t, store.Clear("s"))
	_, err = os.Stat(string(ref.Full))
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, store.Clear("never-existed"))
}

func TestDownscaleKeepsSmallImages(t *testing.T) {
	img := quadrants(100, 50)
	assert.Same(t, img, Downscale(img, PreviewMaxWidth))
}

func TestLastPanelInvalidGrid(t *testing.T) {
	_, err := LastPanel(quadrants(4, 4), models.GridLayout{Rows: 0, Cols: 2})
	assert.Error(t, err)
	_, err = LastPanel(quadrants(1, 1), models.GridLayout{Rows: 2, Cols: 2})
	assert.Error(t, err)
}
