// Package maskio reads and writes label-mask stacks as directories of
// per-slice grayscale images. It is edge glue around the in-memory core:
// the upstream 2D segmenter drops one 16-bit image per slice into a
// directory, and the final volume is exported the same way, plus an
// optional raw uint32 dump for instance counts beyond 16 bits.
package maskio

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"

	"cellstitch3d/internal/models"
)

// LoadStack loads all PNG and TIFF images in a directory as one ordered
// mask stack. Files are sorted by the numeric part of their filenames so
// slice order follows the acquisition order regardless of zero padding.
func LoadStack(dir string) ([]*models.Mask, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("maskio: reading %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".tif", ".tiff":
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("maskio: no mask images found in %s", dir)
	}

	sort.Slice(files, func(i, j int) bool {
		ni, nj := extractNumber(files[i]), extractNumber(files[j])
		if ni != nj {
			return ni < nj
		}
		return files[i] < files[j]
	})

	stack := make([]*models.Mask, 0, len(files))
	for _, name := range files {
		mask, err := loadMask(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("maskio: loading %s: %w", name, err)
		}
		stack = append(stack, mask)
	}
	return stack, nil
}

// extractNumber extracts the numeric part from a filename
func extractNumber(filename string) int {
	numStr := ""
	for _, c := range filepath.Base(filename) {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}
	if numStr != "" {
		if num, err := strconv.Atoi(numStr); err == nil {
			return num
		}
	}
	return 0
}

// loadMask decodes one slice image into a label mask. Only grayscale
// images carry unambiguous label values; anything else is rejected rather
// than guessed at.
func loadMask(path string) (*models.Mask, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	mask := models.NewMask(bounds.Dx(), bounds.Dy())
	switch im := img.(type) {
	case *image.Gray:
		for y := 0; y < mask.Height; y++ {
			for x := 0; x < mask.Width; x++ {
				mask.Set(x, y, uint32(im.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y))
			}
		}
	case *image.Gray16:
		for y := 0; y < mask.Height; y++ {
			for x := 0; x < mask.Width; x++ {
				mask.Set(x, y, uint32(im.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y))
			}
		}
	default:
		return nil, fmt.Errorf("unsupported image type %T, want 8- or 16-bit grayscale", img)
	}
	return mask, nil
}

// SaveStack writes a volume as numbered 16-bit grayscale slice images,
// one xy plane per file.
func SaveStack(dir string, v *models.Volume, format string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("maskio: creating %s: %w", dir, err)
	}
	for z := 0; z < v.Depth; z++ {
		name := filepath.Join(dir, fmt.Sprintf("%04d.%s", z, format))
		if err := saveMask(name, v.Slice(z), format); err != nil {
			return fmt.Errorf("maskio: writing slice %d: %w", z, err)
		}
	}
	return nil
}

func saveMask(path string, m *models.Mask, format string) error {
	img := image.NewGray16(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			v := m.At(x, y)
			if v > 65535 {
				return fmt.Errorf("label %d exceeds 16-bit range, use raw export", v)
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(v)})
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	switch format {
	case "png":
		return png.Encode(file, img)
	case "tif", "tiff":
		return tiff.Encode(file, img, nil)
	}
	return fmt.Errorf("unsupported output format %q", format)
}

// rawMagic identifies the raw volume dump format.
const rawMagic = "CSV1"

// SaveVolumeRaw dumps a volume as little-endian uint32 voxels behind a
// small dimension header, for downstream tools that need the full label
// range.
func SaveVolumeRaw(path string, v *models.Volume) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("maskio: creating %s: %w", path, err)
	}
	defer file.Close()

	if _, err := file.WriteString(rawMagic); err != nil {
		return err
	}
	header := []uint32{uint32(v.Width), uint32(v.Height), uint32(v.Depth)}
	if err := binary.Write(file, binary.LittleEndian, header); err != nil {
		return err
	}
	return binary.Write(file, binary.LittleEndian, v.Data)
}

// LoadVolumeRaw reads a volume written by SaveVolumeRaw.
func LoadVolumeRaw(path string) (*models.Volume, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("maskio: opening %s: %w", path, err)
	}
	defer file.Close()

	magic := make([]byte, len(rawMagic))
	if _, err := io.ReadFull(file, magic); err != nil || string(magic) != rawMagic {
		return nil, fmt.Errorf("maskio: %s is not a raw volume dump", path)
	}
	header := make([]uint32, 3)
	if err := binary.Read(file, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("maskio: reading header of %s: %w", path, err)
	}
	v := models.NewVolume(int(header[0]), int(header[1]), int(header[2]))
	if err := binary.Read(file, binary.LittleEndian, v.Data); err != nil {
		return nil, fmt.Errorf("maskio: reading voxels of %s: %w", path, err)
	}
	return v, nil
}
