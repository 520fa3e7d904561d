package pics

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/disintegration/imaging"
	_ "github.com/gen2brain/avif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// decodeOriented fully decodes a source file and applies its EXIF orientation.
func decodeOriented(filePath string) (image.Image, error) {
	img, err := imaging.Open(filePath, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, filePath, err)
	}
	return img, nil
}

// validateDecodable checks that filePath holds a complete, decodable raster.
func validateDecodable(filePath string) error {
	if err := isValidFile(filePath); err != nil {
		return err
	}
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("artifact not decodable: %w", err)
	}
	if b := img.Bounds(); b.Empty() {
		return fmt.Errorf("artifact has empty bounds")
	}
	return nil
}
