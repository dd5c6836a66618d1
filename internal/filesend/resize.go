package filesend

import (
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"

	_ "image/gif"
	_ "image/png"
)

const jpegQuality = 88

// thumbnailMaxEdge is the long-edge target for a client-generated image
// thumbnail, independent of whatever image_send_max_edge is configured
// for the body: a 1080-edge body still gets a 90-edge thumbnail.
const thumbnailMaxEdge = 90

// resizeResult reports the dimensions actually written and whether a
// resize was actually performed.
type resizeResult struct {
	Width   int
	Height  int
	Resized bool
}

// resizeLongEdge scales the source image down so its long edge equals
// maxEdge, preserving aspect ratio, and writes it as a JPEG at quality 88
// to dstPath. It never upscales: if the source's long edge is already
// within maxEdge (or maxEdge is unset), the source is copied through
// unchanged at its original bytes and format instead of being
// re-encoded.
func resizeLongEdge(srcPath, dstPath string, maxEdge int) (resizeResult, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return resizeResult{}, fmt.Errorf("filesend: open source image: %w", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return resizeResult{}, fmt.Errorf("filesend: decode source image config: %w", err)
	}
	srcW, srcH := cfg.Width, cfg.Height

	longEdge := srcW
	if srcH > longEdge {
		longEdge = srcH
	}

	if maxEdge <= 0 || longEdge <= maxEdge {
		if err := copyFile(srcPath, dstPath); err != nil {
			return resizeResult{}, fmt.Errorf("filesend: copy unresized body: %w", err)
		}
		return resizeResult{Width: srcW, Height: srcH, Resized: false}, nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return resizeResult{}, fmt.Errorf("filesend: seek source image: %w", err)
	}
	src, _, err := image.Decode(f)
	if err != nil {
		return resizeResult{}, fmt.Errorf("filesend: decode source image: %w", err)
	}

	scale := float64(maxEdge) / float64(longEdge)
	dstW := maxInt(1, int(float64(srcW)*scale))
	dstH := maxInt(1, int(float64(srcH)*scale))
	dstImg := scaleImage(src, dstW, dstH)

	out, err := os.Create(dstPath)
	if err != nil {
		return resizeResult{}, fmt.Errorf("filesend: create resized body: %w", err)
	}
	defer out.Close()

	if err := jpeg.Encode(out, dstImg, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return resizeResult{}, fmt.Errorf("filesend: encode resized body: %w", err)
	}
	return resizeResult{Width: dstW, Height: dstH, Resized: true}, nil
}

// scaleImage performs nearest-neighbor scaling, sufficient for the
// thumbnail/body-cap use case this pipeline exists for.
func scaleImage(src image.Image, dstW, dstH int) image.Image {
	srcBounds := src.Bounds()
	srcW, srcH := srcBounds.Dx(), srcBounds.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	for y := 0; y < dstH; y++ {
		sy := srcBounds.Min.Y + y*srcH/dstH
		for x := 0; x < dstW; x++ {
			sx := srcBounds.Min.X + x*srcW/dstW
			dst.Set(x, y, src.At(sx, sy))
		}
	}
	return dst
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// copyFile is used when no resize is necessary but the pipeline still
// needs a body file at dstPath distinct from the persisted original.
func copyFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer dst.Close()
	_, err = io.Copy(dst, src)
	return err
}
