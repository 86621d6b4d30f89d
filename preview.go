package evacam

import (
	"fmt"
	"image"
	"image/png"
	"os"

	"golang.org/x/image/draw"

	"github.com/Bin1119/EVA-CAM/alpcam"
)

// previewMaxWidth bounds the thumbnail size.
const previewMaxWidth = 160

// WritePreview renders an APS frame sample as a PNG thumbnail. The payload
// is interpreted as 8-bit grayscale, row major, Width x Height; frames wider
// than the thumbnail bound are downscaled.
func WritePreview(path string, s alpcam.Sample) error {
	if s.Channel != alpcam.ChannelAPS {
		return fmt.Errorf("preview: sample is %s, want aps", s.Channel)
	}
	w, h := int(s.Width), int(s.Height)
	if w <= 0 || h <= 0 {
		return fmt.Errorf("preview: frame has no dimensions")
	}
	if len(s.Payload) < w*h {
		return fmt.Errorf("preview: payload %d bytes, need %d", len(s.Payload), w*h)
	}

	src := image.NewGray(image.Rect(0, 0, w, h))
	copy(src.Pix, s.Payload[:w*h])

	var out image.Image = src
	if w > previewMaxWidth {
		scaled := image.NewGray(image.Rect(0, 0, previewMaxWidth, h*previewMaxWidth/w))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), src, src.Bounds(), draw.Src, nil)
		out = scaled
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, out)
}
