package scanning

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"net/http"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
)

// ErrUnsupportedFormat is returned for invoices no scanner can render.
var ErrUnsupportedFormat = errors.New("unsupported invoice format")

// maxRenderWidth bounds the width of the page image sent to an oracle.
const maxRenderWidth = 2000

type invoiceFormat struct {
	contentType string
	extensions  []string
	render      func([]byte) (image.Image, error)
}

var invoiceFormats = []invoiceFormat{
	{contentType: "application/pdf", extensions: []string{"pdf"}, render: renderPDF},
	{contentType: "image/png", extensions: []string{"png"}, render: decodeImage},
	{contentType: "image/jpeg", extensions: []string{"jpg", "jpeg"}, render: decodeImage},
	{contentType: "image/tiff", extensions: []string{"tif", "tiff"}, render: decodeImage},
	{contentType: "image/gif", extensions: []string{"gif"}, render: decodeImage},
	{contentType: "image/heic", extensions: []string{"heic"}, render: decodeHEIC},
	{contentType: "image/heif", extensions: []string{"heif"}, render: decodeHEIC},
}

// ContentTypeForExtension maps a file extension (with or without the dot)
// to the MIME type the scanners expect. Unknown extensions return "".
func ContentTypeForExtension(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, f := range invoiceFormats {
		for _, e := range f.extensions {
			if e == ext {
				return f.contentType
			}
		}
	}
	return ""
}

// invoicePNG renders an invoice as a single PNG page image. PNG input that
// fits within maxRenderWidth is passed through untouched.
func invoicePNG(data []byte, contentType string) ([]byte, error) {
	contentType = normalizeContentType(contentType)
	if contentType == "" {
		contentType = sniffContentType(data)
	}
	if isHEIC(data) {
		contentType = "image/heic"
	}

	if contentType == "image/png" {
		cfg, err := png.DecodeConfig(bytes.NewReader(data))
		if err != nil || cfg.Width <= maxRenderWidth {
			return data, nil
		}
	}

	format, ok := lookupFormat(contentType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, contentType)
	}

	img, err := format.render(data)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, fitWidth(img, maxRenderWidth)); err != nil {
		return nil, fmt.Errorf("encoding page image: %w", err)
	}
	return buf.Bytes(), nil
}

func lookupFormat(contentType string) (invoiceFormat, bool) {
	for _, f := range invoiceFormats {
		if f.contentType == contentType {
			return f, true
		}
	}
	return invoiceFormat{}, false
}

func normalizeContentType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if contentType == "image/jpg" {
		return "image/jpeg"
	}
	return contentType
}

func sniffContentType(data []byte) string {
	return normalizeContentType(http.DetectContentType(data))
}

// isHEIC reports whether data is an ISO BMFF container with a HEIF brand.
func isHEIC(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// renderPDF renders the first page, stacked above the last page when the
// invoice has more than one. Payment details usually sit on one of the two.
func renderPDF(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	first, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page 1: %w", err)
	}
	pages := doc.NumPage()
	if pages < 2 {
		return first, nil
	}

	last, err := doc.Image(pages - 1)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page %d: %w", pages, err)
	}
	return stackPages(first, last), nil
}

func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if errors.Is(err, image.ErrFormat) {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

func decodeHEIC(data []byte) (image.Image, error) {
	img, err := heic.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding HEIC image: %w", err)
	}
	return img, nil
}

// stackPages draws pages top to bottom on a white canvas as wide as the
// widest page.
func stackPages(pages ...image.Image) image.Image {
	width, height := 0, 0
	for _, p := range pages {
		b := p.Bounds()
		width = max(width, b.Dx())
		height += b.Dy()
	}

	out := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(out, out.Bounds(), image.White, image.Point{}, draw.Src)
	y := 0
	for _, p := range pages {
		b := p.Bounds()
		draw.Draw(out, image.Rect(0, y, b.Dx(), y+b.Dy()), p, b.Min, draw.Over)
		y += b.Dy()
	}
	return out
}

// fitWidth scales img down to width, keeping its aspect ratio.
func fitWidth(img image.Image, width int) image.Image {
	b := img.Bounds()
	if b.Dx() <= width {
		return img
	}
	height := max(1, b.Dy()*width/b.Dx())
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(out, out.Bounds(), img, b, draw.Src, nil)
	return out
}
