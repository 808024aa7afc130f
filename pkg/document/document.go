// Package document decodes uploaded artifacts into ordered text and image
// blocks. PDF pages yield their plain text plus any embedded raster images;
// standalone images yield a single image block. Decoding is deterministic:
// the same bytes always produce the same blocks in the same order.
package document

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	pdfcpuapi "github.com/pdfcpu/pdfcpu/pkg/api"
	pdfcpumodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/voltaudit/voltaudit/pkg/models"
)

// ContentType is the sniffed artifact type.
type ContentType string

const (
	ContentPDF  ContentType = "application/pdf"
	ContentPNG  ContentType = "image/png"
	ContentJPEG ContentType = "image/jpeg"
	ContentTIFF ContentType = "image/tiff"
)

// TextBlock is the plain text of one page.
type TextBlock struct {
	Page int
	Text string
}

// ImageBlock is one raster image with its page of origin (0 for standalone
// image uploads) and media type.
type ImageBlock struct {
	Page      int
	MediaType string
	Data      []byte
}

// Document is a decoded artifact.
type Document struct {
	Texts  []TextBlock
	Images []ImageBlock
}

// PlainText concatenates all text blocks in page order.
func (d *Document) PlainText() string {
	var sb strings.Builder
	for _, t := range d.Texts {
		sb.WriteString(t.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}

// Sniff determines the artifact type from its leading bytes. Unsupported
// content maps to InvalidInput.
func Sniff(head []byte) (ContentType, error) {
	switch {
	case bytes.HasPrefix(head, []byte("%PDF")):
		return ContentPDF, nil
	case bytes.HasPrefix(head, []byte("\x89PNG\r\n\x1a\n")):
		return ContentPNG, nil
	case bytes.HasPrefix(head, []byte("\xff\xd8\xff")):
		return ContentJPEG, nil
	case bytes.HasPrefix(head, []byte("II*\x00")), bytes.HasPrefix(head, []byte("MM\x00*")):
		return ContentTIFF, nil
	default:
		return "", models.E(models.KindInvalidInput, "UPLD_001", "unsupported file type: expected PDF, PNG, JPEG or TIFF")
	}
}

// Decode reads the artifact at path and produces its blocks.
func Decode(path string) (*Document, error) {
	head := make([]byte, 8)
	f, err := os.Open(path)
	if err != nil {
		return nil, models.Wrap(models.KindInternal, "TASK_500", "failed to open artifact", err)
	}
	n, err := io.ReadFull(f, head)
	_ = f.Close()
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, models.Wrap(models.KindInternal, "TASK_500", "failed to read artifact header", err)
	}

	contentType, err := Sniff(head[:n])
	if err != nil {
		return nil, err
	}

	if contentType == ContentPDF {
		return decodePDF(path)
	}
	return decodeImage(path, contentType)
}

func decodeImage(path string, contentType ContentType) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, models.Wrap(models.KindInternal, "TASK_500", "failed to read image artifact", err)
	}
	return &Document{
		Images: []ImageBlock{{Page: 0, MediaType: string(contentType), Data: data}},
	}, nil
}

func decodePDF(path string) (*Document, error) {
	doc := &Document{}

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, models.Wrap(models.KindInvalidInput, "UPLD_001", "failed to parse PDF", err)
	}
	defer f.Close()

	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Pages with exotic encodings still contribute their images.
			text = ""
		}
		doc.Texts = append(doc.Texts, TextBlock{Page: pageNum, Text: text})
	}

	images, err := extractPDFImages(path)
	if err != nil {
		return nil, err
	}
	doc.Images = images

	return doc, nil
}

func extractPDFImages(path string) ([]ImageBlock, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, models.Wrap(models.KindInternal, "TASK_500", "failed to reopen PDF", err)
	}
	defer f.Close()

	pageImages, err := pdfcpuapi.ExtractImagesRaw(f, nil, pdfcpumodel.NewDefaultConfiguration())
	if err != nil {
		return nil, models.Wrap(models.KindInvalidInput, "UPLD_001", "failed to extract PDF images", err)
	}

	var blocks []ImageBlock
	for _, byObj := range pageImages {
		// Deterministic order within a page: sort by object number.
		objNrs := make([]int, 0, len(byObj))
		for objNr := range byObj {
			objNrs = append(objNrs, objNr)
		}
		sort.Ints(objNrs)

		for _, objNr := range objNrs {
			img := byObj[objNr]
			data, err := io.ReadAll(img)
			if err != nil {
				return nil, models.Wrap(models.KindInternal, "TASK_500", "failed to read embedded image", err)
			}
			blocks = append(blocks, ImageBlock{
				Page:      img.PageNr,
				MediaType: mediaTypeForExt(img.FileType),
				Data:      data,
			})
		}
	}

	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].Page < blocks[j].Page })
	return blocks, nil
}

func mediaTypeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case "png":
		return string(ContentPNG)
	case "jpg", "jpeg":
		return string(ContentJPEG)
	case "tif", "tiff":
		return string(ContentTIFF)
	default:
		return fmt.Sprintf("image/%s", strings.ToLower(ext))
	}
}
