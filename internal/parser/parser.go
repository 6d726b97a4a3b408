package parser

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"

	"documind/internal/models"
)

// Document is the extracted text of one file.
type Document struct {
	SourceID string
	FileType string
	Units    []models.Unit
}

// Extract reads filePath and returns its text as ordered units. Paginated
// formats carry page numbers; tabular formats yield one unit per row.
func Extract(filePath string) (*Document, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filePath), "."))

	var (
		units []models.Unit
		err   error
	)
	switch ext {
	case models.FileTypePDF:
		units, err = parsePDF(filePath)
	case models.FileTypeDOCX:
		units, err = parseDOCX(filePath)
	case models.FileTypeXLSX:
		units, err = parseXLSX(filePath)
	case models.FileTypeCSV:
		units, err = parseCSV(filePath)
	case models.FileTypeMD, "markdown":
		ext = models.FileTypeMD
		units, err = parseMarkdown(filePath)
	case models.FileTypeTXT:
		units, err = parseText(filePath)
	default:
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedFormat, filePath)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", models.ErrParseFailure, filePath, err)
	}

	log.Debug().Str("file", filePath).Str("file_type", ext).Int("units", len(units)).Msg("Extracted document")
	return &Document{SourceID: filepath.Base(filePath), FileType: ext, Units: units}, nil
}

func parsePDF(filePath string) ([]models.Unit, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Get file size for reader initialization
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	var units []models.Unit
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		units = append(units, models.Unit{Text: pageText, Page: models.Page(i)})
	}
	return units, nil
}

func parseDOCX(filePath string) ([]models.Unit, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	// DOCX has no page numbers
	paragraphs, err := docxParagraphs(r.Editable().GetContent())
	if err != nil {
		return nil, err
	}
	units := make([]models.Unit, 0, len(paragraphs))
	for _, p := range paragraphs {
		units = append(units, models.Unit{Text: p})
	}
	return units, nil
}

// docxParagraphs collects the text runs of word/document.xml, one string per
// w:p element.
func docxParagraphs(content string) ([]string, error) {
	dec := xml.NewDecoder(strings.NewReader(content))
	var (
		paragraphs []string
		current    strings.Builder
		inText     bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				current.WriteByte('\t')
			case "br":
				current.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if s := strings.TrimSpace(current.String()); s != "" {
					paragraphs = append(paragraphs, s)
				}
				current.Reset()
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
	}
	return paragraphs, nil
}

func parseXLSX(filePath string) ([]models.Unit, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var units []models.Unit
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheetName, err)
		}
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line == "" {
				continue
			}
			units = append(units, models.Unit{Text: sheetName + "\t" + line})
		}
	}
	return units, nil
}
