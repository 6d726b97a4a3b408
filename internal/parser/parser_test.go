package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"documind/internal/models"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func texts(units []models.Unit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.Text
	}
	return out
}

func TestExtract(t *testing.T) {
	t.Run("ShouldSplitTextIntoParagraphs", func(t *testing.T) {
		doc, err := Extract(writeFile(t, "notes.txt", "first line\nstill first\n\n\nsecond paragraph\n"))
		require.NoError(t, err)
		assert.Equal(t, "notes.txt", doc.SourceID)
		assert.Equal(t, models.FileTypeTXT, doc.FileType)
		assert.Equal(t, []string{"first line\nstill first", "second paragraph"}, texts(doc.Units))
		for _, u := range doc.Units {
			assert.Nil(t, u.Page)
		}
	})

	t.Run("ShouldTreatFormFeedsAsPageBreaks", func(t *testing.T) {
		doc, err := Extract(writeFile(t, "paged.txt", "page one\n\fpage two\fpage three\n"))
		require.NoError(t, err)
		require.Len(t, doc.Units, 3)
		for i, u := range doc.Units {
			require.NotNil(t, u.Page)
			assert.Equal(t, i+1, *u.Page)
		}
	})

	t.Run("ShouldFormatCSVRowsWithHeaders", func(t *testing.T) {
		doc, err := Extract(writeFile(t, "people.csv", "name,age,city\nAda,36,London\nAlan,,Wilmslow\n"))
		require.NoError(t, err)
		assert.Equal(t, models.FileTypeCSV, doc.FileType)
		assert.Equal(t, []string{"name: Ada, age: 36, city: London", "name: Alan, city: Wilmslow"}, texts(doc.Units))
	})

	t.Run("ShouldExtractMarkdownBlocksAsPlainText", func(t *testing.T) {
		md := "# Title\n\nSome **bold** and `code` text.\n\n- item one\n- item two\n\n| a | b |\n|---|---|\n| 1 | 2 |\n\n```\nfmt.Println(1)\n```\n"
		doc, err := Extract(writeFile(t, "readme.md", md))
		require.NoError(t, err)
		assert.Equal(t, []string{
			"Title",
			"Some bold and code text.",
			"item one",
			"item two",
			"a | b",
			"1 | 2",
			"fmt.Println(1)\n",
		}, texts(doc.Units))
	})

	t.Run("ShouldReadSpreadsheetRows", func(t *testing.T) {
		f := excelize.NewFile()
		require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"product", "price"}))
		require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"widget", 3}))
		path := filepath.Join(t.TempDir(), "prices.xlsx")
		require.NoError(t, f.SaveAs(path))
		require.NoError(t, f.Close())

		doc, err := Extract(path)
		require.NoError(t, err)
		assert.Equal(t, models.FileTypeXLSX, doc.FileType)
		assert.Equal(t, []string{"Sheet1\tproduct\tprice", "Sheet1\twidget\t3"}, texts(doc.Units))
	})

	t.Run("ShouldRejectUnknownExtensions", func(t *testing.T) {
		_, err := Extract(writeFile(t, "deck.pptx", "x"))
		assert.ErrorIs(t, err, models.ErrUnsupportedFormat)
	})

	t.Run("ShouldWrapReadFailures", func(t *testing.T) {
		_, err := Extract(filepath.Join(t.TempDir(), "missing.pdf"))
		assert.ErrorIs(t, err, models.ErrParseFailure)
	})
}

func TestDocxParagraphs(t *testing.T) {
	t.Run("ShouldCollectTextRunsPerParagraph", func(t *testing.T) {
		body := `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
			`<w:p><w:r><w:t>Hello </w:t></w:r><w:r><w:t xml:space="preserve">world &amp; friends</w:t></w:r></w:p>` +
			`<w:p></w:p>` +
			`<w:p><w:r><w:t>Second</w:t><w:tab/><w:t>cell</w:t></w:r></w:p>` +
			`</w:body></w:document>`
		paragraphs, err := docxParagraphs(body)
		require.NoError(t, err)
		assert.Equal(t, []string{"Hello world & friends", "Second\tcell"}, paragraphs)
	})
}
