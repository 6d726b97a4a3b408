package ingest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"documind/internal/models"
)

func textUnits(texts ...string) []models.Unit {
	units := make([]models.Unit, len(texts))
	for i, t := range texts {
		units[i] = models.Unit{Text: t}
	}
	return units
}

const sample = `Retrieval augmented generation grounds answers in documents.

It retrieves relevant spans first. Then it asks the model to answer using only those spans.
A second line in the same paragraph follows here.

Überschrift: Ünïcödé text should be measured in characters, not bytes. Ça marche très bien.

Final paragraph without a trailing period`

func TestSplitText(t *testing.T) {
	t.Run("ShouldHandleShortWordsScenario", func(t *testing.T) {
		chunks, overlaps := SplitText("AAAA BBBB CCCC", 9, 3)
		require.GreaterOrEqual(t, len(chunks), 2)
		for i, c := range chunks {
			assert.LessOrEqual(t, RuneLen(c), 9, "chunk %d", i)
		}
		for i := 1; i < len(chunks); i++ {
			prev := chunks[i-1]
			assert.Equal(t, 3, overlaps[i])
			assert.Equal(t, prev[len(prev)-3:], chunks[i][:3])
		}
		assert.Equal(t, []string{"AAAA ", "AA BBBB ", "BB CCCC"}, chunks)
	})

	t.Run("ShouldBoundSizeAndStitchLosslessly", func(t *testing.T) {
		for _, size := range []int{1, 2, 5, 9, 17, 40, 64, 200, 1000} {
			for _, overlap := range []int{0, 1, 3, 8, 20, 150} {
				if overlap >= size {
					continue
				}
				t.Run(fmt.Sprintf("size=%d,overlap=%d", size, overlap), func(t *testing.T) {
					chunks, overlaps := SplitText(sample, size, overlap)
					require.NotEmpty(t, chunks)
					var sb strings.Builder
					for i, c := range chunks {
						runes := []rune(c)
						assert.LessOrEqual(t, len(runes), size)
						if i == 0 {
							assert.Zero(t, overlaps[i])
						} else {
							assert.LessOrEqual(t, overlaps[i], overlap)
							prev := []rune(chunks[i-1])
							assert.Equal(t, string(prev[len(prev)-overlaps[i]:]), string(runes[:overlaps[i]]))
						}
						sb.WriteString(string(runes[overlaps[i]:]))
					}
					assert.Equal(t, sample, sb.String())
				})
			}
		}
	})

	t.Run("ShouldPreferParagraphBoundaries", func(t *testing.T) {
		chunks, _ := SplitText("first paragraph\n\nsecond paragraph", 20, 0)
		assert.Equal(t, []string{"first paragraph\n\n", "second paragraph"}, chunks)
	})

	t.Run("ShouldHardSplitUnbrokenText", func(t *testing.T) {
		chunks, _ := SplitText(strings.Repeat("x", 25), 10, 0)
		assert.Equal(t, []string{"xxxxxxxxxx", "xxxxxxxxxx", "xxxxx"}, chunks)
	})

	t.Run("ShouldReturnNothingForEmptyText", func(t *testing.T) {
		chunks, _ := SplitText("", 10, 2)
		assert.Empty(t, chunks)
	})
}

func TestIngest(t *testing.T) {
	cfg := Config{ChunkSize: 60, ChunkOverlap: 10}

	t.Run("ShouldTagChunksWithSourceMetadata", func(t *testing.T) {
		res, err := Ingest(Source{ID: "notes.txt", Units: textUnits(sample)}, cfg)
		require.NoError(t, err)
		require.NotEmpty(t, res.Chunks)
		assert.Equal(t, models.FileTypeTXT, res.FileType)
		for i, c := range res.Chunks {
			assert.Equal(t, "notes.txt", c.SourceID)
			assert.Equal(t, i, c.ChunkID)
			assert.Nil(t, c.PageMin)
			assert.Nil(t, c.PageMax)
		}
		assert.Equal(t, Normalize(textUnits(sample), models.FileTypeTXT), Stitch(res.Chunks))
	})

	t.Run("ShouldRecordPageRanges", func(t *testing.T) {
		units := []models.Unit{
			{Text: "Page one talks about apples.", Page: models.Page(1)},
			{Text: "Page two talks about bananas.", Page: models.Page(2)},
			{Text: "Page three talks about cherries.", Page: models.Page(3)},
		}
		res, err := Ingest(Source{ID: "fruit.pdf", Units: units}, Config{ChunkSize: 70, ChunkOverlap: 0})
		require.NoError(t, err)
		require.Len(t, res.Chunks, 2)
		assert.Equal(t, 1, *res.Chunks[0].PageMin)
		assert.Equal(t, 2, *res.Chunks[0].PageMax)
		assert.Equal(t, 3, *res.Chunks[1].PageMin)
		assert.Equal(t, 3, *res.Chunks[1].PageMax)
	})

	t.Run("ShouldNormalizeLineEndings", func(t *testing.T) {
		res, err := Ingest(Source{ID: "a.md", Units: textUnits("  one\r\ntwo\r\n  ", "", "three")}, cfg)
		require.NoError(t, err)
		assert.Equal(t, "one\ntwo\n\nthree", Stitch(res.Chunks))
	})

	t.Run("ShouldFailOnUnsupportedFormat", func(t *testing.T) {
		_, err := Ingest(Source{ID: "slides.pptx", Units: textUnits("x")}, cfg)
		assert.ErrorIs(t, err, models.ErrUnsupportedFormat)
	})

	t.Run("ShouldPreferExplicitFileType", func(t *testing.T) {
		res, err := Ingest(Source{ID: "upload-123", FileType: ".MD", Units: textUnits("# Title")}, cfg)
		require.NoError(t, err)
		assert.Equal(t, models.FileTypeMD, res.FileType)
	})

	t.Run("ShouldFailOnWhitespaceOnlyDocument", func(t *testing.T) {
		_, err := Ingest(Source{ID: "blank.txt", Units: textUnits(" \n\t ", "\r\n")}, cfg)
		assert.ErrorIs(t, err, models.ErrEmptyDocument)
	})

	t.Run("ShouldRejectInvalidConfig", func(t *testing.T) {
		_, err := Ingest(Source{ID: "a.txt", Units: textUnits("x")}, Config{ChunkSize: 10, ChunkOverlap: 10})
		assert.ErrorIs(t, err, models.ErrInvalidConfig)
		_, err = Ingest(Source{ID: "a.txt", Units: textUnits("x")}, Config{ChunkSize: 0})
		assert.ErrorIs(t, err, models.ErrInvalidConfig)
	})

	t.Run("ShouldCapTabularRowsAndSignalTruncation", func(t *testing.T) {
		rows := make([]string, 1200)
		for i := range rows {
			rows[i] = fmt.Sprintf("row %d, value %d", i, i*2)
		}
		res, err := Ingest(Source{ID: "data.csv", Units: textUnits(rows...)}, Config{ChunkSize: 500, ChunkOverlap: 50})
		require.NoError(t, err)
		assert.True(t, res.Truncated)
		assert.Equal(t, 1200, res.TotalRows)
		assert.Equal(t, models.MaxTableRows, res.KeptRows)
		stitched := Stitch(res.Chunks)
		assert.Contains(t, stitched, "row 999, value 1998")
		assert.NotContains(t, stitched, "row 1000,")
	})

	t.Run("ShouldNotTruncateSmallTables", func(t *testing.T) {
		res, err := Ingest(Source{ID: "data.xlsx", Units: textUnits("a\tb", "c\td")}, Config{ChunkSize: 100, ChunkOverlap: 0, MaxTableRows: 10})
		require.NoError(t, err)
		assert.False(t, res.Truncated)
		assert.Equal(t, 2, res.TotalRows)
		assert.Equal(t, "a\tb\nc\td", Stitch(res.Chunks))
	})
}
