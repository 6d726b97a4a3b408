package parser

import (
	"bufio"
	"os"
	"strings"

	"documind/internal/models"
)

const formFeed = "\f"

type textParserState struct {
	page      int
	paged     bool
	paragraph []string
	result    []models.Unit
}

// parseText splits plain text into paragraphs. Form feeds start a new page;
// files without them have no page numbers.
func parseText(filePath string) ([]models.Unit, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	state := textParserState{page: 1}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		processTextLine(scanner.Text(), &state)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	state.flush()

	if !state.paged {
		for i := range state.result {
			state.result[i].Page = nil
		}
	}
	return state.result, nil
}

func processTextLine(line string, state *textParserState) {
	parts := strings.Split(line, formFeed)
	for i, part := range parts {
		if i > 0 {
			state.flush()
			state.page++
			state.paged = true
		}
		if strings.TrimSpace(part) == "" {
			if i == len(parts)-1 {
				state.flush()
			}
			continue
		}
		state.paragraph = append(state.paragraph, part)
	}
}

func (s *textParserState) flush() {
	if len(s.paragraph) == 0 {
		return
	}
	s.result = append(s.result, models.Unit{
		Text: strings.Join(s.paragraph, "\n"),
		Page: models.Page(s.page),
	})
	s.paragraph = nil
}
