package parser

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strings"

	"documind/internal/models"
)

// parseCSV turns every data row into "header: value" pairs so each unit can
// be retrieved on its own.
func parseCSV(filePath string) ([]models.Unit, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var units []models.Unit
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		units = append(units, models.Unit{Text: formatRow(header, record)})
	}
	return units, nil
}

func formatRow(header, record []string) string {
	fields := make([]string, 0, len(record))
	for i, value := range record {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if i < len(header) && strings.TrimSpace(header[i]) != "" {
			fields = append(fields, strings.TrimSpace(header[i])+": "+value)
		} else {
			fields = append(fields, value)
		}
	}
	return strings.Join(fields, ", ")
}
