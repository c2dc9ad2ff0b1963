package pipeline

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-catalog-sweep/models"
)

func TestQuoteFieldAlwaysQuotes(t *testing.T) {
	assert.Equal(t, `"plain"`, QuoteField("plain"))
	assert.Equal(t, `""`, QuoteField(""))
	assert.Equal(t, `"say ""hi"""`, QuoteField(`say "hi"`))
	assert.Equal(t, "\"a,b\",\"c\"\n", FormatRecord([]string{"a,b", "c"}))
}

func TestCSVRoundTripSpecialCharacters(t *testing.T) {
	original := "comma, \"quote\" and\nnewline"
	line := FormatRecord([]string{original, "next"})

	records, err := csv.NewReader(strings.NewReader(line)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, original, records[0][0])
	assert.Equal(t, "next", records[0][1])
}

func TestCSVWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "items.csv")

	writer, err := NewCSVWriter(path)
	require.NoError(t, err)

	row := &models.OutputRow{
		Item:             models.Item{ItemID: "42", Name: `Oats "Old Fashioned", 42oz`},
		SourceCategoryID: "976759_1",
	}
	require.NoError(t, writer.Write([]*models.OutputRow{row}))
	require.NoError(t, writer.Close())
	require.NoError(t, writer.Close(), "second close is a no-op")
	assert.ErrorIs(t, writer.Write([]*models.OutputRow{row}), ErrWriterClosed)
	require.NoError(t, writer.Validate())

	records := readCSV(t, path)
	require.Len(t, records, 2)
	assert.Equal(t, models.OutputColumns, records[0])
	assert.Equal(t, "42", records[1][0])
	assert.Equal(t, `Oats "Old Fashioned", 42oz`, records[1][2])
}

func TestCSVWriterHeaderFlushedOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	writer, err := NewCSVWriter(path)
	require.NoError(t, err)
	defer writer.Close()

	// Readable before Close: the header is already on disk.
	records := readCSV(t, path)
	require.Len(t, records, 1)
	assert.Equal(t, "item_id", records[0][0])
}

func TestDualWriterWrite(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "rows.csv")
	jsonPath := filepath.Join(dir, "rows.jsonl")

	writer, err := NewDualWriter(csvPath, jsonPath)
	require.NoError(t, err)

	row := &models.OutputRow{Item: models.Item{ItemID: "1", Name: "Test"}}
	require.NoError(t, writer.Write([]*models.OutputRow{row}))
	require.NoError(t, writer.Close())
	require.NoError(t, writer.Validate())

	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"item_id":"1"`)
	assert.Len(t, readCSV(t, csvPath), 2)
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}
