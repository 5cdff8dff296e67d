package exporter

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data = bytes.TrimPrefix(data, utf8BOM)
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return records
}

func TestCSVWriter_WriteCSV(t *testing.T) {
	dir := t.TempDir()
	writer := NewCSVWriter(dir, nil)

	tests := []struct {
		name    string
		file    string
		options WriteOptions
		want    [][]string
		bom     bool
	}{
		{
			name: "headers and records with BOM",
			file: "simple.csv",
			options: WriteOptions{
				Headers:   []string{"Name", "Amount"},
				Records:   [][]string{{"Alice", "10.00"}, {"Bob, Jr.", "5.00"}},
				BOMPrefix: true,
			},
			want: [][]string{{"Name", "Amount"}, {"Alice", "10.00"}, {"Bob, Jr.", "5.00"}},
			bom:  true,
		},
		{
			name:    "nested directory",
			file:    filepath.Join("nested", "out.csv"),
			options: WriteOptions{Records: [][]string{{"x"}}},
			want:    [][]string{{"x"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, writer.WriteCSV(tt.file, tt.options))
			path := filepath.Join(dir, tt.file)

			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, tt.bom, bytes.HasPrefix(raw, utf8BOM))
			assert.Equal(t, tt.want, readCSV(t, path))
		})
	}
}

func TestCSVWriter_StreamWriter(t *testing.T) {
	dir := t.TempDir()
	writer := NewCSVWriter(dir, nil)

	stream, err := writer.CreateStreamWriter("stream.csv", []string{"a", "b"})
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.NoError(t, stream.WriteRecord([]string{"1", "2"}))
	}
	require.NoError(t, stream.Close())

	records := readCSV(t, filepath.Join(dir, "stream.csv"))
	assert.Len(t, records, 101)
}

func TestWriteTo(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTo(&buf, WriteOptions{Headers: []string{"h"}, Records: [][]string{{"v"}}}))
	assert.Equal(t, "h\nv\n", buf.String())
	assert.False(t, strings.HasPrefix(buf.String(), string(utf8BOM)))
}
