package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		filename    string
		contentType string
		want        string
		wantErr     bool
	}{
		{"data.csv", "", FormatCSV, false},
		{"DATA.TSV", "", FormatCSV, false},
		{"book.xlsx", "", FormatXLSX, false},
		{"rows.json", "", FormatJSON, false},
		{"rows.yml", "", FormatYAML, false},
		{"upload", "text/csv; charset=utf-8", FormatCSV, false},
		{"upload", "application/json", FormatJSON, false},
		{"legacy.xls", "", "", true},
		{"report.pdf", "application/pdf", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.filename+"_"+tt.contentType, func(t *testing.T) {
			got, err := DetectFormat(tt.filename, tt.contentType)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDataset_CSV(t *testing.T) {
	data := "\xEF\xBB\xBFname, qty,\nwidget,3,x\ngadget,4\n,,\n"
	ds, err := ParseDataset("items.csv", "", []byte(data))
	require.NoError(t, err)

	assert.Equal(t, FormatCSV, ds.Format)
	assert.Equal(t, []string{"name", "qty", "column_3"}, ds.Columns)
	assert.Equal(t, [][]string{{"widget", "3", "x"}, {"gadget", "4", ""}}, ds.Rows)
}

func TestParseDataset_CSVLatin1Fallback(t *testing.T) {
	// "café" encoded as ISO-8859-1
	data := []byte("city;visits\ncaf\xe9;12\n")
	ds, err := ParseDataset("visits.csv", "", data)
	require.NoError(t, err)

	assert.Equal(t, []string{"city", "visits"}, ds.Columns)
	assert.Equal(t, "café", ds.Rows[0][0])
}

func TestParseDataset_DuplicateHeaders(t *testing.T) {
	ds, err := ParseDataset("d.csv", "", []byte("id,id,id\n1,2,3\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "id_2", "id_3"}, ds.Columns)

	tests := []struct {
		header string
		want   []string
	}{
		{"a,a,a_2", []string{"a", "a_2", "a_2_2"}},
		{"a,a_2,a", []string{"a", "a_2", "a_3"}},
		{"a_2,a,a,a", []string{"a_2", "a", "a_3", "a_4"}},
		{",column_1,", []string{"column_1", "column_1_2", "column_3"}},
	}
	for _, tt := range tests {
		ds, err := ParseDataset("d.csv", "", []byte(tt.header+"\n1,2,3,4\n"))
		require.NoError(t, err, tt.header)
		assert.Equal(t, tt.want, ds.Columns, tt.header)
		seen := map[string]bool{}
		for _, c := range ds.Columns {
			assert.False(t, seen[c], "duplicate column %q for header %q", c, tt.header)
			seen[c] = true
		}
	}
}

func TestParseDataset_JSON(t *testing.T) {
	data := `[{"b": 1.5, "a": "x"}, {"a": null, "c": true, "b": 2}]`
	ds, err := ParseDataset("rows.json", "", []byte(data))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, ds.Columns)
	assert.Equal(t, [][]string{{"x", "1.5", ""}, {"", "2", "true"}}, ds.Rows)

	_, err = ParseDataset("rows.json", "", []byte(`{"a":1}`))
	assert.Error(t, err)
}

func TestParseDataset_YAML(t *testing.T) {
	data := "- region: north\n  amount: 10\n- region: south\n  amount: 12.5\n"
	ds, err := ParseDataset("rows.yaml", "", []byte(data))
	require.NoError(t, err)

	assert.Equal(t, []string{"amount", "region"}, ds.Columns)
	assert.Equal(t, [][]string{{"10", "north"}, {"12.5", "south"}}, ds.Rows)
}

func TestParseDataset_XLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"sku", "price"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"a-1", 9.5}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]any{"a-2", 11}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ds, err := ParseDataset("prices.xlsx", "", buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, ds.Format)
	assert.Equal(t, []string{"sku", "price"}, ds.Columns)
	assert.Equal(t, [][]string{{"a-1", "9.5"}, {"a-2", "11"}}, ds.Rows)
}

func TestParseDataset_Empty(t *testing.T) {
	_, err := ParseDataset("x.csv", "", nil)
	assert.ErrorIs(t, err, ErrEmptyUpload)

	_, err = ParseDataset("x.csv", "", []byte("only,header\n"))
	assert.ErrorIs(t, err, ErrEmptyDataset)
}
