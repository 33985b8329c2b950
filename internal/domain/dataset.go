package domain

// Dataset is a parsed upload: a header row and string cells, one slice per row.
// Rows shorter than the header are padded with empty cells by the parser.
type Dataset struct {
	Format  string
	Columns []string
	Rows    [][]string
}

func (d *Dataset) Column(i int) []string {
	out := make([]string, len(d.Rows))
	for r, row := range d.Rows {
		if i < len(row) {
			out[r] = row[i]
		}
	}
	return out
}

// Upload is an incoming dataset before it is stored.
type Upload struct {
	ProjectName string
	Filename    string
	ContentType string
	Model       string
	Data        []byte
}
