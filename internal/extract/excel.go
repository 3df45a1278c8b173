package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

type excelBook struct {
	text      string
	sheets    int
	truncated bool
}

var cellEscaper = strings.NewReplacer("|", `\|`, "\r\n", " ", "\n", " ", "\r", " ")

// extractExcel renders each non-empty sheet as a "## name" heading followed by a markdown
// table whose first row is the header. Rows past maxRows and columns past maxCols are dropped
// and noted under the table.
func extractExcel(content []byte, maxRows, maxCols int) (*excelBook, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	book := &excelBook{}
	var sections []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		table, truncated := markdownTable(rows, maxRows, maxCols)
		if table == "" {
			continue
		}
		book.sheets++
		book.truncated = book.truncated || truncated
		sections = append(sections, "## "+sheet+"\n\n"+table)
	}
	book.text = strings.Join(sections, "\n\n")
	return book, nil
}

func markdownTable(rows [][]string, maxRows, maxCols int) (string, bool) {
	for len(rows) > 0 && blankRow(rows[len(rows)-1]) {
		rows = rows[:len(rows)-1]
	}
	if len(rows) == 0 {
		return "", false
	}
	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	totalRows, totalCols := len(rows), width
	if maxCols > 0 && width > maxCols {
		width = maxCols
	}
	// The header row does not count against maxRows.
	if maxRows > 0 && len(rows)-1 > maxRows {
		rows = rows[:maxRows+1]
	}

	var b strings.Builder
	writeRow := func(r []string) {
		b.WriteByte('|')
		for i := 0; i < width; i++ {
			cell := ""
			if i < len(r) {
				cell = strings.TrimSpace(cellEscaper.Replace(r[i]))
			}
			b.WriteByte(' ')
			b.WriteString(cell)
			b.WriteString(" |")
		}
		b.WriteByte('\n')
	}
	writeRow(rows[0])
	b.WriteByte('|')
	for i := 0; i < width; i++ {
		b.WriteString(" --- |")
	}
	b.WriteByte('\n')
	for _, r := range rows[1:] {
		writeRow(r)
	}

	truncated := false
	var notes []string
	if shown := len(rows) - 1; shown < totalRows-1 {
		truncated = true
		notes = append(notes, fmt.Sprintf("showing %d of %d rows", shown, totalRows-1))
	}
	if width < totalCols {
		truncated = true
		notes = append(notes, fmt.Sprintf("showing %d of %d columns", width, totalCols))
	}
	out := strings.TrimRight(b.String(), "\n")
	if truncated {
		out += "\n\n_(truncated: " + strings.Join(notes, ", ") + ")_"
	}
	return out, truncated
}

func blankRow(r []string) bool {
	for _, c := range r {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
