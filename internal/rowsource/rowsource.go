package rowsource

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

var ErrUnsupportedFormat = errors.New("unsupported file type")

// Read turns an uploaded sheet into rows of trimmed cells, choosing the
// parser from the file extension. Only the first worksheet is read.
func Read(name string, data []byte) ([][]string, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		rows, err = ReadCSV(bytes.NewReader(data))
	case ".xlsx", ".xlsm":
		rows, err = ReadXLSX(bytes.NewReader(data))
	case ".xls":
		rows, err = ReadXLS(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(name), err)
	}
	return trimTrailingBlank(rows), nil
}

// ReadCSV sniffs ';' and tab delimiters and drops a UTF-8 byte order mark.
func ReadCSV(r io.Reader) ([][]string, error) {
	br := bufio.NewReader(r)
	peek, _ := br.Peek(1024)
	if bytes.HasPrefix(peek, []byte{0xEF, 0xBB, 0xBF}) {
		br.Discard(3)
		peek = peek[3:]
	}
	delimiter := ','
	firstLine := peek
	if i := bytes.IndexByte(peek, '\n'); i >= 0 {
		firstLine = peek[:i]
	}
	if !bytes.Contains(firstLine, []byte(",")) {
		if bytes.Contains(firstLine, []byte(";")) {
			delimiter = ';'
		} else if bytes.Contains(firstLine, []byte("\t")) {
			delimiter = '\t'
		}
	}

	cr := csv.NewReader(br)
	cr.Comma = delimiter
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		trimCells(rec)
	}
	return records, nil
}

func ReadXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		trimCells(row)
	}
	return rows, nil
}

// ReadXLS reads legacy BIFF workbooks.
func ReadXLS(r io.ReadSeeker) ([][]string, error) {
	wb, err := xls.OpenReader(r, "utf-8")
	if err != nil {
		return nil, err
	}
	if wb == nil || wb.NumSheets() == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, errors.New("first sheet could not be read")
	}
	rows := make([][]string, 0, int(sheet.MaxRow)+1)
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		cells := make([]string, 0, row.LastCol())
		for j := row.FirstCol(); j < row.LastCol(); j++ {
			for len(cells) < j {
				cells = append(cells, "")
			}
			cells = append(cells, strings.TrimSpace(row.Col(j)))
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func trimCells(row []string) {
	for i := range row {
		row[i] = strings.TrimSpace(row[i])
	}
}

func blank(row []string) bool {
	for _, c := range row {
		if c != "" {
			return false
		}
	}
	return true
}

// trimTrailingBlank drops blank rows at the end of a sheet. Blank rows in
// the middle stay so row numbers match what the user sees.
func trimTrailingBlank(rows [][]string) [][]string {
	end := len(rows)
	for end > 0 && blank(rows[end-1]) {
		end--
	}
	return rows[:end]
}
