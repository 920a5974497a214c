package importer

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// requiredColumns are the header names a file must carry to be admitted.
var requiredColumns = []string{"sku", "name", "price"}

// ValidateStructure checks that the artifact at path has a header row with
// the required columns and at least one data row. It runs synchronously at
// submission time, before a job is queued, and reads from its own file
// handle so nothing downstream sees a consumed stream.
func ValidateStructure(path string) (bool, string) {
	reader, err := OpenRowReader(path)
	if err != nil {
		if errors.Is(err, ErrNoHeader) {
			return false, "Empty file"
		}
		return false, fmt.Sprintf("File read error: %v", err)
	}
	defer reader.Close()

	present := make(map[string]bool)
	for _, h := range reader.Headers() {
		present[h] = true
	}

	var missing []string
	for _, col := range requiredColumns {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return false, "Missing columns: " + strings.Join(missing, ", ")
	}

	if _, err := reader.Next(); err != nil {
		if err == io.EOF {
			return false, "No data rows found"
		}
		return false, fmt.Sprintf("File read error: %v", err)
	}

	return true, "Valid structure"
}
