package batch

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/facecls/internal/service"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatText = "text"
)

func formatBatchResults(items []Item, format string) (string, error) {
	switch format {
	case FormatJSON, "":
		return formatJSON(items)
	case FormatCSV:
		return formatCSV(items)
	case FormatText:
		return formatText(items), nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}

func formatJSON(items []Item) (string, error) {
	out := struct {
		Images []Item `json:"images"`
	}{Images: make([]Item, len(items))}

	for i, it := range items {
		if it.Faces == nil && it.err == nil {
			it.Faces = []service.Result{}
		}
		out.Images[i] = it
	}

	bts, err := json.MarshalIndent(out, "", "  ")
	return string(bts), err
}

func formatCSV(items []Item) (string, error) {
	var output strings.Builder
	writer := csv.NewWriter(&output)

	rows := [][]string{{"file", "face_index", "class", "probability", "x", "y", "width", "height", "error"}}
	for _, it := range items {
		if it.err != nil || len(it.Faces) == 0 {
			rows = append(rows, []string{it.File, "", "", "", "", "", "", "", it.Error})
			continue
		}
		for j, f := range it.Faces {
			rows = append(rows, []string{
				it.File,
				strconv.Itoa(j),
				f.Class,
				strconv.FormatFloat(classProbability(f), 'f', 2, 64),
				strconv.Itoa(f.Box.X),
				strconv.Itoa(f.Box.Y),
				strconv.Itoa(f.Box.Width),
				strconv.Itoa(f.Box.Height),
				"",
			})
		}
	}

	if err := writer.WriteAll(rows); err != nil {
		return "", err
	}
	return output.String(), nil
}

func formatText(items []Item) string {
	var output strings.Builder
	for i, it := range items {
		if i > 0 {
			output.WriteString("\n")
		}
		fmt.Fprintf(&output, "# %s\n", it.File)
		switch {
		case it.err != nil:
			fmt.Fprintf(&output, "error: %s\n", it.Error)
		case len(it.Faces) == 0:
			output.WriteString("no faces found\n")
		default:
			for j, f := range it.Faces {
				fmt.Fprintf(&output, "face %d at (%d,%d %dx%d): %s (%.2f%%)\n",
					j, f.Box.X, f.Box.Y, f.Box.Width, f.Box.Height, f.Class, classProbability(f))
			}
		}
	}
	return output.String()
}

// classProbability returns the percentage of the predicted class.
func classProbability(r service.Result) float64 {
	idx, ok := r.ClassDictionary[r.Class]
	if !ok {
		return 0
	}
	indices := make([]int, 0, len(r.ClassDictionary))
	for _, v := range r.ClassDictionary {
		indices = append(indices, v)
	}
	slices.Sort(indices)
	pos, found := slices.BinarySearch(indices, idx)
	if !found || pos >= len(r.ClassProbability) {
		return 0
	}
	return r.ClassProbability[pos]
}
