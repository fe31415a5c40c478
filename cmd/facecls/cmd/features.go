package cmd

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/facecls/internal/config"
	"github.com/MeKo-Tech/facecls/internal/service"
	"github.com/MeKo-Tech/facecls/internal/utils"
)

type imageFeatures struct {
	File  string                 `json:"file"`
	Faces []service.FaceFeatures `json:"faces"`
}

// featuresCmd represents the features command.
var featuresCmd = &cobra.Command{
	Use:   "features [images...]",
	Short: "Print the feature vectors of the faces in images",
	Long: `Locate the qualifying faces in each image and print the feature vector
the classifier would see: the 32x32 color thumbnail followed by the 32x32
wavelet detail image.

Examples:
  facecls features photo.jpg
  facecls features a.jpg b.png --format csv --output vectors.csv`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		svc, loader, err := openService(cfg)
		if err != nil {
			return fmt.Errorf("failed to load artifacts: %w", err)
		}
		defer func() { _ = loader.Close() }()

		all := make([]imageFeatures, 0, len(args))
		for _, path := range args {
			img, _, err := utils.LoadImage(path)
			if err != nil {
				return err
			}
			faces, err := svc.Features(img)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			all = append(all, imageFeatures{File: path, Faces: faces})
		}

		out, closeOut, err := outputWriter(cmd)
		if err != nil {
			return err
		}
		defer closeOut()

		switch format := outputFormat(cmd, cfg.Output.Format); format {
		case config.FormatJSON:
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(all)
		case config.FormatCSV:
			return writeFeaturesCSV(out, all)
		default:
			return fmt.Errorf("unsupported output format for features: %s", format)
		}
	},
}

// writeFeaturesCSV writes one row per face: file, face index, box, vector.
func writeFeaturesCSV(w io.Writer, all []imageFeatures) error {
	cw := csv.NewWriter(w)
	width := 0
	for _, im := range all {
		for _, f := range im.Faces {
			width = max(width, len(f.Vector))
		}
	}
	if width == 0 {
		return errors.New("no qualifying faces found")
	}

	header := []string{"file", "face_index", "x", "y", "width", "height"}
	for i := range width {
		header = append(header, "f"+strconv.Itoa(i))
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, im := range all {
		for j, f := range im.Faces {
			row := make([]string, 0, len(header))
			row = append(row, im.File, strconv.Itoa(j),
				strconv.Itoa(f.Box.X), strconv.Itoa(f.Box.Y), strconv.Itoa(f.Box.Width), strconv.Itoa(f.Box.Height))
			for _, v := range f.Vector {
				row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func init() {
	rootCmd.AddCommand(featuresCmd)
	featuresCmd.Flags().StringP("format", "f", "json", "output format (json, csv)")
	featuresCmd.Flags().StringP("output", "o", "", "write vectors to a file instead of stdout")
}
