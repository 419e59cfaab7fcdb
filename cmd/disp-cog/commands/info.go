package commands

import (
	"encoding/json"
	"math"

	"github.com/spf13/cobra"

	"go.ngs.io/disp-cog/internal/adapter/raster/geotiff"
)

type levelInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	Tile   int `json:"tile,omitempty"`
}

type fileInfo struct {
	Path           string      `json:"path"`
	CRS            string      `json:"crs"`
	Transform      [6]float64  `json:"transform"`
	BitsPerSample  int         `json:"bits_per_sample"`
	Compression    string      `json:"compression"`
	Predictor      int         `json:"predictor"`
	NoData         any         `json:"nodata,omitempty"`
	BigTIFF        bool        `json:"bigtiff"`
	CloudOptimized bool        `json:"cloud_optimized"`
	Resampling     string      `json:"overview_resampling,omitempty"`
	Description    string      `json:"description,omitempty"`
	Levels         []levelInfo `json:"levels"`
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <file.tif>",
		Short: "Describe the layout of a GeoTIFF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := geotiff.Inspect(args[0])
			if err != nil {
				return err
			}
			out := fileInfo{
				Path:           args[0],
				CRS:            in.Geo.CRS,
				Transform:      in.Geo.Transform.Coefficients(),
				BitsPerSample:  in.BitsPerSample,
				Compression:    in.Compression.String(),
				Predictor:      in.Predictor,
				BigTIFF:        in.BigTIFF,
				CloudOptimized: in.CloudOptimized,
				Resampling:     in.Resampling,
				Description:    in.Description,
			}
			switch {
			case in.HasNoData && math.IsNaN(in.NoData):
				out.NoData = "nan"
			case in.HasNoData:
				out.NoData = in.NoData
			}
			for _, l := range in.Levels {
				out.Levels = append(out.Levels, levelInfo{Width: l.Width, Height: l.Height, Tile: l.TileWidth})
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}
