// Package main writes synthetic DISP-S1 granules for local runs of disp-cog.
package main

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"go.ngs.io/disp-cog/internal/fixture"
)

func main() {
	outDir := flag.String("out", "./data/granules", "Output directory for NetCDF files")
	width := flag.Int("width", fixture.Default.Width, "Grid width in cells")
	height := flag.Int("height", fixture.Default.Height, "Grid height in cells")
	res := flag.Float64("resolution", fixture.Default.Res, "Cell size in metres")
	x0 := flag.Float64("x0", fixture.Default.X0, "Easting of the top-left cell centre")
	y0 := flag.Float64("y0", fixture.Default.Y0, "Northing of the top-left cell centre")
	withTime := flag.Bool("time", false, "Add a leading time dimension")
	flag.Parse()

	log := logrus.New()
	g := fixture.Granule{
		Width: *width, Height: *height,
		X0: *x0, Y0: *y0, Res: *res,
		CRS:  fixture.UTM11N,
		Time: *withTime,
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.WithError(err).Fatal("failed to create output directory")
	}

	disp := filepath.Join(*outDir, "disp_fixture.nc")
	if err := fixture.WriteDISP(disp, g); err != nil {
		log.WithError(err).Fatal("failed to write displacement granule")
	}
	water := filepath.Join(*outDir, "water_mask_fixture.nc")
	if err := fixture.WriteWaterMask(water, g); err != nil {
		log.WithError(err).Fatal("failed to write water mask granule")
	}

	log.WithFields(logrus.Fields{
		"displacement": disp,
		"water_mask":   water,
		"width":        g.Width,
		"height":       g.Height,
	}).Info("fixture granules written")
}
