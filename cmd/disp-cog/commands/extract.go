package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go.ngs.io/disp-cog/internal/adapter/raster/cog"
	"go.ngs.io/disp-cog/internal/adapter/remote"
	"go.ngs.io/disp-cog/internal/adapter/store/granule"
	"go.ngs.io/disp-cog/internal/config"
	"go.ngs.io/disp-cog/internal/usecase"
)

type extractFlags struct {
	params   usecase.ExtractParams
	polygon  string
	link     bool
	linkName string
}

// extractOutput is the status line printed on success.
type extractOutput struct {
	*usecase.ExtractResult
	Link string `json:"link,omitempty"`
}

func newExtractCmd(g *globalFlags) *cobra.Command {
	f := &extractFlags{}
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Mask, subset and write one granule as a COG",
		Long: `Extract reads one DISP-S1 granule, given directly with --s3-url or found
through the CMR catalog, applies the quality masks, clips it to the requested
area and writes a Cloud-Optimized GeoTIFF.

On success a single JSON status line is printed to stdout.`,
		Example: `  # Coherence-masked displacement over Los Angeles
  disp-cog extract --s3-url s3://asf-cumulus-prod-opera-products/OPERA_L3_DISP-S1_V1/granule.nc \
    --bbox=-118.5,33.9,-118.1,34.2 --threshold "temporal_coherence<0.3" --link

  # Water mask of the newest granule in a time range
  disp-cog extract --mode water-mask --temporal 2024-01-01T00:00:00Z,2024-02-01T00:00:00Z --limit 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd, g, f)
		},
	}

	p := &f.params
	fl := cmd.Flags()
	fl.StringVar(&p.Source, "s3-url", "", "Granule URI (s3://, https://) or local path")
	fl.StringVar(&p.GranuleUR, "granule-ur", "", "Search the catalog for this granule UR")
	fl.StringVar(&p.ShortName, "short-name", "", "Catalog collection short name (default from config)")
	fl.StringVar(&p.Temporal, "temporal", "", "Catalog time range \"start,end\" (RFC 3339)")
	fl.StringVar(&p.SearchBBox, "search-bbox", "", "Catalog search box \"minlon,minlat,maxlon,maxlat\"")
	fl.IntVar(&p.Limit, "limit", 1, "Number of catalog results to consider")
	fl.StringVar(&p.Mode, "mode", string(cog.ModeDisplacement), "Output product: displacement or water-mask")
	fl.StringVar(&p.BBox, "bbox", "", "Subset box \"minx,miny,maxx,maxy\"")
	fl.StringVar(&p.BBoxCRS, "bbox-crs", "", "CRS of --bbox (default EPSG:4326)")
	fl.StringVar(&f.polygon, "polygon", "", "GeoJSON polygon file, or inline GeoJSON")
	fl.StringVar(&p.PolygonCRS, "polygon-crs", "", "CRS of --polygon (default EPSG:4326)")
	fl.StringVar(&p.IdxWindow, "idx-window", "", "Index window \"y0:y1,x0:x1\" applied before --bbox")
	fl.StringVar(&p.Threshold, "threshold", "", "Quality rule, e.g. \"temporal_coherence<0.2\"")
	fl.BoolVar(&p.ValidityMask, "validity-mask", false, "Also mask cells where the granule's validity layer is set")
	fl.StringVar(&p.ExternalMask, "external-mask", "", "GeoTIFF whose non-zero cells are masked")
	fl.StringVar(&p.ExternalMaskMethod, "external-mask-method", "", "Resampling for --external-mask (default nearest)")
	fl.IntVar(&p.TileSize, "tile", 0, "Tile size in pixels, a multiple of 16 (default from mode)")
	fl.StringVar(&p.Compression, "compress", "", "Compression: DEFLATE, ZSTD or NONE")
	fl.StringVar(&p.OverviewResampling, "overview-resampling", "", "Overview resampling (default from mode)")
	fl.StringVar(&p.BigTIFF, "bigtiff", "", "BigTIFF: YES, NO or IF_NEEDED")
	fl.StringVar(&p.OutName, "out-name", "", "Output file name (default from mode)")
	fl.StringVar(&p.OutDir, "out-dir", ".", "Output directory")
	fl.BoolVar(&f.link, "link", false, "Point a stable name in --out-dir at the output")
	fl.StringVar(&f.linkName, "link-name", "", "Stable name used by --link (default from mode)")

	cmd.MarkFlagsMutuallyExclusive("s3-url", "granule-ur")
	cmd.MarkFlagsMutuallyExclusive("bbox", "polygon")
	return cmd
}

func runExtract(cmd *cobra.Command, g *globalFlags, f *extractFlags) error {
	cfg, log, err := g.load(cmd)
	if err != nil {
		return err
	}

	if f.polygon != "" {
		poly, err := readPolygon(f.polygon)
		if err != nil {
			return err
		}
		f.params.Polygon = poly
	}
	req, err := f.params.Request(defaultsFrom(cfg))
	if err != nil {
		return fmt.Errorf("%w: %w", usecase.ErrInvalidRequest, err)
	}

	uc, err := buildExtractUseCase(cfg, log)
	if err != nil {
		return err
	}
	res, err := uc.Execute(cmd.Context(), req)
	if err != nil {
		return err
	}

	out := extractOutput{ExtractResult: res}
	if f.link {
		name := f.linkName
		if name == "" {
			name = usecase.DefaultLinkName(req.Mode)
		}
		link, err := linkOutput(res.Outfile, name)
		if err != nil {
			res.Warnings = append(res.Warnings, err.Error())
			log.WithError(err).Warn("could not create stable output name")
		} else {
			out.Link = link
		}
	}
	return json.NewEncoder(cmd.OutOrStdout()).Encode(out)
}

// buildExtractUseCase wires the catalog, decoders and writer from cfg.
func buildExtractUseCase(cfg *config.Config, log logrus.FieldLogger) (*usecase.ExtractUseCase, error) {
	backends, err := granule.Backends(cfg.Decoder.Backends)
	if err != nil {
		return nil, err
	}
	driver, err := cog.LookupDriver(cfg.Writer.PrimaryDriver)
	if err != nil {
		return nil, err
	}

	catalog := remote.NewCMRClient(cfg.Earthdata.CMRURL, cfg.Earthdata.Token, log)
	uc := usecase.NewExtractUseCase(catalog, granule.NewOpener(backends, log), cog.NewWriter(driver, log), log)
	uc.CredentialsEndpoint = cfg.Earthdata.S3CredentialsEndpoint
	uc.Remote = remote.Options{
		Region:  cfg.Earthdata.Region,
		Token:   cfg.Earthdata.Token,
		TempDir: os.TempDir(),
	}
	return uc, nil
}

func defaultsFrom(cfg *config.Config) usecase.Defaults {
	return usecase.Defaults{
		ShortName:          cfg.Earthdata.ShortName,
		CoherenceThreshold: cfg.Mask.CoherenceThreshold,
		TileSize:           cfg.Writer.TileSize,
		Compression:        cfg.Writer.Compression,
		OverviewResampling: cfg.Writer.OverviewResampling,
		BigTIFF:            cfg.Writer.BigTIFF,
	}
}

// readPolygon accepts inline GeoJSON or a path to a GeoJSON file.
func readPolygon(arg string) ([]byte, error) {
	s := strings.TrimSpace(arg)
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		return []byte(s), nil
	}
	data, err := os.ReadFile(s)
	if err != nil {
		return nil, fmt.Errorf("failed to read polygon: %w", err)
	}
	return data, nil
}
