// Package main provides the disp-cog HTTP server.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"go.ngs.io/disp-cog/internal/adapter/raster/cog"
	"go.ngs.io/disp-cog/internal/adapter/remote"
	"go.ngs.io/disp-cog/internal/adapter/store/granule"
	"go.ngs.io/disp-cog/internal/config"
	httpHandler "go.ngs.io/disp-cog/internal/http"
	"go.ngs.io/disp-cog/internal/logging"
	"go.ngs.io/disp-cog/internal/usecase"
)

const version = "0.1.0"

func main() {
	// Parse command-line flags.
	showHelp := flag.Bool("help", false, "Show usage information")
	showVersion := flag.Bool("version", false, "Show version information")
	configPath := flag.String("config", "", "YAML configuration file (default $DISPCOG_CONFIG)")
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}

	if *showVersion {
		fmt.Printf("disp-cog server version %s\n", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure logging: %v\n", err)
		os.Exit(1)
	}
	if log.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	log.WithFields(logrus.Fields{
		"port":     cfg.Server.Port,
		"work_dir": cfg.Server.WorkDir,
		"backends": cfg.Decoder.Backends,
		"driver":   cfg.Writer.PrimaryDriver,
	}).Info("starting disp-cog server")

	if err := os.MkdirAll(cfg.Server.WorkDir, 0o750); err != nil {
		log.WithError(err).Fatal("failed to create work directory")
	}

	// Initialize decoders and writer.
	backends, err := granule.Backends(cfg.Decoder.Backends)
	if err != nil {
		log.WithError(err).Fatal("invalid decoder configuration")
	}
	driver, err := cog.LookupDriver(cfg.Writer.PrimaryDriver)
	if err != nil {
		log.WithError(err).Fatal("invalid writer configuration")
	}
	if driver == nil {
		log.Warn("primary COG driver disabled, every write uses the tiled GeoTIFF fallback")
	}

	// Initialize use case.
	catalog := remote.NewCMRClient(cfg.Earthdata.CMRURL, cfg.Earthdata.Token, log)
	extractUC := usecase.NewExtractUseCase(catalog, granule.NewOpener(backends, log), cog.NewWriter(driver, log), log)
	extractUC.CredentialsEndpoint = cfg.Earthdata.S3CredentialsEndpoint
	extractUC.Remote = remote.Options{
		Region:  cfg.Earthdata.Region,
		Token:   cfg.Earthdata.Token,
		TempDir: cfg.Server.WorkDir,
	}

	// Setup router.
	handler := httpHandler.NewHandler(extractUC, httpHandler.Options{
		WorkDir: cfg.Server.WorkDir,
		Timeout: cfg.Server.RequestTimeout,
		Defaults: usecase.Defaults{
			ShortName:          cfg.Earthdata.ShortName,
			CoherenceThreshold: cfg.Mask.CoherenceThreshold,
			TileSize:           cfg.Writer.TileSize,
			Compression:        cfg.Writer.Compression,
			OverviewResampling: cfg.Writer.OverviewResampling,
			BigTIFF:            cfg.Writer.BigTIFF,
		},
	}, log)
	router := httpHandler.SetupRouter(handler, cfg.Server.AllowedOrigins())

	// Start server.
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.WithField("addr", addr).Info("server listening")
	log.Info("endpoints: POST /v1/extractions, GET /v1/extractions/:id, GET /v1/extractions/:id/file, GET /health")

	if err := router.Run(addr); err != nil {
		log.WithError(err).Fatal("failed to start server")
	}
}

// printUsage prints usage information.
func printUsage() {
	fmt.Printf("disp-cog server v%s\n\n", version)
	fmt.Println("USAGE:")
	fmt.Println("  server [flags]")
	fmt.Println()
	fmt.Println("FLAGS:")
	fmt.Println("  -config FILE   YAML configuration file")
	fmt.Println("  -help          Show this help message")
	fmt.Println("  -version       Show version information")
	fmt.Println()
	fmt.Println("ENVIRONMENT VARIABLES:")
	fmt.Println("  DISPCOG_CONFIG                          Configuration file (when -config is unset)")
	fmt.Println("  PORT, DISPCOG_SERVER_PORT               Server port (default: 8080)")
	fmt.Println("  CORS_ALLOWED_ORIGINS                    Comma-separated list of allowed origins (default: all origins)")
	fmt.Println("  DISPCOG_SERVER_WORK_DIR                 Directory for request outputs (default: ./work)")
	fmt.Println("  EARTHDATA_TOKEN                         Earthdata Login bearer token")
	fmt.Println("  DISPCOG_EARTHDATA_S3_CREDENTIALS_ENDPOINT  Temporary S3 credentials endpoint")
	fmt.Println("  DISPCOG_DECODER_BACKENDS                Decoder order, e.g. native,netcdf-c,classic")
	fmt.Println("  DISPCOG_LOG_LEVEL, DISPCOG_LOG_FORMAT   Logging (info, text)")
	fmt.Println()
	fmt.Println("API ENDPOINTS:")
	fmt.Println("  GET  /health                        Health check")
	fmt.Println("  POST /v1/extractions                Run an extraction")
	fmt.Println("  GET  /v1/extractions/:id            Extraction record")
	fmt.Println("  GET  /v1/extractions/:id/file       Download the COG")
	fmt.Println()
}
