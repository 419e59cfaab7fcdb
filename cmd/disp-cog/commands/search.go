package commands

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"go.ngs.io/disp-cog/internal/adapter/remote"
)

type searchHit struct {
	GranuleUR string `json:"granule_ur"`
	ConceptID string `json:"concept_id"`
	AccessURL string `json:"access_url,omitempty"`
}

func newSearchCmd(g *globalFlags) *cobra.Command {
	var q remote.Query
	cmd := &cobra.Command{
		Use:   "search",
		Short: "List catalog granules and their access URLs",
		Long: `Search queries the CMR catalog and prints one JSON line per granule,
in catalog order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.load(cmd)
			if err != nil {
				return err
			}
			q.GranuleUR = strings.TrimSpace(q.GranuleUR)
			q.ShortName = strings.TrimSpace(q.ShortName)
			if q.ShortName == "" && q.GranuleUR == "" {
				q.ShortName = cfg.Earthdata.ShortName
			}
			q.Temporal = strings.ReplaceAll(q.Temporal, " ", "")
			q.BoundingBox = strings.ReplaceAll(q.BoundingBox, " ", "")

			client := remote.NewCMRClient(cfg.Earthdata.CMRURL, cfg.Earthdata.Token, log)
			granules, err := client.Search(cmd.Context(), q)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, gr := range granules {
				hit := searchHit{GranuleUR: gr.GranuleUR, ConceptID: gr.ConceptID}
				if u, err := client.AccessURL(gr); err == nil {
					hit.AccessURL = u
				} else {
					log.WithError(err).WithField("granule_ur", gr.GranuleUR).Warn("granule has no data link")
				}
				if err := enc.Encode(hit); err != nil {
					return err
				}
			}
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&q.ShortName, "short-name", "", "Collection short name (default from config)")
	fl.StringVar(&q.GranuleUR, "granule-ur", "", "Return only this granule")
	fl.StringVar(&q.Temporal, "temporal", "", "Time range \"start,end\" (RFC 3339)")
	fl.StringVar(&q.BoundingBox, "bbox", "", "Search box \"minlon,minlat,maxlon,maxlat\"")
	fl.IntVar(&q.Limit, "limit", 10, "Maximum number of granules")
	return cmd
}
