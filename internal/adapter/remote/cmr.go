package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultCMRURL is the Earthdata Common Metadata Repository.
	DefaultCMRURL = "https://cmr.earthdata.nasa.gov"
	// DefaultCredentialsEndpoint issues temporary S3 credentials for ASF buckets.
	DefaultCredentialsEndpoint = "https://cumulus.asf.alaska.edu/s3credentials"
	// DefaultShortName is the OPERA displacement collection.
	DefaultShortName = "OPERA_L3_DISP-S1_V1"
)

// ErrNoGranules is returned when a search matches nothing.
var ErrNoGranules = errors.New("no granules found")

// Query selects granules by collection short name, or a single granule by UR.
type Query struct {
	ShortName   string
	GranuleUR   string
	Temporal    string // "start,end" in RFC 3339
	BoundingBox string // "minlon,minlat,maxlon,maxlat"
	Limit       int
}

// Validate checks that the query names a collection or a granule.
func (q Query) Validate() error {
	if q.ShortName == "" && q.GranuleUR == "" {
		return errors.New("a short name or granule UR is required")
	}
	if q.Limit < 0 {
		return fmt.Errorf("limit must not be negative, got %d", q.Limit)
	}
	return nil
}

// RelatedURL is one access link of a granule.
type RelatedURL struct {
	URL     string `json:"URL"`
	Type    string `json:"Type"`
	Subtype string `json:"Subtype,omitempty"`
}

// Granule is a catalog search hit.
type Granule struct {
	ConceptID   string       `json:"concept_id"`
	GranuleUR   string       `json:"granule_ur"`
	RelatedURLs []RelatedURL `json:"related_urls"`
}

// Credentials are temporary AWS keys for direct S3 access.
type Credentials struct {
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
	SessionToken    string `json:"sessionToken"`
	Expiration      string `json:"expiration"`
}

// CMRClient searches the catalog and fetches S3 credentials.
type CMRClient struct {
	BaseURL string
	Token   string // Earthdata bearer token
	HTTP    *http.Client
	Log     logrus.FieldLogger
	// Backoff builds the retry policy for each call.
	Backoff func() backoff.BackOff
}

// NewCMRClient returns a client against baseURL (DefaultCMRURL when empty).
func NewCMRClient(baseURL, token string, log logrus.FieldLogger) *CMRClient {
	if baseURL == "" {
		baseURL = DefaultCMRURL
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CMRClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 60 * time.Second},
		Log:     log,
		Backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 2 * time.Minute
			return b
		},
	}
}

type ummResponse struct {
	Items []struct {
		Meta struct {
			ConceptID string `json:"concept-id"`
		} `json:"meta"`
		UMM struct {
			GranuleUR   string       `json:"GranuleUR"`
			RelatedURLs []RelatedURL `json:"RelatedUrls"`
		} `json:"umm"`
	} `json:"items"`
}

// Search runs a UMM-JSON granule search. When GranuleUR is set only that
// granule is returned.
func (c *CMRClient) Search(ctx context.Context, q Query) ([]Granule, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	params := url.Values{}
	if q.ShortName != "" {
		params.Set("short_name", q.ShortName)
	}
	if q.GranuleUR != "" {
		params.Set("granule_ur", q.GranuleUR)
	}
	if q.Temporal != "" {
		params.Set("temporal", q.Temporal)
	}
	if q.BoundingBox != "" {
		params.Set("bounding_box", q.BoundingBox)
	}
	limit := q.Limit
	if limit == 0 {
		limit = 10
	}
	params.Set("page_size", strconv.Itoa(limit))

	var resp ummResponse
	endpoint := c.BaseURL + "/search/granules.umm_json?" + params.Encode()
	if err := c.getJSON(ctx, endpoint, c.Token, &resp); err != nil {
		return nil, fmt.Errorf("failed to search granules: %w", err)
	}

	out := make([]Granule, 0, len(resp.Items))
	for _, it := range resp.Items {
		if q.GranuleUR != "" && it.UMM.GranuleUR != q.GranuleUR {
			continue
		}
		out = append(out, Granule{ConceptID: it.Meta.ConceptID, GranuleUR: it.UMM.GranuleUR, RelatedURLs: it.UMM.RelatedURLs})
	}
	if len(out) == 0 {
		if q.GranuleUR != "" {
			return nil, fmt.Errorf("granule UR %q: %w", q.GranuleUR, ErrNoGranules)
		}
		return nil, ErrNoGranules
	}
	c.Log.WithFields(logrus.Fields{"count": len(out), "short_name": q.ShortName}).Info("granule search complete")
	return out, nil
}

// AccessURL picks the granule's direct S3 link, falling back to HTTPS.
func (c *CMRClient) AccessURL(g Granule) (string, error) {
	var anyS3, https string
	for _, u := range g.RelatedURLs {
		switch {
		case strings.HasPrefix(u.URL, "s3://") && u.Type == "GET DATA VIA DIRECT ACCESS":
			return u.URL, nil
		case strings.HasPrefix(u.URL, "s3://") && anyS3 == "":
			anyS3 = u.URL
		case strings.HasPrefix(u.URL, "https://") && u.Type == "GET DATA" && https == "":
			https = u.URL
		}
	}
	if anyS3 != "" {
		return anyS3, nil
	}
	if https != "" {
		return https, nil
	}
	return "", fmt.Errorf("granule %s has no s3:// or HTTPS data link", g.GranuleUR)
}

// Credentials fetches temporary S3 keys from endpoint
// (DefaultCredentialsEndpoint when empty).
func (c *CMRClient) Credentials(ctx context.Context, endpoint string) (Credentials, error) {
	if endpoint == "" {
		endpoint = DefaultCredentialsEndpoint
	}
	var creds Credentials
	if err := c.getJSON(ctx, endpoint, c.Token, &creds); err != nil {
		return Credentials{}, fmt.Errorf("failed to fetch S3 credentials: %w", err)
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return Credentials{}, errors.New("credentials response is missing keys")
	}
	return creds, nil
}

// getJSON GETs endpoint and decodes the body into out, retrying transport
// errors and 5xx/429 responses.
func (c *CMRClient) getJSON(ctx context.Context, endpoint, token string, out any) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := c.HTTP.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			err := fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, redact(endpoint), strings.TrimSpace(string(body)))
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return err
			}
			return backoff.Permanent(err)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	}
	return backoff.RetryNotify(op, backoff.WithContext(c.Backoff(), ctx), func(err error, d time.Duration) {
		c.Log.WithError(err).Warnf("request failed, retrying in %v", d)
	})
}

// redact drops the query string from URLs in error messages.
func redact(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}
