package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/acoustic-content-samples/wchtools-go/internal/artifact"
)

// AssetsService extends the generic service with the streamed binary
// operations the assets collection needs: resource upload/download and the
// full-text search used for path-scoped listing.
type AssetsService struct {
	*Service
}

// NewAssetsService creates the assets service.
func NewAssetsService(client *Client, logger *slog.Logger) *AssetsService {
	return &AssetsService{Service: NewService(client, artifact.Assets, logger)}
}

// PushAssetOptions parameterize a streamed asset upload.
type PushAssetOptions struct {
	// IsResource pushes only the binary resource, leaving asset metadata
	// untouched.
	IsResource bool

	// ReplaceResource tells the server to mint a new resource even though
	// the asset metadata item persists (binary content changed).
	ReplaceResource bool

	// ResourceID is the precomputed resource id, when known.
	ResourceID string

	// ResourceMD5 is the base64 MD5 of the binary.
	ResourceMD5 string

	// Path is the asset's virtual root-relative path.
	Path string

	// Length is the binary length in bytes. It is logged with the push; the
	// request body is streamed without a declared length.
	Length int64
}

// PushAsset streams a binary to the hub and returns the server's asset
// metadata (including any reassigned id and rev). The body is read exactly
// once; retry decisions belong to the caller, which must reopen the stream.
func (s *AssetsService) PushAsset(ctx context.Context, o PushAssetOptions, body io.Reader) (artifact.Item, error) {
	q := url.Values{}
	q.Set("path", o.Path)
	q.Set("name", pathBase(o.Path))

	if o.ResourceID != "" {
		q.Set("resourceId", o.ResourceID)
	}

	if o.ResourceMD5 != "" {
		q.Set("md5", o.ResourceMD5)
	}

	if o.ReplaceResource {
		q.Set("replaceContentResource", "true")
	}

	apiPath := s.desc.APIPath
	if o.IsResource {
		apiPath = "/authoring/v1/resources"
	}

	s.logger.Info("pushing asset",
		slog.String("path", o.Path),
		slog.Bool("is_resource", o.IsResource),
		slog.Bool("replace_resource", o.ReplaceResource),
		slog.Int64("length", o.Length),
	)

	resp, err := s.client.DoRaw(ctx, http.MethodPost, apiPath+"?"+q.Encode(), body, "application/octet-stream")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var item artifact.Item
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, fmt.Errorf("hub: decoding asset push response: %w", err)
	}

	return item, nil
}

// PullResource streams the binary of a resource to w. Returns the filename
// from the server's content-disposition (empty when absent) and the number
// of bytes written.
func (s *AssetsService) PullResource(ctx context.Context, resourceID string, w io.Writer) (string, int64, error) {
	s.logger.Info("pulling resource",
		slog.String("resource_id", resourceID),
	)

	resp, err := s.client.Do(ctx, http.MethodGet, "/authoring/v1/resources/"+url.PathEscape(resourceID), nil)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	filename := dispositionFilename(resp.Header.Get("Content-Disposition"))

	n, copyErr := io.Copy(w, resp.Body)
	if copyErr != nil {
		return filename, n, fmt.Errorf("hub: streaming resource %s: %w", resourceID, copyErr)
	}

	return filename, n, nil
}

// ResourceRef is one entry of the resources collection listing.
type ResourceRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// resourcesEnvelope mirrors the resources collection response.
type resourcesEnvelope struct {
	Items []ResourceRef `json:"items"`
}

// Resources returns one page of the resources collection, for the
// standalone resources step of asset flows.
func (s *AssetsService) Resources(ctx context.Context, offset, limit int) ([]ResourceRef, error) {
	q := url.Values{}
	q.Set("offset", fmt.Sprint(offset))
	q.Set("limit", fmt.Sprint(limit))

	resp, err := s.client.Do(ctx, http.MethodGet, "/authoring/v1/resources?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env resourcesEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("hub: decoding resources page: %w", err)
	}

	return env.Items, nil
}

// SearchOptions parameterize the full-text asset search.
type SearchOptions struct {
	// PathPrefix restricts results to assets under the given virtual path.
	PathPrefix string

	// IsManaged filters content assets (true) versus web assets (false);
	// nil applies no sub-kind filter.
	IsManaged *bool

	Offset int
	Limit  int
}

// searchEnvelope mirrors the search service response.
type searchEnvelope struct {
	NumFound  int             `json:"numFound"`
	Documents []artifact.Item `json:"documents"`
}

// Search queries the full-text index for assets. Used by the path-scoped
// list flows because the assets collection has no get-by-path endpoint.
func (s *AssetsService) Search(ctx context.Context, o SearchOptions) ([]artifact.Item, error) {
	q := url.Values{}
	q.Set("q", "*:*")
	q.Add("fq", "classification:(asset)")

	if o.PathPrefix != "" {
		q.Add("fq", "path:("+escapeSearchPath(o.PathPrefix)+"*)")
	}

	if o.IsManaged != nil {
		q.Add("fq", "isManaged:("+strconv.FormatBool(*o.IsManaged)+")")
	}

	q.Set("fl", "*,document")
	q.Set("sort", "lastModified asc")
	q.Set("start", fmt.Sprint(o.Offset))
	q.Set("rows", fmt.Sprint(o.Limit))

	resp, err := s.client.Do(ctx, http.MethodGet, "/authoring/v1/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env searchEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("hub: decoding search response: %w", err)
	}

	s.logger.Debug("search page",
		slog.Int("num_found", env.NumFound),
		slog.Int("count", len(env.Documents)),
	)

	return env.Documents, nil
}

// escapeSearchPath escapes slashes for the search index's path field.
func escapeSearchPath(p string) string {
	p = strings.TrimSuffix(p, "*")

	return strings.ReplaceAll(p, "/", `\/`)
}

// dispositionFilename extracts the filename parameter from a
// Content-Disposition header value, or "".
func dispositionFilename(header string) string {
	if header == "" {
		return ""
	}

	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}

	return params["filename"]
}

// pathBase returns the last segment of a virtual path.
func pathBase(p string) string {
	p = strings.TrimSuffix(p, "/")
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}

	return p
}
