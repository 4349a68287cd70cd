package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/acoustic-content-samples/wchtools-go/internal/artifact"
)

// Service exposes the per-type authoring collection operations. The same
// implementation serves every artifact type; behavior differences are driven
// by the descriptor (append-only renditions, search classification).
type Service struct {
	client *Client
	desc   artifact.Descriptor
	logger *slog.Logger
}

// NewService creates a service for one artifact type.
func NewService(client *Client, desc artifact.Descriptor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{client: client, desc: desc, logger: logger}
}

// Descriptor returns the artifact descriptor the service was built with.
func (s *Service) Descriptor() artifact.Descriptor { return s.desc }

// itemsEnvelope mirrors the hub's collection response.
type itemsEnvelope struct {
	Items  []artifact.Item `json:"items"`
	Offset int             `json:"offset"`
	Limit  int             `json:"limit"`
}

// Items returns one page of the collection, ordered by creation time
// ascending so items appended during a paged walk do not invalidate the
// cursor.
func (s *Service) Items(ctx context.Context, offset, limit int) ([]artifact.Item, error) {
	q := url.Values{}
	q.Set("offset", fmt.Sprint(offset))
	q.Set("limit", fmt.Sprint(limit))
	q.Set("sortBy", "created")

	return s.fetchItems(ctx, s.desc.APIPath+"?"+q.Encode())
}

// ModifiedItems returns one page of items modified on the server since the
// given instant.
func (s *Service) ModifiedItems(ctx context.Context, since time.Time, offset, limit int) ([]artifact.Item, error) {
	q := url.Values{}
	q.Set("offset", fmt.Sprint(offset))
	q.Set("limit", fmt.Sprint(limit))
	q.Set("sortBy", "created")

	if !since.IsZero() {
		q.Set("lastModifiedSince", since.UTC().Format(time.RFC3339))
	}

	return s.fetchItems(ctx, s.desc.APIPath+"?"+q.Encode())
}

// Item retrieves a single artifact by id.
func (s *Service) Item(ctx context.Context, id string) (artifact.Item, error) {
	return s.fetchItem(ctx, s.desc.APIPath+"/"+url.PathEscape(id))
}

// ItemByPath retrieves a single artifact by its virtual path. Not every
// collection supports this; the assets helper falls back to a paged scan.
func (s *Service) ItemByPath(ctx context.Context, path string) (artifact.Item, error) {
	q := url.Values{}
	q.Set("path", path)

	return s.fetchItem(ctx, s.desc.APIPath+"/by-path?"+q.Encode())
}

// Create stores a new artifact and returns the server's version of it.
func (s *Service) Create(ctx context.Context, item artifact.Item) (artifact.Item, error) {
	return s.send(ctx, http.MethodPost, s.desc.APIPath, item)
}

// Update replaces an existing artifact. Callers choose Create vs Update by
// the presence of id and rev; append-only collections alias update to
// create.
func (s *Service) Update(ctx context.Context, item artifact.Item) (artifact.Item, error) {
	if s.desc.UpdateIsCreate {
		return s.Create(ctx, item)
	}

	id := item.ID()
	if id == "" {
		return s.Create(ctx, item)
	}

	q := url.Values{}
	q.Set("forceOverride", "true")

	return s.send(ctx, http.MethodPut, s.desc.APIPath+"/"+url.PathEscape(id)+"?"+q.Encode(), item)
}

// Delete removes an artifact. Append-only collections reject the call.
func (s *Service) Delete(ctx context.Context, item artifact.Item) error {
	if s.desc.NoDelete {
		return ErrDeleteNotSupported
	}

	id := item.ID()
	if id == "" {
		return fmt.Errorf("hub: deleting %s item without id: %w", s.desc.ServiceName, ErrBadRequest)
	}

	resp, err := s.client.Do(ctx, http.MethodDelete, s.desc.APIPath+"/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 204 No Content — drain to reuse the connection.
	if _, copyErr := io.Copy(io.Discard, resp.Body); copyErr != nil {
		return fmt.Errorf("hub: draining delete response: %w", copyErr)
	}

	return nil
}

// fetchItems GETs a collection page and decodes the envelope.
func (s *Service) fetchItems(ctx context.Context, apiPath string) ([]artifact.Item, error) {
	resp, err := s.client.Do(ctx, http.MethodGet, apiPath, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env itemsEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("hub: decoding %s page: %w", s.desc.ServiceName, err)
	}

	s.logger.Debug("fetched page",
		slog.String("service", s.desc.ServiceName),
		slog.Int("count", len(env.Items)),
	)

	return env.Items, nil
}

// fetchItem GETs a single artifact document.
func (s *Service) fetchItem(ctx context.Context, apiPath string) (artifact.Item, error) {
	resp, err := s.client.Do(ctx, http.MethodGet, apiPath, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var item artifact.Item
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, fmt.Errorf("hub: decoding %s item: %w", s.desc.ServiceName, err)
	}

	return item, nil
}

// send POSTs or PUTs an artifact document and decodes the server's copy.
func (s *Service) send(ctx context.Context, method, apiPath string, item artifact.Item) (artifact.Item, error) {
	body, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("hub: marshaling %s item: %w", s.desc.ServiceName, err)
	}

	resp, err := s.client.Do(ctx, method, apiPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out artifact.Item
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("hub: decoding %s response: %w", s.desc.ServiceName, err)
	}

	return out, nil
}
