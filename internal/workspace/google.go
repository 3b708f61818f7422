package workspace

import (
	"context"
	"fmt"
	"net/http"

	"google.golang.org/api/option"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/models"
)

// HTTPClientFunc returns an HTTP client authorized as cred.
type HTTPClientFunc func(ctx context.Context, cred *models.Credential) (*http.Client, error)

// google holds what every Google-backed adapter needs to build a service.
type google struct {
	client HTTPClientFunc
	// endpoint replaces the service base URL when set.
	endpoint string
}

func (g google) options(ctx context.Context, cred *models.Credential) ([]option.ClientOption, error) {
	if cred == nil {
		return nil, fmt.Errorf("workspace: %w: missing credential", apperr.ErrAuthorization)
	}
	hc, err := g.client(ctx, cred)
	if err != nil {
		return nil, err
	}
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}
	return opts, nil
}
