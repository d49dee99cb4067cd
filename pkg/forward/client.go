// Package forward pushes resources to remote modalities through the
// archive's network transport. Forwards are fire-and-forget with
// respect to remote storage completion, but transport failures are
// surfaced to the caller.
package forward

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/autorthanc/autorthanc/pkg/archive"
)

// Client issues forward requests for resources.
type Client struct {
	archive  archive.Client
	localAET string
	logger   zerolog.Logger
}

// NewClient creates a forward client. localAET is this node's own
// identifying name, attached to each request as the move originator so
// the remote can attribute the transfer.
func NewClient(archiveClient archive.Client, localAET string, logger zerolog.Logger) *Client {
	return &Client{archive: archiveClient, localAET: localAET, logger: logger}
}

// Forward pushes one resource to the named destination modality.
func (c *Client) Forward(ctx context.Context, res archive.Resource, modality string) error {
	c.logger.Info().
		Str("resource", res.ID).
		Str("modality", modality).
		Msg("Forwarding resource")

	return c.archive.Store(ctx, modality, archive.StoreRequest{
		Resources:         []string{res.ID},
		MoveOriginatorAET: c.localAET,
	})
}
