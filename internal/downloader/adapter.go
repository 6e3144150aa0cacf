package downloader

import (
	"context"

	"github.com/sudoStacks/retreivr/internal/models"
)

// Adapter performs the actual media fetch for a claimed job. Implementations
// typically shell out to an external downloader tool; the engine only cares
// about the final path, optional metadata, and the error.
//
// The context carries best-effort cancellation. An adapter that completes
// after cancellation is a tolerated outcome; the engine finalizes the job as
// canceled rather than treating the result as an error.
type Adapter interface {
	Execute(ctx context.Context, job *models.DownloadJob) (finalPath string, metadata map[string]string, err error)
}

// AdapterFunc adapts a plain function to the Adapter interface.
type AdapterFunc func(ctx context.Context, job *models.DownloadJob) (string, map[string]string, error)

func (f AdapterFunc) Execute(ctx context.Context, job *models.DownloadJob) (string, map[string]string, error) {
	return f(ctx, job)
}
