package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Serve runs the worker loop: announce readiness, then answer embedding
// requests from r on w until r is closed or ctx is canceled. A single model
// instance is owned by this loop; nothing else may touch it.
func Serve(ctx context.Context, r io.Reader, w io.Writer, model Model, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	enc := NewEncoder(w)
	dec := NewDecoder(r)

	hello := Hello{
		Ready:     true,
		Model:     model.Name(),
		Dimension: model.Dimension(),
		PID:       os.Getpid(),
	}
	if err := enc.Encode(hello); err != nil {
		return fmt.Errorf("announce ready: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var req Request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				// Pool closed our stdin: normal shutdown.
				return nil
			}
			return fmt.Errorf("read request: %w", err)
		}

		resp := Response{ID: req.ID, Dimension: model.Dimension()}

		vectors, err := model.Embed(req.Texts)
		if err != nil {
			logger.Warn("embed batch failed", "request_id", req.ID, "err", err)
			resp.Error = err.Error()
		} else {
			resp.Vectors = vectors
		}

		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
}
