package core

import (
	"context"

	"github.com/autopeer-io/pathrunner/internal/executor/core/model"
)

// Archiver stores the report of a finished execution.
// In pathrunner, this is implemented by the S3 adapter.
type Archiver interface {
	Archive(ctx context.Context, report *model.Report) error
}
