package blob

import (
	"context"
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Settings selects and configures a blob backend. Loaded from LITHOCORE_*
// environment variables; the S3 backend reads its own variables in s3.go.
type Settings struct {
	Driver Driver `envconfig:"BLOB_DRIVER" default:"fs"`
	FSRoot string `envconfig:"BLOB_FS_ROOT"`
}

// Open builds a blob.Store from the environment.
func Open(ctx context.Context) (Store, error) {
	var s Settings
	if err := envconfig.Process("lithocore", &s); err != nil {
		return nil, fmt.Errorf("load blob settings: %w", err)
	}
	return OpenWith(ctx, s)
}

// OpenWith builds a blob.Store from explicit settings.
func OpenWith(ctx context.Context, s Settings) (Store, error) {
	switch s.Driver {
	case DriverFilesystem:
		return NewFilesystem(s.FSRoot)
	case DriverS3:
		return OpenS3FromEnv(ctx)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", s.Driver)
	}
}
