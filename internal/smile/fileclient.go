package smile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// FileClient serves gateway snapshots from a JSON file on disk. It is the
// reference Client implementation and the development stand-in for a real
// gateway connection: edit the file and the next poll picks up the change.
type FileClient struct {
	path string
}

// NewFileClient creates a client reading snapshots from path.
func NewFileClient(path string) *FileClient {
	return &FileClient{path: path}
}

// Update re-reads the snapshot file.
func (c *FileClient) Update(ctx context.Context) (*GatewayData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("read gateway snapshot: %w", err)
	}
	var data GatewayData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse gateway snapshot %s: %w", c.path, err)
	}
	return &data, nil
}
