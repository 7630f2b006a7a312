package gitlab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// MinServerVersion is the oldest service version known to accept every
// query in this package.
const MinServerVersion = "v15.5.0"

// ServerVersion returns the version string reported by the service.
func (c *Client) ServerVersion(ctx context.Context) (string, error) {
	var out struct {
		Metadata *struct {
			Version string `json:"version"`
		} `json:"metadata"`
	}
	err := c.Execute(ctx, MetadataQuery, nil, func(data json.RawMessage) error {
		if err := json.Unmarshal(data, &out); err != nil {
			return err
		}
		if out.Metadata == nil {
			return errors.New("metadata is null")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return out.Metadata.Version, nil
}

// CheckServerVersion reports whether version (e.g. "16.5.1-ee") is at least
// MinServerVersion. Unparseable versions are rejected.
func CheckServerVersion(version string) (bool, error) {
	v := version
	if i := strings.IndexByte(v, '-'); i >= 0 {
		v = v[:i]
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return false, fmt.Errorf("unrecognized server version %q", version)
	}
	return semver.Compare(v, MinServerVersion) >= 0, nil
}
