package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

const (
	tokenKey = "gitlab_personal_token"
	hostKey  = "gitlab_host"

	authFilePerms = 0o600
)

var (
	// ErrAuthFileNotFound is returned when the auth file does not exist.
	ErrAuthFileNotFound = errors.New("auth file not found")

	// ErrAuthFileInvalid is returned when the auth file cannot be parsed.
	ErrAuthFileInvalid = errors.New("invalid auth file")
)

// Auth is the content of an auth file.
type Auth struct {
	Token string
	Host  string
}

type authFormat int

const (
	formatJSON authFormat = iota
	formatTOML
	formatYAML
)

// formatOf picks the encoding from the file extension; anything other
// than .toml, .yaml or .yml is JSON, which may carry comments and
// trailing commas.
func formatOf(path string) authFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return formatTOML
	case ".yaml", ".yml":
		return formatYAML
	default:
		return formatJSON
	}
}

// LoadAuth reads the token and host from an auth file. Missing keys are
// left empty.
func LoadAuth(path string) (Auth, error) {
	data, err := readAuthFile(path)
	if err != nil {
		return Auth{}, err
	}

	var auth Auth
	if s, ok := data[tokenKey].(string); ok {
		auth.Token = s
	}
	if s, ok := data[hostKey].(string); ok {
		auth.Host = s
	}
	return auth, nil
}

// SaveAuth writes the token and host into an auth file, keeping any other
// keys already present. The file is replaced atomically and readable only
// by its owner.
func SaveAuth(path string, auth Auth) error {
	data, err := readAuthFile(path)
	if errors.Is(err, ErrAuthFileNotFound) {
		data = make(map[string]any)
	} else if err != nil {
		return err
	}

	data[tokenKey] = auth.Token
	data[hostKey] = auth.Host

	content, err := encodeAuth(formatOf(path), data)
	if err != nil {
		return fmt.Errorf("failed to encode auth file: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	if err := atomic.WriteFile(path, bytes.NewReader(content)); err != nil {
		return fmt.Errorf("failed to write auth file: %w", err)
	}

	// atomic.WriteFile doesn't set permissions for new files
	if err := os.Chmod(path, authFilePerms); err != nil {
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	return nil
}

func readAuthFile(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrAuthFileNotFound, path)
		}
		return nil, fmt.Errorf("failed to read auth file: %w", err)
	}

	data, err := decodeAuth(formatOf(path), raw)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrAuthFileInvalid, path, err)
	}
	if data == nil {
		data = make(map[string]any)
	}
	return data, nil
}

func decodeAuth(format authFormat, raw []byte) (map[string]any, error) {
	var data map[string]any

	switch format {
	case formatTOML:
		if err := toml.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("invalid TOML: %w", err)
		}
	case formatYAML:
		if err := yaml.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
	default:
		if len(bytes.TrimSpace(raw)) == 0 {
			return nil, nil
		}
		standardized, err := hujson.Standardize(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid JSONC: %w", err)
		}
		if err := json.Unmarshal(standardized, &data); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	}
	return data, nil
}

func encodeAuth(format authFormat, data map[string]any) ([]byte, error) {
	switch format {
	case formatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(data); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case formatYAML:
		return yaml.Marshal(data)
	default:
		out, err := json.MarshalIndent(data, "", "    ")
		if err != nil {
			return nil, err
		}
		return append(out, '\n'), nil
	}
}
