package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
)

// FetchProject fetches a single project by full path.
// A project the service does not know is reported as KindScopeNotFound.
func FetchProject(ctx context.Context, exec Executor, fullPath string) (*ProjectNode, error) {
	var out struct {
		Project *ProjectNode `json:"project"`
	}
	err := exec.Execute(ctx, ProjectQuery, map[string]any{"project": fullPath}, func(data json.RawMessage) error {
		if err := json.Unmarshal(data, &out); err != nil {
			return err
		}
		if out.Project == nil {
			return NewError(KindScopeNotFound, "", fmt.Errorf("project %q not found", fullPath))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.Project, nil
}

// FetchEnvironment fetches a single environment of a project by name.
func FetchEnvironment(ctx context.Context, exec Executor, fullPath, name string) (*EnvironmentNode, error) {
	var out struct {
		Project *struct {
			Environment *EnvironmentNode `json:"environment"`
		} `json:"project"`
	}
	vars := map[string]any{"project": fullPath, "environment": name}
	err := exec.Execute(ctx, EnvironmentQuery, vars, func(data json.RawMessage) error {
		if err := json.Unmarshal(data, &out); err != nil {
			return err
		}
		if out.Project == nil {
			return NewError(KindScopeNotFound, "", fmt.Errorf("project %q not found", fullPath))
		}
		if out.Project.Environment == nil {
			return NewError(KindScopeNotFound, "", fmt.Errorf("environment %q not found in %s", name, fullPath))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.Project.Environment, nil
}
