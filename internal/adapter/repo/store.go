// Package repo implements the domain repositories on Postgres through the
// marked inline queries in sqlinline.
package repo

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"shortgen/internal/domain"
	"shortgen/internal/infra"
)

// NewStore wires every Postgres repository over a single executor.
func NewStore(sql infra.SQLExecutor) domain.Store {
	return domain.Store{
		Projects:  NewProjectRepository(sql),
		Jobs:      NewJobRepository(sql),
		Artifacts: NewArtifactRepository(sql),
		Events:    NewEventRepository(sql),
	}
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return raw, nil
}

func unmarshalObject(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return out, nil
}

// validID guards uuid columns against ids that can never match.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
