package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ashureev/studia/internal/domain"
	"github.com/tidwall/jsonc"
)

type curriculumFile struct {
	Topics []domain.Topic `json:"topics"`
}

// LoadCurriculum reads the topic taxonomy from a JSONC file shaped as
// {"topics": [...]}. A missing file yields an empty curriculum.
func LoadCurriculum(path string) ([]domain.Topic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.Topic{}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	topics, err := ParseCurriculum(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return topics, nil
}

// ParseCurriculum decodes a curriculum document and rejects duplicate or
// empty topic IDs.
func ParseCurriculum(data []byte) ([]domain.Topic, error) {
	var file curriculumFile
	if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
		return nil, fmt.Errorf("parsing curriculum: %w", err)
	}

	seen := make(map[string]bool, len(file.Topics))
	for i, t := range file.Topics {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			return nil, fmt.Errorf("topic %d has no id", i)
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate topic id %q", id)
		}
		seen[id] = true
		file.Topics[i].ID = id
	}
	if file.Topics == nil {
		file.Topics = []domain.Topic{}
	}
	return file.Topics, nil
}
