package config

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Mappings are the map-valued sections of the config file.
type Mappings struct {
	GitRepoMappings  map[string]string `yaml:"git_repo_mappings"`
	ChangesetMapping map[int]string    `yaml:"changeset_mapping"`
}

// LoadMappings reads the map sections of a YAML or TOML config file.
func LoadMappings(path string) (*Mappings, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path from --config or config search
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var m Mappings
	if isTOML(path) {
		var raw struct {
			GitRepoMappings  map[string]string `toml:"git_repo_mappings"`
			ChangesetMapping map[string]string `toml:"changeset_mapping"`
		}
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		m.GitRepoMappings = raw.GitRepoMappings
		if m.ChangesetMapping, err = parseChangesetKeys(raw.ChangesetMapping); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return &m, nil
	}

	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &m, nil
}

// LoadChangesetMappingFile reads a changeset to commit mapping.
//
// .yaml/.yml files hold a map of changeset number to commit id, optionally
// under a "changesets" key. .toml files hold a [changesets] table. Any other
// file is read as lines of "<changeset> <commit>" (a "-" separator is also
// accepted); blank lines and lines starting with # are ignored.
func LoadChangesetMappingFile(path string) (map[int]string, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path from config
	if err != nil {
		return nil, fmt.Errorf("read changeset mapping: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var wrapped struct {
			Changesets map[int]string `yaml:"changesets"`
		}
		if err := yaml.Unmarshal(data, &wrapped); err == nil && len(wrapped.Changesets) > 0 {
			return wrapped.Changesets, nil
		}
		var flat map[int]string
		if err := yaml.Unmarshal(data, &flat); err != nil {
			return nil, fmt.Errorf("parse changeset mapping %s: %w", path, err)
		}
		return nonNil(flat), nil
	case ".toml":
		var doc struct {
			Changesets map[string]string `toml:"changesets"`
		}
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse changeset mapping %s: %w", path, err)
		}
		out, err := parseChangesetKeys(doc.Changesets)
		if err != nil {
			return nil, fmt.Errorf("parse changeset mapping %s: %w", path, err)
		}
		return out, nil
	default:
		out, err := parseChangesetLines(data)
		if err != nil {
			return nil, fmt.Errorf("parse changeset mapping %s: %w", path, err)
		}
		return out, nil
	}
}

func parseChangesetLines(data []byte) (map[int]string, error) {
	out := make(map[int]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 1 {
			fields = strings.SplitN(line, "-", 2)
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: expected \"<changeset> <commit>\"", lineNo)
		}
		id, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("line %d: invalid changeset %q", lineNo, fields[0])
		}
		out[id] = strings.TrimSpace(fields[1])
	}
	return out, scanner.Err()
}

func parseChangesetKeys(in map[string]string) (map[int]string, error) {
	out := make(map[int]string, len(in))
	for k, c := range in {
		id, err := strconv.Atoi(k)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid changeset %q", k)
		}
		out[id] = c
	}
	return out, nil
}

func nonNil(m map[int]string) map[int]string {
	if m == nil {
		return map[int]string{}
	}
	return m
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}
