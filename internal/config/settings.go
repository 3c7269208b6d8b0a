package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Endpoint is one side of the migration.
type Endpoint struct {
	Organization string
	Project      string
	PAT          string
}

// String renders the endpoint as organization/project.
func (e Endpoint) String() string {
	return strings.TrimSuffix(e.Organization, "/") + "/" + e.Project
}

// Settings is the resolved configuration of a fix-links run.
type Settings struct {
	Source Endpoint
	Target Endpoint

	ReflectedIDField string
	// GitRepoMappings renames source repositories to target names.
	GitRepoMappings map[string]string
	// ChangesetMapping maps TFVC changeset numbers to Git commit ids;
	// inline entries override those from ChangesetMappingFile.
	ChangesetMapping     map[int]string
	ChangesetMappingFile string

	Query   string
	Journal string
	Workers int
}

// Load resolves the settings from the initialized singleton. Map-valued keys
// are read from the config file directly since viper lower-cases map keys
// and repository names are case sensitive.
func Load() (*Settings, error) {
	s := &Settings{
		Source: Endpoint{
			Organization: GetString(KeySourceOrganization),
			Project:      GetString(KeySourceProject),
			PAT:          GetString(KeySourcePAT),
		},
		Target: Endpoint{
			Organization: GetString(KeyTargetOrganization),
			Project:      GetString(KeyTargetProject),
			PAT:          GetString(KeyTargetPAT),
		},
		ReflectedIDField:     GetString(KeyReflectedIDField),
		ChangesetMappingFile: GetString(KeyChangesetMappingFile),
		Query:                GetString(KeyQuery),
		Journal:              GetString(KeyJournal),
		Workers:              GetInt(KeyWorkers),
		GitRepoMappings:      map[string]string{},
		ChangesetMapping:     map[int]string{},
	}
	if s.ReflectedIDField == "" {
		s.ReflectedIDField = DefaultReflectedIDField
	}
	if s.Workers <= 0 {
		s.Workers = DefaultWorkers
	}

	var inline map[int]string
	if path := ConfigFileUsed(); path != "" {
		maps, err := LoadMappings(path)
		if err != nil {
			return nil, err
		}
		if maps.GitRepoMappings != nil {
			s.GitRepoMappings = maps.GitRepoMappings
		}
		inline = maps.ChangesetMapping
		s.ChangesetMappingFile = resolveRelative(path, s.ChangesetMappingFile)
	}

	if s.ChangesetMappingFile != "" {
		fromFile, err := LoadChangesetMappingFile(s.ChangesetMappingFile)
		if err != nil {
			return nil, err
		}
		for k, c := range fromFile {
			s.ChangesetMapping[k] = c
		}
	}
	for k, c := range inline {
		s.ChangesetMapping[k] = c
	}
	return s, nil
}

// Validate reports every missing required key with a hint on how to set it.
func (s *Settings) Validate() error {
	var missing []string
	check := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}
	check(KeySourceOrganization, s.Source.Organization)
	check(KeySourceProject, s.Source.Project)
	check(KeyTargetOrganization, s.Target.Organization)
	check(KeyTargetProject, s.Target.Project)
	check(KeyTargetPAT, s.Target.PAT)
	if len(missing) == 0 {
		return nil
	}

	var b strings.Builder
	for i, key := range missing {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s not configured\nRun: add %q to %s.yaml\nOr: export %s=VALUE",
			key, key, DefaultConfigName, EnvVarName(key))
	}
	return fmt.Errorf("%s", b.String())
}

// EnvVarName returns the environment override of a key.
func EnvVarName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

// RunKey identifies a source/target pair in the journal.
func (s *Settings) RunKey() string {
	return s.Source.String() + " -> " + s.Target.String()
}

// SameProject reports whether source and target use the same project name.
func (s *Settings) SameProject() bool {
	return s.Source.Project == s.Target.Project
}

// Redacted lists the settings with PATs masked, sorted by key, for display.
func (s *Settings) Redacted() [][2]string {
	rows := [][2]string{
		{KeySourceOrganization, s.Source.Organization},
		{KeySourceProject, s.Source.Project},
		{KeySourcePAT, mask(s.Source.PAT)},
		{KeyTargetOrganization, s.Target.Organization},
		{KeyTargetProject, s.Target.Project},
		{KeyTargetPAT, mask(s.Target.PAT)},
		{KeyReflectedIDField, s.ReflectedIDField},
		{KeyGitRepoMappings, fmt.Sprintf("%d entries", len(s.GitRepoMappings))},
		{KeyChangesetMapping, fmt.Sprintf("%d entries", len(s.ChangesetMapping))},
		{KeyQuery, s.Query},
		{KeyJournal, s.Journal},
		{KeyWorkers, fmt.Sprint(s.Workers)},
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })
	return rows
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

// resolveRelative resolves p against the directory of the config file.
func resolveRelative(configPath, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}
