package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestInitializeDefaults(t *testing.T) {
	t.Cleanup(ResetForTesting)
	require.NoError(t, Initialize(""))

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultReflectedIDField, s.ReflectedIDField)
	assert.Equal(t, DefaultJournalPath, s.Journal)
	assert.Equal(t, DefaultWorkers, s.Workers)
	assert.Empty(t, s.GitRepoMappings)
	assert.Empty(t, s.ChangesetMapping)
	assert.Empty(t, ConfigFileUsed())
}

func TestNilSafety(t *testing.T) {
	ResetForTesting()
	assert.Equal(t, "", GetString(KeyQuery))
	assert.Equal(t, 0, GetInt(KeyWorkers))
	assert.False(t, GetBool("anything"))
	assert.Empty(t, AllSettings())
	Set(KeyWorkers, 3)
}

func TestLoadFromFile(t *testing.T) {
	t.Cleanup(ResetForTesting)
	dir := t.TempDir()
	writeFile(t, dir, "changesets.txt", "# exported\n100 abc100\n\n101-abc101\n")
	path := writeFile(t, dir, "witm.yaml", `
source:
  organization: https://tfs.example.com/Old
  project: Legacy
  pat: src-secret
target:
  organization: neworg
  project: Modern
  pat: tgt-secret-1234
reflected_id_field: Custom.Origin
git_repo_mappings:
  WebApp: web-app
  Api: Service.API
changeset_mapping:
  101: override101
  102: inline102
changeset_mapping_file: changesets.txt
query: "[System.State] <> 'Removed'"
workers: 4
`)

	require.NoError(t, Initialize(path))
	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "Legacy", s.Source.Project)
	assert.Equal(t, "tgt-secret-1234", s.Target.PAT)
	assert.Equal(t, "Custom.Origin", s.ReflectedIDField)
	assert.Equal(t, 4, s.Workers)
	assert.Equal(t, "[System.State] <> 'Removed'", s.Query)
	// Keys keep their case.
	assert.Equal(t, map[string]string{"WebApp": "web-app", "Api": "Service.API"}, s.GitRepoMappings)
	assert.Equal(t, map[int]string{100: "abc100", 101: "override101", 102: "inline102"}, s.ChangesetMapping)
	assert.Equal(t, filepath.Join(dir, "changesets.txt"), s.ChangesetMappingFile)
	assert.Equal(t, "https://tfs.example.com/Old/Legacy -> neworg/Modern", s.RunKey())
	assert.False(t, s.SameProject())
	require.NoError(t, s.Validate())
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Cleanup(ResetForTesting)
	t.Setenv("WITM_TARGET_PAT", "from-env")
	t.Setenv("WITM_WORKERS", "8")
	t.Setenv("WITM_SOURCE_PROJECT", "EnvProj")

	require.NoError(t, Initialize(""))
	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", s.Target.PAT)
	assert.Equal(t, 8, s.Workers)
	assert.Equal(t, "EnvProj", s.Source.Project)
}

func TestDotEnv(t *testing.T) {
	t.Cleanup(ResetForTesting)
	t.Cleanup(func() { _ = os.Unsetenv("WITM_TARGET_ORGANIZATION") })
	require.NoError(t, os.WriteFile(".env", []byte("WITM_TARGET_ORGANIZATION=dotenv-org\n"), 0o600))
	t.Cleanup(func() { _ = os.Remove(".env") })

	require.NoError(t, Initialize(""))
	assert.Equal(t, "dotenv-org", GetString(KeyTargetOrganization))
}

func TestInitializeMissingFile(t *testing.T) {
	t.Cleanup(ResetForTesting)
	err := Initialize(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	s := &Settings{Source: Endpoint{Organization: "o", Project: "p"}}
	err := s.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "target.organization not configured")
	assert.Contains(t, msg, "Or: export WITM_TARGET_PAT=VALUE")
	assert.NotContains(t, msg, "source.organization")
	assert.Equal(t, 3, strings.Count(msg, "not configured"))
}

func TestEnvVarName(t *testing.T) {
	assert.Equal(t, "WITM_SOURCE_PAT", EnvVarName(KeySourcePAT))
	assert.Equal(t, "WITM_CHANGESET_MAPPING_FILE", EnvVarName(KeyChangesetMappingFile))
}

func TestRedacted(t *testing.T) {
	s := &Settings{Source: Endpoint{PAT: "abcdefgh"}, Target: Endpoint{PAT: "xy"}}
	rows := s.Redacted()
	values := map[string]string{}
	for _, r := range rows {
		values[r[0]] = r[1]
	}
	assert.Equal(t, "****efgh", values[KeySourcePAT])
	assert.Equal(t, "****", values[KeyTargetPAT])
	for i := 1; i < len(rows); i++ {
		assert.Less(t, rows[i-1][0], rows[i][0])
	}
}

func TestLoadChangesetMappingFile(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		file    string
		content string
		want    map[int]string
		wantErr bool
	}{
		{"text", "map.txt", "1 aaa\n2\tbbb\n# comment\n3-ccc\n", map[int]string{1: "aaa", 2: "bbb", 3: "ccc"}, false},
		{"text bad id", "bad.txt", "x aaa\n", nil, true},
		{"text bad shape", "shape.txt", "1 2 3\n", nil, true},
		{"yaml flat", "flat.yaml", "10: c10\n11: c11\n", map[int]string{10: "c10", 11: "c11"}, false},
		{"yaml wrapped", "wrapped.yml", "changesets:\n  20: c20\n", map[int]string{20: "c20"}, false},
		{"toml", "map.toml", "[changesets]\n30 = \"c30\"\n\"31\" = \"c31\"\n", map[int]string{30: "c30", 31: "c31"}, false},
		{"toml bad key", "bad.toml", "[changesets]\nabc = \"c\"\n", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadChangesetMappingFile(writeFile(t, dir, tt.file, tt.content))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := LoadChangesetMappingFile(filepath.Join(dir, "missing.txt"))
	require.Error(t, err)
}

func TestLoadMappingsTOML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "witm.toml", `
[git_repo_mappings]
Legacy = "Modern"

[changeset_mapping]
"5" = "c5"
`)
	m, err := LoadMappings(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Legacy": "Modern"}, m.GitRepoMappings)
	assert.Equal(t, map[int]string{5: "c5"}, m.ChangesetMapping)
}
