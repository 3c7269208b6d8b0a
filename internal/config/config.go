// Package config loads witm settings from witm.yaml, WITM_* environment
// variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override (WITM_SOURCE_PAT, ...).
const EnvPrefix = "WITM"

// DefaultConfigName is the config file looked up in the working directory
// and in the user config dir.
const DefaultConfigName = "witm"

// Defaults.
const (
	DefaultReflectedIDField = "Custom.ReflectedWorkItemId"
	DefaultJournalPath      = ".witm/journal.db"
	DefaultWorkers          = 1
)

// Config keys.
const (
	KeySourceOrganization   = "source.organization"
	KeySourceProject        = "source.project"
	KeySourcePAT            = "source.pat"
	KeyTargetOrganization   = "target.organization"
	KeyTargetProject        = "target.project"
	KeyTargetPAT            = "target.pat"
	KeyReflectedIDField     = "reflected_id_field"
	KeyGitRepoMappings      = "git_repo_mappings"
	KeyChangesetMapping     = "changeset_mapping"
	KeyChangesetMappingFile = "changeset_mapping_file"
	KeyQuery                = "query"
	KeyJournal              = "journal"
	KeyWorkers              = "workers"
)

var v *viper.Viper

// Initialize sets up the config singleton. configFile may be empty, in which
// case witm.yaml is searched for in the working directory and the user
// config dir; a missing file is not an error.
func Initialize(configFile string) error {
	// Values already in the environment win over .env.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	nv := viper.New()
	nv.SetEnvPrefix(EnvPrefix)
	nv.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	nv.AutomaticEnv()

	nv.SetDefault(KeyReflectedIDField, DefaultReflectedIDField)
	nv.SetDefault(KeyJournal, DefaultJournalPath)
	nv.SetDefault(KeyWorkers, DefaultWorkers)
	nv.SetDefault(KeyQuery, "")
	nv.SetDefault(KeyChangesetMappingFile, "")
	for _, k := range []string{KeySourceOrganization, KeySourceProject, KeySourcePAT,
		KeyTargetOrganization, KeyTargetProject, KeyTargetPAT} {
		nv.SetDefault(k, "")
	}

	if configFile != "" {
		nv.SetConfigFile(configFile)
		if err := nv.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	} else {
		nv.SetConfigName(DefaultConfigName)
		nv.SetConfigType("yaml")
		nv.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			nv.AddConfigPath(filepath.Join(dir, "witm"))
		}
		if err := nv.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	v = nv
	return nil
}

// ResetForTesting drops the singleton.
func ResetForTesting() {
	v = nil
}

// ConfigFileUsed returns the path of the loaded config file, or "".
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// GetString returns a string setting, or "" before Initialize.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetInt returns an integer setting, or 0 before Initialize.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetBool returns a boolean setting, or false before Initialize.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// Set overrides a setting for the rest of the process (flag values).
func Set(key string, value interface{}) {
	if v == nil {
		return
	}
	v.Set(key, value)
}

// AllSettings returns every resolved setting, or an empty map before
// Initialize.
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}
