package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/lessond/internal/config"
)

// EnvPrefix prefixes policy overrides in the environment.
const EnvPrefix = "LESSOND_POLICY_"

// sections lists top-level policy keys; longer names first so "ab_test"
// is matched before a shorter prefix could split it.
var sections = []string{"ab_test", "similarity", "targets", "tuning", "alerts", "routing", "archival", "capacity"}

// replacedMaps are map-valued keys a file replaces wholesale instead of
// merging into the defaults.
var replacedMaps = []string{"routing", "ab_test.traffic_split"}

// Load reads a policy from a YAML file and LESSOND_POLICY_* environment
// variables layered over Default. Only keys absent from both keep their
// defaults, so explicit zeros are honoured. A missing file or empty path
// yields defaults plus environment overrides.
//
// Environment keys follow the YAML layout:
//
//	LESSOND_POLICY_SIMILARITY_THRESHOLD         -> similarity.threshold
//	LESSOND_POLICY_ALERTS_CRITICAL_MIN_RELEVANCE -> alerts.critical.min_relevance
//	LESSOND_POLICY_ROUTING_CRITICAL=eng,product -> routing.critical
func Load(path string) (Policy, error) {
	k, err := defaults()
	if err != nil {
		return Policy{}, err
	}

	if path != "" {
		content, err := config.ReadLimited(path, false)
		switch {
		case err == nil:
			file := koanf.New(".")
			if err := file.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return Policy{}, fmt.Errorf("parsing policy file %s: %w", path, err)
			}
			for _, key := range replacedMaps {
				if file.Exists(key) {
					k.Delete(key)
				}
			}
			if err := k.Merge(file); err != nil {
				return Policy{}, fmt.Errorf("merging policy file %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return Policy{}, fmt.Errorf("reading policy file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Policy{}, fmt.Errorf("loading policy environment: %w", err)
	}

	var p Policy
	if err := k.Unmarshal("", &p); err != nil {
		return Policy{}, fmt.Errorf("decoding policy: %w", err)
	}

	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// defaults seeds a koanf instance with Default in its YAML form.
func defaults() (*koanf.Koanf, error) {
	data, err := yamlv3.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("marshaling default policy: %w", err)
	}
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading default policy: %w", err)
	}
	return k, nil
}

func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, section := range sections {
		rest, ok := strings.CutPrefix(key, section+"_")
		if !ok {
			continue
		}
		if section == "alerts" {
			if severity, field, ok := strings.Cut(rest, "_"); ok {
				return section + "." + severity + "." + field
			}
		}
		return section + "." + rest
	}
	return key
}

// Save writes p as YAML, atomically, with owner-only permissions.
func Save(path string, p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	data, err := yamlv3.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling policy: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating policy directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("writing policy: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming policy: %w", err)
	}
	return nil
}
