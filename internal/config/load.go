package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of a config file.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatFor picks the format from the file extension. Anything that is not
// .yaml or .yml is treated as JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// LoadEnv loads KEY=VALUE pairs from the given .env files into the process
// environment. Variables already set are kept. A missing file is not an error
// when it is the default ".env".
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if p == ".env" && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env %s: %w", p, err)
		}
	}
	return nil
}

// LoadFile reads, expands and decodes the config at path.
func LoadFile(path string) (Pipeline, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(raw, FormatFor(path))
}

// Parse expands ${VAR} references in raw, decodes it and fills defaults.
//
// JSON decoding rejects unknown fields so typos in rule keys surface early.
func Parse(raw []byte, format Format) (Pipeline, error) {
	expanded := []byte(os.ExpandEnv(string(raw)))

	var p Pipeline
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(expanded, &p); err != nil {
			return Pipeline{}, fmt.Errorf("parse config yaml: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(expanded))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return Pipeline{}, fmt.Errorf("parse config json: %w", err)
		}
	}

	ApplyDefaults(&p)
	return p, nil
}

// Default values filled by ApplyDefaults.
const (
	DefaultJob        = "catalogflat"
	DefaultRetryCount = 3
	DefaultTimeout    = 2 * time.Minute
	DefaultOutputDir  = "out"
	DefaultLogDir     = "logs"
	DefaultEncoding   = "utf-8"
)

// ApplyDefaults fills optional fields left empty by the config file.
func ApplyDefaults(p *Pipeline) {
	if p.Job == "" {
		p.Job = DefaultJob
	}
	if p.Feed.RetryCount <= 0 {
		p.Feed.RetryCount = DefaultRetryCount
	}
	if p.Feed.Timeout.Duration <= 0 {
		p.Feed.Timeout.Duration = DefaultTimeout
	}
	if p.Feed.PageParam != "" && p.Feed.FirstPage == 0 {
		p.Feed.FirstPage = 1
	}
	if p.Output.Dir == "" {
		p.Output.Dir = DefaultOutputDir
	}
	if p.Output.Separator == "" {
		p.Output.Separator = "|"
	}
	if p.Output.Encoding == "" {
		p.Output.Encoding = DefaultEncoding
	}
	if p.Log.Dir == "" {
		p.Log.Dir = DefaultLogDir
	}
	if p.Log.Level == "" {
		p.Log.Level = "info"
	}
	if p.Log.Format == "" {
		p.Log.Format = "console"
	}
	if p.Metrics.Backend == "" {
		p.Metrics.Backend = "none"
	}
	if p.Metrics.FlushEvery.Duration <= 0 {
		p.Metrics.FlushEvery.Duration = time.Minute
	}
}

// PrimaryTable returns the index of the gating table: the first table marked
// Primary, else 0. It returns -1 when there are no tables.
func (p Pipeline) PrimaryTable() int {
	if len(p.Tables) == 0 {
		return -1
	}
	for i, t := range p.Tables {
		if t.Primary {
			return i
		}
	}
	return 0
}
