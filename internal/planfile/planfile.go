// Package planfile loads upload plans from YAML files.
//
//	file_path: ./archive.tar
//	chunk_size: 10MiB
//	parts_urls:
//	  - ${PART_1_URL}
//	  - ${PART_2_URL}
//	max_files: 64
//	parallel_failures: 8
//	max_retries: 3
//
// Missing limits fall back to multipart.DefaultLimits.
package planfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bitrise-io/go-multipart-uploader/multipart"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// ByteSize is a size in bytes. In YAML it is either an integer or a human readable size like "5MiB".
type ByteSize int64

// UnmarshalYAML ...
func (s *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*s = ByteSize(n)
		return nil
	}

	var str string
	if err := value.Decode(&str); err != nil {
		return fmt.Errorf("line %d: invalid size", value.Line)
	}
	n, err := units.RAMInBytes(str)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*s = ByteSize(n)
	return nil
}

// File is the content of a plan file.
type File struct {
	FilePath         string   `yaml:"file_path"`
	PartsURLs        []string `yaml:"parts_urls"`
	ChunkSize        ByteSize `yaml:"chunk_size"`
	MaxFiles         *int     `yaml:"max_files"`
	ParallelFailures *int     `yaml:"parallel_failures"`
	MaxRetries       *int     `yaml:"max_retries"`
}

// Load reads the plan file at path, expanding ${VAR} references from envRepo.
// A relative file_path is resolved against the directory of the plan file.
func Load(path string, envRepo env.Repository) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return File{}, fmt.Errorf("plan file not found: %s", path)
		}
		return File{}, fmt.Errorf("cannot read plan file %q: %w", path, err)
	}

	file, err := Parse([]byte(expandEnv(string(data), envRepo)))
	if err != nil {
		return File{}, fmt.Errorf("invalid plan file %s: %w", path, err)
	}

	if file.FilePath != "" && !filepath.IsAbs(file.FilePath) {
		file.FilePath = filepath.Join(filepath.Dir(path), file.FilePath)
	}

	return file, nil
}

// Parse decodes a plan file that has already been expanded.
func Parse(data []byte) (File, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return File{}, err
	}
	if file.FilePath == "" {
		return File{}, errors.New("file_path is required")
	}
	if file.ChunkSize <= 0 {
		return File{}, errors.New("chunk_size must be positive")
	}
	for i, url := range file.PartsURLs {
		if url == "" {
			return File{}, fmt.Errorf("parts_urls[%d] is empty", i)
		}
	}
	return file, nil
}

// Plan converts the file to an upload plan.
func (f File) Plan() multipart.Plan {
	limits := multipart.DefaultLimits()
	if f.MaxFiles != nil {
		limits.MaxConcurrentChunks = *f.MaxFiles
	}
	if f.ParallelFailures != nil {
		limits.MaxConcurrentFailures = *f.ParallelFailures
	}
	if f.MaxRetries != nil {
		limits.MaxRetriesPerChunk = *f.MaxRetries
	}

	return multipart.Plan{
		FilePath:  f.FilePath,
		PartURLs:  f.PartsURLs,
		ChunkSize: int64(f.ChunkSize),
		Limits:    limits,
	}
}
