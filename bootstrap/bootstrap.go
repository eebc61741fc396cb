// Package bootstrap generates the editable starter files: the host config,
// the signature and category data files, and the container build recipe with
// its package manifest.
package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/eyewitness2/internal/appconfig"
	"pkt.systems/eyewitness2/internal/signature"
)

// Files holds the generated bootstrap artifacts.
type Files struct {
	Signatures    []byte
	Categories    []byte
	Containerfile []byte
	Packages      []byte
}

// Paths reports where bootstrap wrote its outputs.
type Paths struct {
	ConfigPath        string
	SignaturesPath    string
	CategoriesPath    string
	ContainerfilePath string
	PackagesPath      string
}

const (
	signaturesName    = "signatures.txt"
	categoriesName    = "categories.txt"
	containerfileName = "Containerfile"
	packagesName      = "packages.txt"
)

// DefaultFiles returns the embedded bootstrap artifacts.
func DefaultFiles() (Files, error) {
	containerfile, err := DefaultContainerfile()
	if err != nil {
		return Files{}, err
	}
	packages, err := DefaultPackages()
	if err != nil {
		return Files{}, err
	}
	return Files{
		Signatures:    signature.DefaultSignatures(),
		Categories:    signature.DefaultCategories(),
		Containerfile: containerfile,
		Packages:      packages,
	}, nil
}

// DefaultContainerfile returns the embedded container build recipe.
func DefaultContainerfile() ([]byte, error) {
	return readEmbeddedFile("files/" + containerfileName)
}

// DefaultPackages returns the embedded apt package manifest.
func DefaultPackages() ([]byte, error) {
	return readEmbeddedFile("files/" + packagesName)
}

// Write writes the default config to its standard location and the data and
// build files to the output directory. Existing files are an error unless
// overwrite is set.
func Write(outputDir string, overwrite bool) (Paths, error) {
	if strings.TrimSpace(outputDir) == "" {
		return Paths{}, fmt.Errorf("output directory is required")
	}
	files, err := DefaultFiles()
	if err != nil {
		return Paths{}, err
	}
	return WriteFiles(outputDir, files, overwrite)
}

// WriteFiles writes the bootstrap files plus the default config. Signature
// data lands under <outputDir>/data so it matches the default data dir layout.
func WriteFiles(outputDir string, files Files, overwrite bool) (Paths, error) {
	dataDir := filepath.Join(outputDir, "data")
	signaturesPath := filepath.Join(dataDir, signaturesName)
	categoriesPath := filepath.Join(dataDir, categoriesName)
	containerfilePath := filepath.Join(outputDir, containerfileName)
	packagesPath := filepath.Join(outputDir, packagesName)

	if !overwrite {
		for _, path := range []string{signaturesPath, categoriesPath, containerfilePath, packagesPath} {
			if _, err := os.Stat(path); err == nil {
				return Paths{}, fmt.Errorf("file already exists: %s", path)
			}
		}
	}

	configPath, err := appconfig.WriteDefault("", overwrite)
	if err != nil {
		return Paths{}, err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return Paths{}, err
	}
	if err := os.WriteFile(signaturesPath, files.Signatures, 0o644); err != nil {
		return Paths{}, err
	}
	if err := os.WriteFile(categoriesPath, files.Categories, 0o644); err != nil {
		return Paths{}, err
	}
	if err := os.WriteFile(containerfilePath, files.Containerfile, 0o644); err != nil {
		return Paths{}, err
	}
	if err := os.WriteFile(packagesPath, files.Packages, 0o644); err != nil {
		return Paths{}, err
	}

	return Paths{
		ConfigPath:        configPath,
		SignaturesPath:    signaturesPath,
		CategoriesPath:    categoriesPath,
		ContainerfilePath: containerfilePath,
		PackagesPath:      packagesPath,
	}, nil
}
