// Package registry discovers GGUF model files on disk.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"llamagen/internal/common/fsutil"
	"llamagen/pkg/types"
)

// GGUFScanner builds a registry from *.gguf files in one directory.
type GGUFScanner struct{}

func NewGGUFScanner() *GGUFScanner { return &GGUFScanner{} }

// quantRe matches llama.cpp quantization suffixes such as q4_k_m, Q8_0, iq3_xs, f16.
var quantRe = regexp.MustCompile(`(?i)(?:^|[-_.])((?:i?q\d+(?:_[a-z0-9]+)*)|f16|f32|bf16)$`)

// Scan lists the models in dir, sorted by id. The id is the file name without
// the extension; quant and family are derived from the name when possible.
func (s *GGUFScanner) Scan(dir string) ([]types.Model, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	if !fsutil.PathExists(abs) {
		return nil, fmt.Errorf("models dir %s does not exist", abs)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	seen := make(map[string]bool)
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() { continue }
		name := e.Name()
		ext := filepath.Ext(name)
		if !strings.EqualFold(ext, ".gguf") { continue }
		id := strings.TrimSuffix(name, ext)
		if seen[id] { continue }
		seen[id] = true
		models = append(models, Describe(id, filepath.Join(abs, name)))
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// Describe fills the registry metadata derivable from a model file name.
func Describe(id, path string) types.Model {
	m := types.Model{ID: id, Name: id, Path: path}
	stem := id
	if loc := quantRe.FindStringSubmatchIndex(id); loc != nil {
		m.Quant = strings.ToUpper(id[loc[2]:loc[3]])
		stem = strings.TrimRight(id[:loc[2]], "-_.")
	}
	words := strings.FieldsFunc(stem, func(r rune) bool { return r == '-' || r == '_' })
	if len(words) > 0 {
		m.Family = family(words[0])
		m.Name = strings.Join(words, " ")
		if m.Quant != "" {
			m.Name += " (" + m.Quant + ")"
		}
	}
	return m
}

// family strips the version from the leading word: "qwen2.5" -> "qwen2", "llama3.1" -> "llama".
func family(word string) string {
	w := strings.ToLower(word)
	if i := strings.IndexByte(w, '.'); i > 0 {
		w = w[:i]
	}
	switch {
	case strings.HasPrefix(w, "llama"):
		return "llama"
	case strings.HasPrefix(w, "mistral"):
		return "mistral"
	}
	return w
}

// LoadDir scans dir with the default scanner.
func LoadDir(dir string) ([]types.Model, error) {
	return NewGGUFScanner().Scan(dir)
}
