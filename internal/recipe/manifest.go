// Package recipe loads provisioning recipes from YAML manifests and applies
// their steps to a bottle.
package recipe

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vintner-app/vintner/internal/bottle"
)

const manifestName = "recipe.yaml"

// StepKind identifies one of the supported recipe step forms.
type StepKind string

const (
	StepRun         StepKind = "run"
	StepWaitForExit StepKind = "wait_for_exit"
	StepWineCfg     StepKind = "winecfg"
	StepEnv         StepKind = "env"
	StepCopy        StepKind = "copy"
)

// Step is a normalized recipe step. Only the fields matching Kind are set.
type Step struct {
	Kind StepKind

	// Run: program to launch inside the bottle plus its arguments. Target is
	// either an absolute path or a name resolved against the recipe's
	// resources directory.
	Target string
	Args   []string

	// WineCfg: wine version to select, empty to open winecfg untargeted.
	Version string

	// Env: variables to merge into the bottle record, sorted by name.
	Entries []bottle.EnvVar

	// Copy: resource to place into the bottle prefix.
	From string
	To   string
}

// Manifest is the parsed recipe document.
type Manifest struct {
	ID          string
	Name        string
	Description string
	Steps       []Step
}

// Summary is the listing form of a manifest.
type Summary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Recipe couples a manifest with the directory its resources resolve against.
type Recipe struct {
	Manifest Manifest
	BaseDir  string
}

// Summary returns the listing form of the recipe.
func (r *Recipe) Summary() Summary {
	return Summary{
		ID:          r.Manifest.ID,
		Name:        r.Manifest.Name,
		Description: r.Manifest.Description,
	}
}

// Resource resolves a step target against the recipe's resources directory.
// Absolute paths pass through untouched.
func (r *Recipe) Resource(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(r.BaseDir, "resources", name)
}

// InvalidError reports a manifest that exists but cannot be used.
type InvalidError struct {
	Path string
	Err  error
}

func (e InvalidError) Error() string {
	return fmt.Sprintf("recipe: invalid manifest %s: %v", e.Path, e.Err)
}

func (e InvalidError) Unwrap() error { return e.Err }

// IsInvalid reports whether err carries an InvalidError.
func IsInvalid(err error) bool {
	var invalid InvalidError
	return errors.As(err, &invalid)
}

// NotFoundError reports a recipe id with no matching manifest.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("recipe: %s not found", e.ID)
}

// IsNotFound reports whether err carries a NotFoundError.
func IsNotFound(err error) bool {
	var notFound NotFoundError
	return errors.As(err, &notFound)
}

// Store discovers recipes under a single directory. Each recipe is either a
// subdirectory holding recipe.yaml (plus optional resources/) or a bare
// *.yaml file.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. The directory does not have to
// exist yet; a missing directory lists as empty.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store root.
func (s *Store) Dir() string { return s.dir }

// List returns summaries for every loadable recipe, sorted by name. Broken
// manifests are logged and skipped so one bad file cannot hide the rest.
func (s *Store) List() ([]Summary, error) {
	recipes, issues, err := s.scan()
	if err != nil {
		return nil, err
	}
	for _, issue := range issues {
		log.Printf("[Recipes] skipping %s: %v", issue.path, issue.err)
	}

	summaries := make([]Summary, 0, len(recipes))
	for _, r := range recipes {
		summaries = append(summaries, r.Summary())
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Name != summaries[j].Name {
			return summaries[i].Name < summaries[j].Name
		}
		return summaries[i].ID < summaries[j].ID
	})
	return summaries, nil
}

// Find returns the recipe whose manifest id matches. A broken manifest whose
// directory or file stem matches the id reports InvalidError so callers can
// distinguish "unusable" from "absent".
func (s *Store) Find(id string) (*Recipe, error) {
	recipes, issues, err := s.scan()
	if err != nil {
		return nil, err
	}
	for _, r := range recipes {
		if r.Manifest.ID == id {
			return r, nil
		}
	}
	for _, issue := range issues {
		if issue.stem == id {
			return nil, issue.err
		}
	}
	return nil, NotFoundError{ID: id}
}

type loadIssue struct {
	stem string
	path string
	err  error
}

func (s *Store) scan() ([]*Recipe, []loadIssue, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("recipe: read %s: %w", s.dir, err)
	}

	var recipes []*Recipe
	var issues []loadIssue
	for _, entry := range entries {
		var path, stem string
		switch {
		case entry.IsDir():
			path = filepath.Join(s.dir, entry.Name(), manifestName)
			stem = entry.Name()
			if _, err := os.Stat(path); err != nil {
				continue
			}
		case filepath.Ext(entry.Name()) == ".yaml":
			path = filepath.Join(s.dir, entry.Name())
			stem = strings.TrimSuffix(entry.Name(), ".yaml")
		default:
			continue
		}

		r, err := loadFile(path)
		if err != nil {
			issues = append(issues, loadIssue{stem: stem, path: path, err: err})
			continue
		}
		recipes = append(recipes, r)
	}
	return recipes, issues, nil
}

func loadFile(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, InvalidError{Path: path, Err: err}
	}
	manifest, err := parseManifest(data, path)
	if err != nil {
		return nil, err
	}
	return &Recipe{Manifest: manifest, BaseDir: filepath.Dir(path)}, nil
}

func parseManifest(data []byte, path string) (Manifest, error) {
	var doc struct {
		ID          string      `yaml:"id"`
		Name        string      `yaml:"name"`
		Description string      `yaml:"description"`
		Steps       []yaml.Node `yaml:"steps"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Manifest{}, InvalidError{Path: path, Err: err}
	}
	if strings.TrimSpace(doc.ID) == "" {
		return Manifest{}, InvalidError{Path: path, Err: errors.New("recipe id is required")}
	}
	if strings.TrimSpace(doc.Name) == "" {
		return Manifest{}, InvalidError{Path: path, Err: errors.New("recipe name is required")}
	}

	steps := make([]Step, 0, len(doc.Steps))
	for i := range doc.Steps {
		step, err := normalizeStep(&doc.Steps[i])
		if err != nil {
			return Manifest{}, InvalidError{Path: path, Err: fmt.Errorf("steps[%d]: %w", i, err)}
		}
		steps = append(steps, step)
	}

	return Manifest{
		ID:          doc.ID,
		Name:        doc.Name,
		Description: doc.Description,
		Steps:       steps,
	}, nil
}

func normalizeStep(node *yaml.Node) (Step, error) {
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return Step{}, errors.New("step must be a mapping with a single key")
	}
	key := node.Content[0].Value
	value := node.Content[1]

	switch key {
	case string(StepRun):
		return normalizeRun(value)
	case string(StepWaitForExit):
		return normalizeWaitForExit(value)
	case string(StepWineCfg):
		return normalizeWineCfg(value)
	case string(StepEnv):
		return normalizeEnv(value)
	case string(StepCopy):
		return normalizeCopy(value)
	default:
		return Step{}, fmt.Errorf("unknown step %q", key)
	}
}

// rejectUnknownKeys guards the structured step forms: yaml.Node.Decode
// silently drops mapping keys the target struct does not know, so a typo
// like "ags" would otherwise vanish instead of failing the parse.
func rejectUnknownKeys(value *yaml.Node, step string, allowed ...string) error {
	if value.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		key := value.Content[i].Value
		known := false
		for _, name := range allowed {
			if key == name {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("%s: unknown key %q", step, key)
		}
	}
	return nil
}

func normalizeRun(value *yaml.Node) (Step, error) {
	if value.Kind == yaml.ScalarNode {
		var target string
		if err := value.Decode(&target); err != nil {
			return Step{}, fmt.Errorf("run: %w", err)
		}
		if strings.TrimSpace(target) == "" {
			return Step{}, errors.New("run: command is empty")
		}
		return Step{Kind: StepRun, Target: target}, nil
	}

	if err := rejectUnknownKeys(value, "run", "command", "file", "path", "args"); err != nil {
		return Step{}, err
	}
	var spec struct {
		Command string   `yaml:"command"`
		File    string   `yaml:"file"`
		Path    string   `yaml:"path"`
		Args    []string `yaml:"args"`
	}
	if err := value.Decode(&spec); err != nil {
		return Step{}, fmt.Errorf("run: %w", err)
	}
	// command takes precedence; path is an alias for file.
	target := spec.Command
	if target == "" {
		target = spec.File
	}
	if target == "" {
		target = spec.Path
	}
	if strings.TrimSpace(target) == "" {
		return Step{}, errors.New("run: needs a command or file")
	}
	return Step{Kind: StepRun, Target: target, Args: spec.Args}, nil
}

func normalizeWaitForExit(value *yaml.Node) (Step, error) {
	var wait bool
	if err := value.Decode(&wait); err != nil {
		return Step{}, fmt.Errorf("wait_for_exit: %w", err)
	}
	if !wait {
		return Step{}, errors.New("wait_for_exit must be true")
	}
	return Step{Kind: StepWaitForExit}, nil
}

func normalizeWineCfg(value *yaml.Node) (Step, error) {
	if err := rejectUnknownKeys(value, "winecfg", "version"); err != nil {
		return Step{}, err
	}
	var spec struct {
		Version string `yaml:"version"`
	}
	if err := value.Decode(&spec); err != nil {
		return Step{}, fmt.Errorf("winecfg: %w", err)
	}
	return Step{Kind: StepWineCfg, Version: spec.Version}, nil
}

func normalizeEnv(value *yaml.Node) (Step, error) {
	var entries map[string]string
	if err := value.Decode(&entries); err != nil {
		return Step{}, fmt.Errorf("env: %w", err)
	}
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	vars := make([]bottle.EnvVar, 0, len(names))
	for _, name := range names {
		vars = append(vars, bottle.EnvVar{Name: name, Value: entries[name]})
	}
	return Step{Kind: StepEnv, Entries: vars}, nil
}

func normalizeCopy(value *yaml.Node) (Step, error) {
	if err := rejectUnknownKeys(value, "copy", "from", "to"); err != nil {
		return Step{}, err
	}
	var spec struct {
		From string `yaml:"from"`
		To   string `yaml:"to"`
	}
	if err := value.Decode(&spec); err != nil {
		return Step{}, fmt.Errorf("copy: %w", err)
	}
	if spec.From == "" || spec.To == "" {
		return Step{}, errors.New("copy: needs from and to")
	}
	return Step{Kind: StepCopy, From: spec.From, To: spec.To}, nil
}
