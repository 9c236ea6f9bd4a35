package bottle

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

const recordFile = "bottle.json"

// NotFoundError indicates a requested bottle does not exist.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("bottle %s not found", e.ID)
}

// IsNotFound returns true when err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nfe NotFoundError
	return errors.As(err, &nfe)
}

// Registry stores one directory per bottle under root. All mutating
// operations for the same bottle id must run under a Claim from Acquire;
// the registry itself does not lock, so the caller decides the span the
// exclusion covers (a single delete, or a whole recipe application).
type Registry struct {
	root   string
	claims *claimTable
}

// NewRegistry opens the registry rooted at root, creating the directory
// if needed.
func NewRegistry(root string) (*Registry, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("bottle: create bottle root: %w", err)
	}
	return &Registry{root: root, claims: newClaimTable()}, nil
}

// Root returns the bottle root directory.
func (r *Registry) Root() string {
	return r.root
}

// Dir returns the directory owned by the given bottle id.
func (r *Registry) Dir(id string) string {
	return filepath.Join(r.root, id)
}

// PrefixDir returns the Wine prefix directory for the given bottle id.
func (r *Registry) PrefixDir(id string) string {
	return filepath.Join(r.root, id, "prefix")
}

// Acquire blocks until the per-id exclusion for the given bottle id is
// held, then returns the claim. Claims serialize mutations per bottle;
// distinct ids never contend.
func (r *Registry) Acquire(id string) *Claim {
	return r.claims.acquire(id)
}

// Create allocates a fresh id, lays out the bottle directory and prefix,
// and writes the record. Concurrent creates are safe without a claim
// because ids never collide. If the record cannot be written the bottle
// directory is removed again, so a record never exists without its
// directory.
func (r *Registry) Create(name string, runtime WineRuntime) (Bottle, error) {
	record := Bottle{
		ID:          uuid.NewString(),
		Name:        name,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
		WineRuntime: runtime,
		Environment: []EnvVar{},
	}

	if err := os.MkdirAll(r.PrefixDir(record.ID), 0o755); err != nil {
		return Bottle{}, fmt.Errorf("bottle: create prefix directory: %w", err)
	}
	if err := r.writeRecord(record); err != nil {
		if rmErr := os.RemoveAll(r.Dir(record.ID)); rmErr != nil {
			log.Printf("[Registry] Failed to roll back bottle directory %s: %v", record.ID, rmErr)
		}
		return Bottle{}, err
	}
	return record, nil
}

// Get reads the record for the given bottle id.
func (r *Registry) Get(id string) (Bottle, error) {
	data, err := os.ReadFile(filepath.Join(r.Dir(id), recordFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Bottle{}, NotFoundError{ID: id}
		}
		return Bottle{}, fmt.Errorf("bottle: read record %s: %w", id, err)
	}
	var record Bottle
	if err := json.Unmarshal(data, &record); err != nil {
		return Bottle{}, fmt.Errorf("bottle: parse record %s: %w", id, err)
	}
	return record, nil
}

// List returns all recorded bottles sorted by name then id. Directories
// without a readable record are skipped, not fatal: a half-created bottle
// must not take the listing down with it.
func (r *Registry) List() ([]Bottle, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Bottle{}, nil
		}
		return nil, fmt.Errorf("bottle: read bottle root: %w", err)
	}

	bottles := []Bottle{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		record, err := r.Get(entry.Name())
		if err != nil {
			if !IsNotFound(err) {
				log.Printf("[Registry] Ignoring bottle directory %s: %v", entry.Name(), err)
			}
			continue
		}
		bottles = append(bottles, record)
	}

	sort.Slice(bottles, func(i, j int) bool {
		if bottles[i].Name != bottles[j].Name {
			return bottles[i].Name < bottles[j].Name
		}
		return bottles[i].ID < bottles[j].ID
	})
	return bottles, nil
}

// Delete removes the record and the prefix directory as one unit. The
// caller holds the claim for id.
func (r *Registry) Delete(id string) error {
	if _, err := r.Get(id); err != nil {
		return err
	}
	if err := os.RemoveAll(r.Dir(id)); err != nil {
		return fmt.Errorf("bottle: remove bottle %s: %w", id, err)
	}
	return nil
}

// MergeEnvironment applies entries to the bottle's environment and
// persists the record. The caller holds the claim for id.
func (r *Registry) MergeEnvironment(id string, entries []EnvVar) (Bottle, error) {
	record, err := r.Get(id)
	if err != nil {
		return Bottle{}, err
	}
	record.Environment = MergeEnv(record.Environment, entries)
	if err := r.writeRecord(record); err != nil {
		return Bottle{}, err
	}
	return record, nil
}

// writeRecord persists via temp file plus rename so a crash mid-write
// leaves the previous record intact.
func (r *Registry) writeRecord(record Bottle) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("bottle: encode record %s: %w", record.ID, err)
	}
	data = append(data, '\n')

	dir := r.Dir(record.ID)
	tmp, err := os.CreateTemp(dir, recordFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("bottle: write record %s: %w", record.ID, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("bottle: write record %s: %w", record.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("bottle: write record %s: %w", record.ID, err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, recordFile)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("bottle: write record %s: %w", record.ID, err)
	}
	return nil
}
