package recipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/vintner-app/vintner/internal/bottle"
	"github.com/vintner-app/vintner/internal/catalog"
	"github.com/vintner-app/vintner/internal/journal"
	"github.com/vintner-app/vintner/internal/launch"
)

// Variable recorded on the bottle after a winecfg step selects a version.
const envDefaultWineVersion = "WINE_DEFAULT_VERSION"

// StepError reports the step at which a recipe application stopped. Index is
// the zero-based position in the manifest's step list. Exited is true when
// the guest process ran and returned a nonzero code.
type StepError struct {
	RecipeID string
	Index    int
	Kind     StepKind
	ExitCode int
	Exited   bool
	Err      error
}

func (e StepError) Error() string {
	if e.Exited {
		return fmt.Sprintf("recipe %s: step index %d (%s) exited with code %d", e.RecipeID, e.Index, e.Kind, e.ExitCode)
	}
	return fmt.Sprintf("recipe %s: step index %d (%s) failed: %v", e.RecipeID, e.Index, e.Kind, e.Err)
}

func (e StepError) Unwrap() error { return e.Err }

// IsStepError reports whether err carries a StepError.
func IsStepError(err error) bool {
	var step StepError
	return errors.As(err, &step)
}

// Engine executes recipe step lists against bottles.
type Engine struct {
	store       *Store
	registry    *bottle.Registry
	supervisor  launch.Supervisor
	journal     *journal.Journal
	logsDir     string
	stepTimeout time.Duration
}

// NewEngine wires the engine. journal may be nil, in which case launches are
// not recorded. stepTimeout of zero means steps run unbounded.
func NewEngine(store *Store, registry *bottle.Registry, jnl *journal.Journal, logsDir string, stepTimeout time.Duration) *Engine {
	return &Engine{
		store:       store,
		registry:    registry,
		journal:     jnl,
		logsDir:     logsDir,
		stepTimeout: stepTimeout,
	}
}

// Apply runs every step of the recipe against the bottle, stopping at the
// first failure. The bottle's claim is held for the whole sequence so a
// concurrent apply or delete against the same id cannot interleave.
func (e *Engine) Apply(ctx context.Context, bottleID, recipeID string) error {
	rec, err := e.store.Find(recipeID)
	if err != nil {
		return err
	}

	claim := e.registry.Acquire(bottleID)
	defer claim.Release()

	record, err := e.registry.Get(bottleID)
	if err != nil {
		return err
	}

	prefix := e.registry.PrefixDir(record.ID)
	logPath := filepath.Join(e.logsDir, "bottle-"+record.ID+".log")

	log.Printf("[Recipes] applying %s to bottle %s (%d steps)", rec.Manifest.ID, record.ID, len(rec.Manifest.Steps))
	for i := range rec.Manifest.Steps {
		step := rec.Manifest.Steps[i]
		var err error
		switch step.Kind {
		case StepRun:
			err = e.runStep(ctx, rec, &record, i, step, prefix, logPath)
		case StepWaitForExit:
			log.Printf("[Recipes] step index %d: wait_for_exit is implicit, launches run synchronously", i)
		case StepWineCfg:
			err = e.winecfgStep(ctx, rec, &record, i, step, prefix, logPath)
		case StepEnv:
			err = e.envStep(&record, step)
		case StepCopy:
			err = e.copyStep(rec, i, step, prefix)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) runStep(ctx context.Context, rec *Recipe, record *bottle.Bottle, index int, step Step, prefix, logPath string) error {
	target := rec.Resource(step.Target)
	spec := launch.RuntimeCommand(
		record.WineRuntime.Wine64Path,
		record.WineRuntime.Channel,
		append([]string{target}, step.Args...),
		prefix,
		catalog.InstallRoot(record.WineRuntime.Wine64Path),
		bottle.EnvStrings(record.Environment),
		logPath,
	)
	outcome, err := e.launchAndRecord(ctx, record.ID, spec, rec.origin(index), target, step.Args)
	return classifyLaunch(rec.Manifest.ID, index, step.Kind, outcome, err)
}

func (e *Engine) winecfgStep(ctx context.Context, rec *Recipe, record *bottle.Bottle, index int, step Step, prefix, logPath string) error {
	winecfg := catalog.WinecfgPath(record.WineRuntime.Wine64Path)
	var args []string
	if step.Version != "" {
		args = []string{"-v", step.Version}
	}
	spec := launch.RuntimeCommand(
		winecfg,
		record.WineRuntime.Channel,
		args,
		prefix,
		catalog.InstallRoot(record.WineRuntime.Wine64Path),
		bottle.EnvStrings(record.Environment),
		logPath,
	)
	outcome, err := e.launchAndRecord(ctx, record.ID, spec, rec.origin(index), winecfg, args)
	if err := classifyLaunch(rec.Manifest.ID, index, step.Kind, outcome, err); err != nil {
		return err
	}
	// The chosen version sticks to the bottle only once winecfg accepted it.
	if step.Version != "" {
		updated, err := e.registry.MergeEnvironment(record.ID, []bottle.EnvVar{{Name: envDefaultWineVersion, Value: step.Version}})
		if err != nil {
			return err
		}
		*record = updated
	}
	return nil
}

func (e *Engine) envStep(record *bottle.Bottle, step Step) error {
	updated, err := e.registry.MergeEnvironment(record.ID, step.Entries)
	if err != nil {
		return err
	}
	*record = updated
	return nil
}

func (e *Engine) copyStep(rec *Recipe, index int, step Step, prefix string) error {
	if !filepath.IsLocal(step.To) {
		return StepError{RecipeID: rec.Manifest.ID, Index: index, Kind: step.Kind, Err: fmt.Errorf("destination %q escapes the bottle prefix", step.To)}
	}
	source := rec.Resource(step.From)
	info, err := os.Stat(source)
	if err != nil {
		return StepError{RecipeID: rec.Manifest.ID, Index: index, Kind: step.Kind, Err: fmt.Errorf("resource %s: %w", source, err)}
	}
	destination := filepath.Join(prefix, step.To)
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return StepError{RecipeID: rec.Manifest.ID, Index: index, Kind: step.Kind, Err: err}
	}
	if err := copyFile(source, destination, info.Mode()); err != nil {
		return StepError{RecipeID: rec.Manifest.ID, Index: index, Kind: step.Kind, Err: err}
	}
	return nil
}

// launchAndRecord runs one guest process under the step timeout and journals
// the attempt. guestExe and guestArgs are what history should show, which for
// run steps is the resolved target rather than the wine binary fronting it.
func (e *Engine) launchAndRecord(ctx context.Context, bottleID string, spec launch.Spec, origin, guestExe string, guestArgs []string) (launch.Outcome, error) {
	runCtx := ctx
	if e.stepTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.stepTimeout)
		defer cancel()
	}

	started := time.Now()
	outcome, err := e.supervisor.Launch(runCtx, spec)
	if e.journal != nil && !launch.IsStartError(err) {
		entry := journal.Entry{
			BottleID:   bottleID,
			Executable: guestExe,
			Args:       guestArgs,
			Origin:     origin,
			StartedAt:  started,
			DurationMS: time.Since(started).Milliseconds(),
			ExitCode:   outcome.ExitCode,
			Success:    err == nil && outcome.Success,
		}
		recordCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if recordErr := e.journal.Record(recordCtx, entry); recordErr != nil {
			log.Printf("[Recipes] journal write for bottle %s failed: %v", bottleID, recordErr)
		}
	}
	return outcome, err
}

// classifyLaunch folds a supervisor result into the recipe failure model.
// Start failures keep their identity so callers can report them as launch
// problems rather than step failures.
func classifyLaunch(recipeID string, index int, kind StepKind, outcome launch.Outcome, err error) error {
	if err != nil {
		if launch.IsStartError(err) {
			return err
		}
		return StepError{RecipeID: recipeID, Index: index, Kind: kind, Err: err}
	}
	if !outcome.Success {
		return StepError{RecipeID: recipeID, Index: index, Kind: kind, ExitCode: outcome.ExitCode, Exited: true}
	}
	return nil
}

func (r *Recipe) origin(index int) string {
	return fmt.Sprintf("recipe:%s#%d", r.Manifest.ID, index)
}

func copyFile(source, destination string, mode fs.FileMode) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(destination, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
