package fop

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// targetPlan is where an entry will be written.
type targetPlan struct {
	info *FileInfo
	// exists is set when the target is kept in place: a file that will be
	// overwritten or a directory that will be merged.
	exists bool
}

func (p targetPlan) url() URL { return p.info.URL() }

// sourceInfo resolves a job source, asking when it cannot be read.
// errSkipped means the source was skipped and accounted for.
func (w *Worker) sourceInfo(i int, src URL) (*FileInfo, error) {
	for {
		fi, err := w.env.Registry.FileInfo(src)
		if err == nil {
			_, err = fi.Stat(w.ctx)
			if err == nil {
				return fi, nil
			}
		}
		a, rerr := w.resolve(ErrorDescriptor{
			Kind:    KindOf(err, ErrKindProgram),
			From:    src,
			Err:     err,
			Actions: []Action{ActionRetry, ActionSkip},
		})
		if rerr != nil {
			return nil, rerr
		}
		if a != ActionRetry {
			w.skipEntry(src, w.sources[i])
			return nil, errSkipped
		}
	}
}

// checkTarget resolves the name collision, if any, of writing from as
// toDir/name. A skipped entry is accounted for and reported as
// errSkipped. When replaceInPlace is false an existing target that cannot
// be overwritten atomically is removed first.
func (w *Worker) checkTarget(from *FileInfo, toDir URL, name string, replaceInPlace bool) (targetPlan, error) {
	toBackend, err := w.env.Registry.Backend(toDir)
	if err != nil {
		return targetPlan{}, w.abort(ErrorDescriptor{Kind: ErrKindProgram, To: toDir, Err: err})
	}
	fromStat, err := from.Stat(w.ctx)
	if err != nil {
		return targetPlan{}, w.abort(ErrorDescriptor{Kind: ErrKindProgram, From: from.URL(), Err: err})
	}

	for {
		to := NewFileInfo(toBackend, toDir.Join(name))
		toStat, err := to.Stat(w.ctx)
		if err != nil {
			return targetPlan{info: to}, nil
		}

		if to.URL() == from.URL() {
			if w.job.Type != JobCopy {
				w.skipTree(from)
				return targetPlan{}, errSkipped
			}
			name = w.uniqueName(toBackend, toDir, name)
			continue
		}

		bothDirs := fromStat.Type() == TypeDir && toStat.Type() == TypeDir
		var a Action
		switch {
		case w.job.Flags.Has(FlagForce) && bothDirs:
			a = ActionMerge
		case w.job.Flags.Has(FlagForce):
			a = ActionOverwrite
		default:
			d := ErrorDescriptor{
				Kind:       ErrKindFileExists,
				From:       from.URL(),
				To:         to.URL(),
				Err:        fmt.Errorf("%s already exists", to.URL()),
				AllowToAll: true,
				Actions:    []Action{ActionOverwrite, ActionSkip, ActionRename},
			}
			if bothDirs {
				d.Kind = ErrKindDirExists
				d.Actions = []Action{ActionMerge, ActionSkip, ActionRename}
			}
			if a, err = w.resolve(d); err != nil {
				return targetPlan{}, err
			}
		}

		switch a {
		case ActionSkip:
			w.skipTree(from)
			return targetPlan{}, errSkipped
		case ActionRename:
			name = w.uniqueName(toBackend, toDir, name)
			continue
		case ActionRetry:
			continue
		case ActionMerge, ActionOverwrite:
			if bothDirs {
				return targetPlan{info: to, exists: true}, nil
			}
			sameKind := fromStat.Type() == TypeRegular && toStat.Type() == TypeRegular
			if replaceInPlace && sameKind {
				return targetPlan{info: to, exists: true}, nil
			}
			if err := w.removeTree(to, true, false); err != nil {
				if errors.Is(err, errSkipped) {
					w.skipTree(from)
				}
				return targetPlan{}, err
			}
			to.Refresh()
			return targetPlan{info: to}, nil
		default:
			return targetPlan{}, w.abort(ErrorDescriptor{Kind: ErrKindFileExists, From: from.URL(), To: to.URL(),
				Err: fmt.Errorf("unexpected action %s", a)})
		}
	}
}

// uniqueName returns the first free name of the form "base (n).ext" in dir.
func (w *Worker) uniqueName(b Backend, dir URL, name string) string {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if ext == name {
		// Dot files have no extension.
		ext, base = "", name
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, n, ext)
		if _, err := b.Stat(w.ctx, dir.Join(candidate)); err != nil {
			return candidate
		}
		if w.ctx.Err() != nil {
			return candidate
		}
	}
}
