package fop_test

import (
	"testing"

	"fop-go/internal/fop"
)

func TestJobType_Parse(t *testing.T) {
	for _, typ := range []fop.JobType{fop.JobCopy, fop.JobMove, fop.JobDelete, fop.JobTrash, fop.JobLink, fop.JobRestore, fop.JobChmod} {
		got, err := fop.ParseJobType(typ.String())
		if err != nil || got != typ {
			t.Errorf("ParseJobType(%q) = %v, %v", typ.String(), got, err)
		}
	}
	if _, err := fop.ParseJobType("shred"); err == nil {
		t.Error("ParseJobType(shred) expected error")
	}
}

func TestFlags(t *testing.T) {
	f := fop.FlagForce | fop.FlagRecursive
	if !f.Has(fop.FlagForce) || f.Has(fop.FlagHardLink) {
		t.Errorf("Has() mismatch for %s", f)
	}
	if got := f.String(); got != "force,recursive" {
		t.Errorf("String() = %q", got)
	}

	parsed, err := fop.ParseFlags("follow-links,skip-all")
	if err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	if parsed != fop.FlagFollowLinks|fop.FlagSkipAll {
		t.Errorf("ParseFlags() = %s", parsed)
	}
	if got, err := fop.ParseFlags(""); err != nil || got != 0 {
		t.Errorf("ParseFlags(\"\") = %v, %v", got, err)
	}
	if _, err := fop.ParseFlags("force,loud"); err == nil {
		t.Error("ParseFlags() expected error for an unknown flag")
	}
}

func TestJob_Validate(t *testing.T) {
	src := []fop.URL{fop.LocalURL("/a")}
	dst := fop.LocalURL("/b")
	tests := []struct {
		name    string
		job     fop.Job
		wantErr bool
	}{
		{"copy", fop.Job{Type: fop.JobCopy, Sources: src, Target: dst}, false},
		{"copy without sources", fop.Job{Type: fop.JobCopy, Target: dst}, true},
		{"move without target", fop.Job{Type: fop.JobMove, Sources: src}, true},
		{"link without target", fop.Job{Type: fop.JobLink, Sources: src}, true},
		{"delete", fop.Job{Type: fop.JobDelete, Sources: src}, false},
		{"delete with target", fop.Job{Type: fop.JobDelete, Sources: src, Target: dst}, true},
		{"trash with target", fop.Job{Type: fop.JobTrash, Sources: src, Target: dst}, true},
		{"chmod with target", fop.Job{Type: fop.JobChmod, Sources: src, Target: dst}, true},
		{"restore to origin", fop.Job{Type: fop.JobRestore, Sources: src}, false},
		{"restore into target", fop.Job{Type: fop.JobRestore, Sources: src, Target: dst}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestJobState_Terminal(t *testing.T) {
	for _, s := range []fop.JobState{fop.StateCompleted, fop.StateStopped, fop.StateFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []fop.JobState{fop.StateCreated, fop.StateInitializing, fop.StateRunning, fop.StatePaused} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
