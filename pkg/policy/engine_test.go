package policy

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/sentinelops/sentinel/pkg/findings"
	"github.com/sentinelops/sentinel/pkg/scoring"
	"github.com/sentinelops/sentinel/pkg/shared/severity"
)

func mkFindings(levels ...severity.Level) []findings.Finding {
	fs := make([]findings.Finding, len(levels))
	for i, l := range levels {
		fs[i] = findings.Finding{Severity: l}
	}
	return fs
}

func TestEvaluate_CleanFindings(t *testing.T) {
	fs := mkFindings()
	ev := Evaluate(fs, scoring.Score(fs), Default())

	if !ev.DeploymentAllowed {
		t.Error("DeploymentAllowed = false for an empty finding set under defaults")
	}
	if ev.Score != 100 {
		t.Errorf("Score = %d, want 100", ev.Score)
	}
	if ev.CriticalCount != 0 || ev.HighCount != 0 {
		t.Errorf("counts = %d/%d, want 0/0", ev.CriticalCount, ev.HighCount)
	}
	if len(ev.Violations) != 0 {
		t.Errorf("Violations = %v, want none", ev.Violations)
	}
}

func TestEvaluate_CriticalBlocks(t *testing.T) {
	fs := mkFindings(severity.Critical)
	ev := Evaluate(fs, scoring.Score(fs), Default())

	if ev.DeploymentAllowed {
		t.Error("DeploymentAllowed = true with a critical finding under defaults")
	}
	if ev.CriticalCount != 1 {
		t.Errorf("CriticalCount = %d, want 1", ev.CriticalCount)
	}

	// One critical finding scores security 0: the score check, the
	// critical-present check, and the critical-limit check all fire, in
	// that order.
	if len(ev.Violations) != 3 {
		t.Fatalf("Violations = %v, want 3 entries", ev.Violations)
	}
	if !strings.Contains(ev.Violations[0], "below minimum") {
		t.Errorf("first violation = %q, want score violation first", ev.Violations[0])
	}
	if !strings.Contains(ev.Violations[1], "critical vulnerabilities present") {
		t.Errorf("second violation = %q, want critical-present violation", ev.Violations[1])
	}
	if !strings.Contains(ev.Violations[2], "exceeds limit") {
		t.Errorf("third violation = %q, want critical-limit violation", ev.Violations[2])
	}
}

func TestEvaluate_HighCountGatedByBlockOnHigh(t *testing.T) {
	// Six highs exceed the default MaxHighVulns of 5, but BlockOnHigh is
	// false by default so no high violation is recorded.
	fs := mkFindings(severity.High, severity.High, severity.High,
		severity.High, severity.High, severity.High)
	assessment := scoring.Score(fs)

	ev := Evaluate(fs, assessment, Default())
	if ev.HighCount != 6 {
		t.Errorf("HighCount = %d, want 6", ev.HighCount)
	}
	for _, v := range ev.Violations {
		if strings.Contains(v, "high vulnerability") {
			t.Errorf("high violation %q recorded while BlockOnHigh is false", v)
		}
	}

	pol := Default()
	pol.BlockOnHigh = true
	ev = Evaluate(fs, assessment, pol)

	found := false
	for _, v := range ev.Violations {
		if strings.Contains(v, "high vulnerability count exceeds limit") {
			found = true
		}
	}
	if !found {
		t.Errorf("no high violation with BlockOnHigh=true: %v", ev.Violations)
	}
	if ev.DeploymentAllowed {
		t.Error("DeploymentAllowed = true with high violation and AutoBlock")
	}
}

func TestEvaluate_AdvisoryMode(t *testing.T) {
	// AutoBlock=false surfaces violations but never blocks.
	fs := mkFindings(severity.Critical, severity.Critical)
	pol := Default()
	pol.AutoBlock = false

	ev := Evaluate(fs, scoring.Score(fs), pol)
	if len(ev.Violations) == 0 {
		t.Fatal("expected violations to be surfaced in advisory mode")
	}
	if !ev.DeploymentAllowed {
		t.Error("DeploymentAllowed = false although AutoBlock is off")
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	fs := mkFindings(severity.Critical, severity.High, severity.Medium)
	assessment := scoring.Score(fs)
	pol := Default()
	pol.BlockOnHigh = true
	pol.MaxHighVulns = 0

	a := Evaluate(fs, assessment, pol)
	b := Evaluate(fs, assessment, pol)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("evaluations differ for identical inputs:\n%+v\n%+v", a, b)
	}
}

func TestEvaluate_EmptyViolationsEncodeAsArray(t *testing.T) {
	eval := Evaluate(nil, scoring.Score(nil), Default())
	if eval.Violations == nil {
		t.Fatal("Violations is nil, want empty slice")
	}

	data, err := json.Marshal(eval)
	if err != nil {
		t.Fatalf("marshal evaluation: %v", err)
	}
	if !strings.Contains(string(data), `"violations":[]`) {
		t.Errorf("encoded evaluation = %s, want violations as []", data)
	}
}

func TestEvaluate_NilPolicyFallsBackToDefault(t *testing.T) {
	fs := mkFindings(severity.Critical)
	ev := Evaluate(fs, scoring.Score(fs), nil)
	if ev.DeploymentAllowed {
		t.Error("nil policy should behave like the default policy")
	}
}

func TestDefault(t *testing.T) {
	p := Default()
	if p.MinScore != 70 || !p.BlockOnCritical || p.BlockOnHigh ||
		p.MaxCriticalVulns != 0 || p.MaxHighVulns != 5 || !p.AutoBlock {
		t.Errorf("unexpected default policy: %+v", p)
	}
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Policy)
		wantErr bool
	}{
		{"defaults valid", func(p *Policy) {}, false},
		{"min score over 100", func(p *Policy) { p.MinScore = 101 }, true},
		{"negative min score", func(p *Policy) { p.MinScore = -1 }, true},
		{"negative critical limit", func(p *Policy) { p.MaxCriticalVulns = -1 }, true},
		{"negative high limit", func(p *Policy) { p.MaxHighVulns = -2 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default()
			tt.mutate(p)
			if err := p.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
