package rcp

import (
	"math"
	"testing"
	"time"
)

func TestScopeSpecificity(t *testing.T) {
	if ScopeSegment.Specificity() <= ScopeAlgorithm.Specificity() {
		t.Error("segment should be more specific than algorithm")
	}
	if ScopeAlgorithm.Specificity() <= ScopeGlobal.Specificity() {
		t.Error("algorithm should be more specific than global")
	}
	if Scope("bogus").Specificity() != 0 {
		t.Error("unknown scope should have zero specificity")
	}
}

func TestParseAuthority(t *testing.T) {
	tests := []struct {
		in      string
		want    Authority
		wantErr bool
	}{
		{"observer", AuthorityObserver, false},
		{"operator", AuthorityOperator, false},
		{"admin", AuthorityAdmin, false},
		{"owner", AuthorityOwner, false},
		{"root", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAuthority(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAuthority(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseAuthority(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestTimeWindowContains(t *testing.T) {
	at := func(hhmm string) time.Time {
		parsed, err := time.Parse("15:04", hhmm)
		if err != nil {
			t.Fatalf("bad test time %q: %v", hhmm, err)
		}
		return time.Date(2026, 3, 14, parsed.Hour(), parsed.Minute(), 0, 0, time.UTC)
	}

	tests := []struct {
		name   string
		window TimeWindow
		at     string
		want   bool
	}{
		{"inside business hours", TimeWindow{Start: "09:00", End: "18:00"}, "12:30", true},
		{"at start", TimeWindow{Start: "09:00", End: "18:00"}, "09:00", true},
		{"at end is exclusive", TimeWindow{Start: "09:00", End: "18:00"}, "18:00", false},
		{"late evening outside", TimeWindow{Start: "09:00", End: "18:00"}, "22:00", false},
		{"overnight window before midnight", TimeWindow{Start: "22:00", End: "06:00"}, "23:15", true},
		{"overnight window after midnight", TimeWindow{Start: "22:00", End: "06:00"}, "05:59", true},
		{"overnight window closed midday", TimeWindow{Start: "22:00", End: "06:00"}, "12:00", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.window.Contains(at(tt.at)); got != tt.want {
				t.Errorf("Contains(%s) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestConditionEval(t *testing.T) {
	action := &ProposedAction{
		ID:            "a1",
		Type:          "traffic_weight",
		Target:        "offer-7",
		CurrentValue:  100,
		ProposedValue: 140,
		RiskScore:     0.95,
	}
	ctx := &Context{
		EvaluatedAt: time.Now(),
		Metrics:     map[string]float64{"traffic_volume": 1500},
	}

	tests := []struct {
		name    string
		cond    Condition
		want    bool
		wantErr bool
	}{
		{"risk above threshold", Condition{Field: FieldRiskScore, Op: OpGT, Value: 0.9}, true, false},
		{"risk not above own value", Condition{Field: FieldRiskScore, Op: OpGT, Value: 0.95}, false, false},
		{"delta pct gte", Condition{Field: FieldDeltaPct, Op: OpGTE, Value: 40}, true, false},
		{"proposed value lt", Condition{Field: FieldProposedValue, Op: OpLT, Value: 150}, true, false},
		{"metric lookup", Condition{Field: "metric:traffic_volume", Op: OpGTE, Value: 1000}, true, false},
		{"missing metric", Condition{Field: "metric:conversion_rate", Op: OpGT, Value: 0}, false, true},
		{"unknown field", Condition{Field: "weight", Op: OpGT, Value: 0}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cond.Eval(action, ctx)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Eval() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Eval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProposedActionDeltaPct(t *testing.T) {
	tests := []struct {
		name     string
		current  float64
		proposed float64
		want     float64
	}{
		{"forty percent up", 100, 140, 40},
		{"fifteen percent down", 100, 85, 15},
		{"no change", 50, 50, 0},
		{"zero to zero", 0, 0, 0},
		{"negative current", -100, -150, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &ProposedAction{CurrentValue: tt.current, ProposedValue: tt.proposed}
			if got := a.DeltaPct(); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("DeltaPct() = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("zero current unbounded", func(t *testing.T) {
		a := &ProposedAction{CurrentValue: 0, ProposedValue: 1}
		if !math.IsInf(a.DeltaPct(), 1) {
			t.Errorf("DeltaPct() = %v, want +Inf", a.DeltaPct())
		}
	})
}

func TestProposedActionMalformed(t *testing.T) {
	valid := ProposedAction{
		ID: "a1", Type: "traffic_weight", Target: "offer-1",
		CurrentValue: 10, ProposedValue: 12, RiskScore: 0.3,
	}
	if reason := valid.Malformed(); reason != "" {
		t.Fatalf("valid action reported malformed: %s", reason)
	}

	tests := []struct {
		name   string
		mutate func(*ProposedAction)
	}{
		{"missing id", func(a *ProposedAction) { a.ID = "" }},
		{"missing target", func(a *ProposedAction) { a.Target = "" }},
		{"missing type", func(a *ProposedAction) { a.Type = "" }},
		{"nan proposed", func(a *ProposedAction) { a.ProposedValue = math.NaN() }},
		{"inf current", func(a *ProposedAction) { a.CurrentValue = math.Inf(1) }},
		{"risk above one", func(a *ProposedAction) { a.RiskScore = 1.5 }},
		{"negative risk", func(a *ProposedAction) { a.RiskScore = -0.1 }},
		{"nan risk", func(a *ProposedAction) { a.RiskScore = math.NaN() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := valid
			tt.mutate(&a)
			if a.Malformed() == "" {
				t.Error("expected malformed reason, got none")
			}
		})
	}
}

func TestGateOpen(t *testing.T) {
	action := &ProposedAction{ID: "a1", Type: "t", Target: "x", CurrentValue: 1, ProposedValue: 2, RiskScore: 0.1}
	noon := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	night := time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC)

	minVolume := &Condition{Field: "metric:traffic_volume", Op: OpGTE, Value: 1000}

	tests := []struct {
		name string
		gate GateRule
		ctx  Context
		want bool
	}{
		{
			"window open",
			GateRule{Window: &TimeWindow{Start: "09:00", End: "18:00"}},
			Context{EvaluatedAt: noon},
			true,
		},
		{
			"window closed at night",
			GateRule{Window: &TimeWindow{Start: "09:00", End: "18:00"}},
			Context{EvaluatedAt: night},
			false,
		},
		{
			"region allowed",
			GateRule{Regions: []string{"us", "eu"}},
			Context{EvaluatedAt: noon, Region: "eu"},
			true,
		},
		{
			"region denied",
			GateRule{Regions: []string{"us"}},
			Context{EvaluatedAt: noon, Region: "apac"},
			false,
		},
		{
			"volume floor met",
			GateRule{Condition: minVolume},
			Context{EvaluatedAt: noon, Metrics: map[string]float64{"traffic_volume": 2000}},
			true,
		},
		{
			"volume floor unmet",
			GateRule{Condition: minVolume},
			Context{EvaluatedAt: noon, Metrics: map[string]float64{"traffic_volume": 10}},
			false,
		},
		{
			"all parts must hold",
			GateRule{
				Window:  &TimeWindow{Start: "09:00", End: "18:00"},
				Regions: []string{"us"},
			},
			Context{EvaluatedAt: noon, Region: "eu"},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.gate.Open(action, &tt.ctx)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Open() = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("missing metric closes gate", func(t *testing.T) {
		gate := GateRule{Condition: minVolume}
		open, err := gate.Open(action, &Context{EvaluatedAt: noon})
		if err == nil {
			t.Error("expected error for missing metric")
		}
		if open {
			t.Error("gate should be closed when its metric is missing")
		}
	})
}
