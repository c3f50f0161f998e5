package severity

import (
	"testing"
)

func TestLevel_Priority(t *testing.T) {
	tests := []struct {
		level    Level
		expected int
	}{
		{Critical, 4},
		{High, 3},
		{Medium, 2},
		{Low, 1},
		{Unknown, 0},
		{Level("invalid"), 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			if got := tt.level.Priority(); got != tt.expected {
				t.Errorf("Level.Priority() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestLevel_Weight(t *testing.T) {
	tests := []struct {
		level    Level
		expected int
	}{
		{Critical, 10},
		{High, 7},
		{Medium, 4},
		{Low, 1},
		{Unknown, 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			if got := tt.level.Weight(); got != tt.expected {
				t.Errorf("Level.Weight() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestFromBandit(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Level
	}{
		{"high maps to high, never critical", "HIGH", High},
		{"medium", "MEDIUM", Medium},
		{"low", "LOW", Low},
		{"lowercase accepted", "high", High},
		{"whitespace trimmed", "  MEDIUM ", Medium},
		{"empty resolves to unknown", "", Unknown},
		{"critical is not a bandit tier", "CRITICAL", Unknown},
		{"garbage resolves to unknown", "SEVERE", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromBandit(tt.input); got != tt.expected {
				t.Errorf("FromBandit(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFromTrivy(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Level
	}{
		{"critical", "CRITICAL", Critical},
		{"high", "HIGH", High},
		{"medium", "MEDIUM", Medium},
		{"low", "LOW", Low},
		{"unknown stays unknown", "UNKNOWN", Unknown},
		{"empty resolves to unknown", "", Unknown},
		{"garbage resolves to unknown", "NEGLIGIBLE", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromTrivy(tt.input); got != tt.expected {
				t.Errorf("FromTrivy(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Level
		expected int
	}{
		{"critical above high", Critical, High, 1},
		{"low below medium", Low, Medium, -1},
		{"equal levels", High, High, 0},
		{"unknown below low", Unknown, Low, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compare(tt.a, tt.b); got != tt.expected {
				t.Errorf("Compare(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}

func TestCount_Increment(t *testing.T) {
	var c Count
	for _, l := range []Level{Critical, High, High, Medium, Low, Unknown, Level("bogus")} {
		c.Increment(l)
	}

	if c.Critical != 1 || c.High != 2 || c.Medium != 1 || c.Low != 1 || c.Unknown != 2 {
		t.Errorf("unexpected counts: %+v", c)
	}
	if c.Total != 7 {
		t.Errorf("Total = %d, want 7", c.Total)
	}
	if got := c.Highest(); got != Critical {
		t.Errorf("Highest() = %v, want %v", got, Critical)
	}
}

func TestCount_HighestEmpty(t *testing.T) {
	var c Count
	if got := c.Highest(); got != Unknown {
		t.Errorf("Highest() on empty count = %v, want %v", got, Unknown)
	}
}
