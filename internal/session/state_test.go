package session

import (
	"encoding/json"
	"testing"
)

func TestParseScoreMode(t *testing.T) {
	tests := []struct {
		input   string
		want    ScoreMode
		wantErr bool
	}{
		{"none", ScoreNone, false},
		{"single", ScoreSingle, false},
		{"home-away", ScoreHomeAway, false},
		{"league", ScoreNone, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseScoreMode(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseScoreMode(%q) returned no error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseScoreMode(%q): %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseScoreMode(%q) = %v, want %v", tt.input, got, tt.want)
			}
			if got.String() != tt.input {
				t.Errorf("String() = %q, want %q", got.String(), tt.input)
			}
		})
	}
}

func TestScoreModeJSON(t *testing.T) {
	data, err := json.Marshal(ScoreHomeAway)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"home-away"` {
		t.Errorf("Marshal = %s, want \"home-away\"", data)
	}

	var m ScoreMode
	if err := json.Unmarshal([]byte(`"single"`), &m); err != nil {
		t.Fatal(err)
	}
	if m != ScoreSingle {
		t.Errorf("Unmarshal = %v, want single", m)
	}
}

func TestPlayerStateVelocityOptional(t *testing.T) {
	tests := []struct {
		name  string
		state PlayerState
		want  string
	}{
		{"without velocity", PlayerState{ID: "B"}, `{"id":"B","x":0,"y":0}`},
		{"with velocity", PlayerState{ID: "B", Velocity: &Vec{X: 1, Y: 2}}, `{"id":"B","x":0,"y":0,"velocity":{"x":1,"y":2}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.state)
			if err != nil {
				t.Fatal(err)
			}
			if string(data) != tt.want {
				t.Errorf("Marshal = %s, want %s", data, tt.want)
			}
		})
	}
}

func TestScoreFormat(t *testing.T) {
	s := Score{Home: 2, Away: 1, Total: 5}
	tests := []struct {
		mode ScoreMode
		want string
	}{
		{ScoreNone, ""},
		{ScoreSingle, "5"},
		{ScoreHomeAway, "2 - 1"},
	}
	for _, tt := range tests {
		if got := s.Format(tt.mode); got != tt.want {
			t.Errorf("Format(%v) = %q, want %q", tt.mode, got, tt.want)
		}
	}
}
