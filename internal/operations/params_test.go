package operations

import (
	"testing"
)

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"0", 0, true},
		{"12", 12, true},
		{"12.5", 12.5, true},
		{"00:00:01", 1, true},
		{"1:02:03", 3723, true},
		{"01:02:03.250", 3723.25, true},
		{"00:60:00", 0, false},
		{"-1", 0, false},
		{"1e3", 0, false},
		{"abc", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseTime(tt.in)
			if ok != tt.ok {
				t.Fatalf("ParseTime(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("ParseTime(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidators(t *testing.T) {
	tests := []struct {
		name     string
		validate func(name, value string) error
		value    string
		wantErr  bool
	}{
		{"float in range", FloatRange(0.5, 100), "2", false},
		{"float low", FloatRange(0.5, 100), "0.4", true},
		{"float not a number", FloatRange(0.5, 100), "fast", true},
		{"float NaN", FloatRange(0.5, 100), "NaN", true},
		{"float Inf", FloatRange(0.5, 100), "Inf", true},
		{"float hex", FloatRange(0.5, 100), "0x1p1", true},
		{"float exponent", FloatRange(0.5, 100), "1e1", true},
		{"float negative", FloatRange(0.5, 100), "-2", true},
		{"float decimal", FloatRange(0.5, 100), "1.25", false},
		{"int in range", IntRange(0, 51), "51", false},
		{"int high", IntRange(0, 51), "52", true},
		{"int fractional", IntRange(0, 51), "2.5", true},
		{"one of ok", OneOf("in", "out"), "out", false},
		{"one of bad", OneOf("in", "out"), "sideways", true},
		{"dimension positive", Dimension, "640", false},
		{"dimension keep aspect", Dimension, "-2", false},
		{"dimension zero", Dimension, "0", true},
		{"dimension too large", Dimension, "9000", true},
		{"dimension -3", Dimension, "-3", true},
		{"not blank ok", NotBlank, "x", false},
		{"not blank spaces", NotBlank, "   ", true},
		{"time ok", TimeValue, "00:00:05", false},
		{"time bad", TimeValue, "5s", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.validate("field", tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("validate(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestTimeOrder(t *testing.T) {
	if err := timeOrder(map[string]string{"start": "1", "end": "00:00:02"}); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := timeOrder(map[string]string{"start": "5", "end": "5"}); err == nil {
		t.Error("Expected error when end equals start")
	}
}

func TestScaleCheck(t *testing.T) {
	if err := scaleCheck(map[string]string{"width": "-2", "height": "720"}); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := scaleCheck(map[string]string{"width": "-1", "height": "-1"}); err == nil {
		t.Error("Expected error when both dimensions are negative")
	}
}
