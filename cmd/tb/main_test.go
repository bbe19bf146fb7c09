package main

import "testing"

func TestParseRedirect(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"redirect url", "http://localhost:8080/callback?code=abc&state=s1", "abc", false},
		{"bare code", "abc", "abc", false},
		{"state mismatch", "http://localhost:8080/callback?code=abc&state=other", "", true},
		{"denied", "http://localhost:8080/callback?code=&error=access_denied&state=s1", "", true},
		{"empty input", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRedirect(tt.input, "s1")
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseRedirect() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseRedirect() = %q, want %q", got, tt.want)
			}
		})
	}
}
