package autostart

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandLine(t *testing.T) {
	tests := []struct {
		name string
		exe  string
		args []string
		want string
	}{
		{"plain", `C:\Tools\rpoverlay.exe`, nil, `C:\Tools\rpoverlay.exe`},
		{"spaces", `C:\Program Files\RPOverlay\rpoverlay.exe`, nil, `"C:\Program Files\RPOverlay\rpoverlay.exe"`},
		{"args", `C:\rp.exe`, []string{"--profile", "polis"}, `C:\rp.exe --profile polis`},
		{"quoted arg", `C:\rp.exe`, []string{"--data-dir", `D:\My "RP"`}, `C:\rp.exe --data-dir "D:\My \"RP\""`},
		{"empty arg", `C:\rp.exe`, []string{""}, `C:\rp.exe ""`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CommandLine(tt.exe, tt.args...))
		})
	}
}
