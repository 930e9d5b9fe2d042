package vocab

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultVocabulary(t *testing.T) {
	t.Parallel()

	v := Default()
	if v.Len() != 15 {
		t.Fatalf("expected 15 default commands, got %d", v.Len())
	}
	if got, ok := v.Resolve("暂停播放"); !ok || got != "暂停播放" {
		t.Fatalf("expected default vocabulary to contain 暂停播放, got %q %v", got, ok)
	}
}

func TestParseCommandsAndAliases(t *testing.T) {
	t.Parallel()

	v, err := Parse(strings.Join([]string{
		"# karaoke controls",
		"",
		"暂停 => 暂停播放",
		"暂停播放",
		"  下一首 => 播放下一首  ",
		"播放下一首",
	}, "\n"))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}

	if got := v.Commands(); len(got) != 2 || got[0] != "暂停播放" || got[1] != "播放下一首" {
		t.Fatalf("unexpected commands: %v", got)
	}
	if got, ok := v.Resolve("暂停"); !ok || got != "暂停播放" {
		t.Fatalf("alias did not resolve: %q %v", got, ok)
	}
	if got, ok := v.Resolve("下一首"); !ok || got != "播放下一首" {
		t.Fatalf("trimmed alias did not resolve: %q %v", got, ok)
	}
	if _, ok := v.Resolve("暂停播放吧"); ok {
		t.Fatalf("expected exact membership only")
	}
}

func TestParseRejectsInvalidFiles(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"duplicate command": "静音\n静音\n",
		"undeclared alias":  "关 => 关闭\n静音\n",
		"empty alias side":  " => 静音\n静音\n",
		"shadowing alias":   "静音 => 原唱\n静音\n原唱\n",
		"duplicate alias":   "a => 静音\na => 静音\n静音\n",
		"no commands":       "# nothing here\n",
	}

	for name, contents := range cases {
		name := name
		contents := contents
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := Parse(contents); err == nil {
				t.Fatalf("expected parse error")
			}
		})
	}
}

func TestParseReportsLineNumbers(t *testing.T) {
	t.Parallel()

	_, err := Parse("静音\n\n静音\n")
	if err == nil || !strings.Contains(err.Error(), "line 3") {
		t.Fatalf("expected line 3 in error, got %v", err)
	}
}

func TestLoadFallsBackToDefault(t *testing.T) {
	t.Parallel()

	v, err := Load("")
	if err != nil || v.Len() != Default().Len() {
		t.Fatalf("expected default for empty path, got %v %v", v, err)
	}

	v, err = Load(filepath.Join(t.TempDir(), "missing.vocab"))
	if err != nil || v.Len() != Default().Len() {
		t.Fatalf("expected default for missing file, got %v %v", v, err)
	}
}

func TestLoadReadsFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "commands.vocab")
	if err := os.WriteFile(path, []byte("\ufeff打开设置\n显示时间\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	v, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if _, ok := v.Resolve("打开设置"); !ok {
		t.Fatalf("expected BOM-prefixed first line to be read as a command")
	}
	if v.Len() != 2 {
		t.Fatalf("expected 2 commands, got %d", v.Len())
	}
}

func TestLoadInvalidFileFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.vocab")
	if err := os.WriteFile(path, []byte("x => y\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected load error")
	}
}
