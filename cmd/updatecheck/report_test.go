package main

import (
	"bytes"
	"strings"
	"testing"

	"updatecheck/internal/update"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/reflow/wordwrap"
)

func sampleResult() update.Result {
	remote := "2.1.0"
	res := update.Result{
		UpdateAvailable: true,
		RemoteVersion:   &remote,
		ReleaseDate:     "2025-02-01",
		RepoURL:         "https://github.com/example/tool",
		Note:            "Run **migrate** after upgrading",
	}
	res.Message = update.FormatWarning("tool", "1.0.0", res)
	return res
}

func TestRenderNoticePlain(t *testing.T) {
	var buf bytes.Buffer
	res := sampleResult()
	renderNotice(&buf, res, "plain")

	if got := strings.TrimSuffix(buf.String(), "\n"); got != res.Message {
		t.Errorf("plain notice =\n%s\nwant\n%s", got, res.Message)
	}
}

func TestRenderNoticeRich(t *testing.T) {
	for _, format := range []string{"rich", "light"} {
		t.Run(format, func(t *testing.T) {
			t.Setenv("NO_COLOR", "1")
			var buf bytes.Buffer
			renderNotice(&buf, sampleResult(), format)
			out := buf.String()

			for _, want := range []string{"╭", "A new version of tool is available: 2.1.0 (installed: 1.0.0)", "2025-02-01", "https://github.com/example/tool", "migrate"} {
				if !strings.Contains(out, want) {
					t.Errorf("%s notice missing %q:\n%s", format, want, out)
				}
			}
		})
	}
}

func TestBuildMarkdownRendererPlainStyle(t *testing.T) {
	text := "alpha beta gamma delta"
	width := 6
	want := wordwrap.String(text, width)

	render := buildMarkdownRenderer("plain", width)
	if got := render(text); got != want {
		t.Fatalf("expected plain renderer to match fallback %q, got %q", want, got)
	}
}

func TestBuildMarkdownRendererUnknownStyleFallsBack(t *testing.T) {
	render := buildMarkdownRenderer("no-such-style", 40)
	if got := render("hello"); !strings.Contains(got, "hello") {
		t.Fatalf("renderer lost the text: %q", got)
	}
}

func TestWaitDisplayStop(t *testing.T) {
	var nilDisplay *waitDisplay
	nilDisplay.Stop()

	var buf bytes.Buffer
	d := newWaitDisplay(&buf, "Finishing update check...")
	d.Stop()
	d.Stop()
	if !strings.HasSuffix(buf.String(), "\r\033[K") {
		t.Errorf("Stop should clear the spinner line, output %q", buf.String())
	}
}

func TestWaitModelUpdate(t *testing.T) {
	m := newWaitModel("Finishing update check...")

	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC}); cmd != nil {
		t.Error("key presses should be ignored; the display reads no input")
	}
	_, cmd := m.Update(waitDoneMsg{})
	if cmd == nil {
		t.Fatal("expected a quit command once the check is done")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("done message should quit the program")
	}
	if !strings.Contains(m.View(), "Finishing update check...") {
		t.Errorf("view missing status: %q", m.View())
	}
}
