package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"packager/internal/errs"
	"packager/internal/indexer"
	"packager/internal/installer"
	"packager/pkg/version"
)

func newTestModel() ProgressModel {
	return NewProgressModel("test", "Indexing", []Column{
		{Header: "ARCHIVE", Width: 16},
		{Header: "STATUS", Width: 10},
		{Header: "VERSION", Width: 10},
	})
}

func TestRowUpdateMsg(t *testing.T) {
	m := newTestModel()
	m.AddRow("a", []string{"a.tgz", StatusPending})
	m.AddRow("b", []string{"b.tgz", StatusPending})

	updated, _ := m.Update(RowUpdateMsg{
		Key:    "a",
		Fields: map[string]string{"STATUS": StatusIndexed, "VERSION": "2.0.0"},
	})
	m = updated.(ProgressModel)

	if m.rows[0].Fields[1] != StatusIndexed || m.rows[0].Fields[2] != "2.0.0" {
		t.Errorf("row a = %v", m.rows[0].Fields)
	}
	if m.rows[1].Fields[1] != StatusPending {
		t.Errorf("row b STATUS = %q, want pending", m.rows[1].Fields[1])
	}
}

func TestRowUpdateMsgCreatesRow(t *testing.T) {
	m := newTestModel()
	updated, _ := m.Update(RowUpdateMsg{
		Key:    "nova-2.0.0.tgz",
		Fields: map[string]string{"ARCHIVE": "nova-2.0.0.tgz", "STATUS": StatusInspecting},
	})
	m = updated.(ProgressModel)

	if len(m.rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(m.rows))
	}
	if got := m.rows[0].Fields; got[0] != "nova-2.0.0.tgz" || got[1] != StatusInspecting || got[2] != "" {
		t.Errorf("fields = %v", got)
	}
}

func TestWorkDoneAndError(t *testing.T) {
	m := newTestModel()
	updated, cmd := m.Update(WorkDoneMsg{})
	if !updated.(ProgressModel).Done() || cmd == nil {
		t.Error("WorkDoneMsg should finish and quit")
	}

	m = newTestModel()
	updated, cmd = m.Update(ErrorMsg{Err: errors.New("boom")})
	m = updated.(ProgressModel)
	if !m.Done() || m.Err() == nil || cmd == nil {
		t.Error("ErrorMsg should record the error and quit")
	}
	if !strings.Contains(m.View(), "Error: boom") {
		t.Errorf("view = %q", m.View())
	}
}

func TestCtrlCCancels(t *testing.T) {
	m := newTestModel()
	cancelled := false
	m.OnCancel(func() { cancelled = true })

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if !updated.(ProgressModel).Done() || cmd == nil {
		t.Error("ctrl+c should finish and quit")
	}
	if !cancelled {
		t.Error("ctrl+c should invoke the cancel hook")
	}
}

func TestView(t *testing.T) {
	m := newTestModel()
	m.AddRow("a", []string{"nova-2.0.0.tgz", StatusIndexed, "2.0.0"})
	m.AddRow("b", []string{"a-very-long-archive-name.tgz", StatusPending})

	view := m.View()
	for _, want := range []string{"test", "ARCHIVE", "STATUS", "VERSION", "nova-2.0.0.tgz", "2.0.0", "a-very-long-a...", "Indexing 1/2"} {
		if !strings.Contains(view, want) {
			t.Errorf("view lacks %q:\n%s", want, view)
		}
	}

	updated, _ := m.Update(WorkDoneMsg{})
	if strings.Contains(updated.(ProgressModel).View(), "Indexing") {
		t.Error("footer should disappear when done")
	}
}

func TestProgressCountsUseExpected(t *testing.T) {
	m := newTestModel()
	updated, _ := m.Update(ExpectMsg(5))
	m = updated.(ProgressModel)
	m.AddRow("a", []string{"a", StatusIndexed})
	m.AddRow("b", []string{"b", StatusSkipped})
	m.AddRow("c", []string{"c", StatusInspecting})

	processed, total := m.progressCounts()
	if processed != 2 || total != 5 {
		t.Errorf("progressCounts = %d/%d, want 2/5", processed, total)
	}
}

func TestTick(t *testing.T) {
	m := newTestModel()
	updated, cmd := m.Update(tickMsg{})
	m = updated.(ProgressModel)
	if m.tick != 1 || cmd == nil {
		t.Errorf("tick = %d, cmd = %v", m.tick, cmd)
	}

	updated, _ = m.Update(WorkDoneMsg{})
	if _, cmd := updated.Update(tickMsg{}); cmd != nil {
		t.Error("no tick should be scheduled after done")
	}
}

func TestIndexReporter(t *testing.T) {
	var msgs []tea.Msg
	r := NewIndexReporter(func(msg tea.Msg) { msgs = append(msgs, msg) })
	r.Start("nova-2.0.0.tgz")
	r.Complete(indexer.FileResult{File: "nova-2.0.0.tgz", Package: "nova", Version: "2.0.0", Source: version.SourceMetadata})
	r.Complete(indexer.FileResult{File: "broken-1.0.tgz", Err: errs.New(errs.ErrArchiveFormat, "inspect")})

	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	ok := msgs[1].(RowUpdateMsg).Fields
	if ok["STATUS"] != StatusIndexed || ok["SOURCE"] != "metadata" || ok["PACKAGE"] != "nova" {
		t.Errorf("indexed fields = %v", ok)
	}
	bad := msgs[2].(RowUpdateMsg).Fields
	if bad["STATUS"] != StatusSkipped || bad["VERSION"] != "archive_format" || bad["SOURCE"] != "-" {
		t.Errorf("skipped fields = %v", bad)
	}
}

func TestPlanFields(t *testing.T) {
	tests := []struct {
		resp   installer.Response
		status string
	}{
		{installer.Response{}, StatusOK},
		{installer.Response{Changed: true, PackageVersion: "2.0.0"}, StatusChanged},
		{installer.Response{Failed: true, Msg: "Installation failed", Code: "unknown_package"}, StatusFailed},
	}
	for _, tt := range tests {
		if got := PlanFields(tt.resp)["STATUS"]; got != tt.status {
			t.Errorf("PlanFields(%+v) STATUS = %q, want %q", tt.resp, got, tt.status)
		}
	}
	if d := PlanFields(tests[2].resp)["DETAIL"]; d != "Installation failed: unknown_package" {
		t.Errorf("DETAIL = %q", d)
	}
}

func TestTruncateWithEllipsis(t *testing.T) {
	tests := []struct {
		input string
		max   int
		want  string
	}{
		{"short", 10, "short"},
		{"a longer string here", 10, "a longe..."},
		{"abc", 3, "abc"},
		{"abcd", 3, "abc"},
		{"", 5, ""},
		{"hello", 0, ""},
	}
	for _, tt := range tests {
		if got := TruncateWithEllipsis(tt.input, tt.max); got != tt.want {
			t.Errorf("TruncateWithEllipsis(%q, %d) = %q, want %q", tt.input, tt.max, got, tt.want)
		}
	}
}

func TestFormatElapsed(t *testing.T) {
	tests := map[string]string{
		"250ms": "250ms",
		"2.5s":  "2.5s",
		"42s":   "42s",
		"125s":  "2m05s",
	}
	for in, want := range tests {
		d, err := time.ParseDuration(in)
		if err != nil {
			t.Fatal(err)
		}
		if got := formatElapsed(d); got != want {
			t.Errorf("formatElapsed(%s) = %q, want %q", in, got, want)
		}
	}
}
