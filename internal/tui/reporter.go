package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"packager/internal/errs"
	"packager/internal/indexer"
	"packager/internal/installer"
)

// IndexColumns is the table layout used by "index create".
var IndexColumns = []Column{
	{Header: "ARCHIVE", Width: 36},
	{Header: "STATUS", Width: 10},
	{Header: "PACKAGE", Width: 16},
	{Header: "VERSION", Width: 24},
	{Header: "SOURCE", Width: 8},
}

// IndexReporter turns indexer progress events into row updates.
type IndexReporter struct {
	send func(tea.Msg)
}

// NewIndexReporter returns a reporter that delivers updates through send.
func NewIndexReporter(send func(tea.Msg)) *IndexReporter {
	return &IndexReporter{send: send}
}

// Start implements indexer.Progress.
func (r *IndexReporter) Start(file string) {
	r.send(RowUpdateMsg{
		Key:    file,
		Fields: map[string]string{"ARCHIVE": file, "STATUS": StatusInspecting},
	})
}

// Complete implements indexer.Progress.
func (r *IndexReporter) Complete(res indexer.FileResult) {
	r.send(RowUpdateMsg{Key: res.File, Fields: IndexFields(res, StatusIndexed)})
}

// IndexFields renders a result as table fields. ok is the status used
// when the archive was accepted.
func IndexFields(res indexer.FileResult, ok string) map[string]string {
	fields := map[string]string{
		"ARCHIVE": res.File,
		"STATUS":  ok,
		"PACKAGE": NonEmptyOrDash(res.Package),
		"VERSION": NonEmptyOrDash(res.Version),
		"SOURCE":  "-",
	}
	if res.Source != 0 {
		fields["SOURCE"] = res.Source.String()
	}
	if res.Err != nil {
		fields["STATUS"] = StatusSkipped
		fields["VERSION"] = errs.Code(res.Err)
	}
	return fields
}

// PlanColumns is the table layout used by "apply".
var PlanColumns = []Column{
	{Header: "#", Width: 3},
	{Header: "REQUEST", Width: 48},
	{Header: "STATUS", Width: 8},
	{Header: "VERSION", Width: 16},
	{Header: "DETAIL", Width: 32},
}

// PlanReporter reports the requests of a plan as they run.
type PlanReporter struct {
	send func(tea.Msg)
}

// NewPlanReporter returns a reporter that delivers updates through send.
func NewPlanReporter(send func(tea.Msg)) *PlanReporter {
	return &PlanReporter{send: send}
}

// Pending lists a request before any of the plan runs.
func (r *PlanReporter) Pending(i int, req installer.Request) {
	r.send(RowUpdateMsg{Key: planKey(i), Fields: map[string]string{
		"#":       fmt.Sprint(i + 1),
		"REQUEST": req.String(),
		"STATUS":  StatusPending,
	}})
}

// Start marks request i as running.
func (r *PlanReporter) Start(i int) {
	r.send(RowUpdateMsg{Key: planKey(i), Fields: map[string]string{"STATUS": StatusRunning}})
}

// Complete records the response to request i.
func (r *PlanReporter) Complete(i int, resp installer.Response) {
	r.send(RowUpdateMsg{Key: planKey(i), Fields: PlanFields(resp)})
}

// PlanFields renders a response as table fields.
func PlanFields(resp installer.Response) map[string]string {
	fields := map[string]string{
		"STATUS":  StatusOK,
		"VERSION": NonEmptyOrDash(resp.PackageVersion),
		"DETAIL":  "-",
	}
	switch {
	case resp.Failed:
		fields["STATUS"] = StatusFailed
		fields["DETAIL"] = resp.Msg + ": " + resp.Code
	case resp.Changed:
		fields["STATUS"] = StatusChanged
	}
	return fields
}

func planKey(i int) string { return fmt.Sprintf("request:%03d", i) }
