package lsp

import (
	"bytes"
	"encoding/json"

	"github.com/tidwall/gjson"
)

// diagnosticRecord is a diagnostic with its range in buffer addressing.
type diagnosticRecord struct {
	Diagnostic
	span ByteRange
}

// actionJob is one queued codeAction or codeAction/resolve request.
type actionJob struct {
	resolve bool
	gen     uint64
	index   int
	action  CodeAction
}

// Diagnostics returns the diagnostics from the last publishDiagnostics.
func (s *Session) Diagnostics() []Diagnostic {
	out := make([]Diagnostic, len(s.diagnostics))
	for i, d := range s.diagnostics {
		out[i] = d.Diagnostic
	}
	return out
}

// DiagnosticAt returns the first diagnostic covering offset.
func (s *Session) DiagnosticAt(offset int) (Diagnostic, bool) {
	for _, d := range s.diagnostics {
		if d.span.Contains(offset) {
			return d.Diagnostic, true
		}
	}
	return Diagnostic{}, false
}

// handleDiagnostics replaces the diagnostic list with the notification's.
func (s *Session) handleDiagnostics(params json.RawMessage) {
	if !gjson.GetBytes(params, "diagnostics").IsArray() {
		s.logger.Warn("dropping diagnostics", "error",
			&MalformedResponseError{Method: MethodPublishDiagnostics, Field: "diagnostics"})
		return
	}
	var p PublishDiagnosticsParams
	if err := json.Unmarshal(params, &p); err != nil {
		s.logger.Warn("dropping diagnostics", "error", err)
		return
	}

	s.diagGen++
	s.actionJobs = nil

	recs := make([]diagnosticRecord, 0, len(p.Diagnostics))
	for i, d := range p.Diagnostics {
		recs = append(recs, diagnosticRecord{Diagnostic: d, span: toByteRange(s.buf, d.Range)})
		if len(d.CodeActions) == 0 {
			s.actionJobs = append(s.actionJobs, actionJob{gen: s.diagGen, index: i})
		}
	}
	s.diagnostics = recs
	s.reportDiagnostics()

	s.requestDocumentLinks()
	s.pumpActions()
}

func (s *Session) reportDiagnostics() {
	entries := make([]DiagnosticEntry, 0, len(s.diagnostics))
	for _, d := range s.diagnostics {
		e := DiagnosticEntry{
			Start:    d.span.Start,
			End:      d.span.End,
			Severity: d.Severity,
			Source:   d.Source,
			Message:  d.Message,
		}
		for _, a := range d.CodeActions {
			e.Fixes = append(e.Fixes, a.Title)
		}
		entries = append(entries, e)
	}
	s.ui.ReportDiagnostics(entries)
}

// pumpActions sends the next queued code action job. Jobs run one at a
// time; results for an older diagnostics generation are discarded.
func (s *Session) pumpActions() {
	for !s.actionInFlight && len(s.actionJobs) > 0 {
		job := s.actionJobs[0]
		s.actionJobs = s.actionJobs[1:]
		if job.gen != s.diagGen || job.index >= len(s.diagnostics) {
			continue
		}

		if job.resolve {
			if !s.ready(CapCodeActionResolve) {
				continue
			}
			s.actionInFlight = s.requestWithError(MethodCodeActionResolve, job.action, func(result json.RawMessage, err error) {
				s.actionInFlight = false
				if err != nil {
					s.logRequestError(MethodCodeActionResolve, err)
				} else if job.gen == s.diagGen {
					s.mergeResolvedAction(job, result)
				}
				s.pumpActions()
			})
			continue
		}

		if !s.ready(CapCodeAction) {
			s.actionJobs = nil
			return
		}
		diag := s.diagnostics[job.index].Diagnostic
		diag.CodeActions = nil
		params := CodeActionParams{
			TextDocument: s.ident(),
			Range:        diag.Range,
			Context:      CodeActionContext{Diagnostics: []Diagnostic{diag}},
		}
		s.actionInFlight = s.requestWithError(MethodCodeAction, params, func(result json.RawMessage, err error) {
			s.actionInFlight = false
			if err != nil {
				s.logRequestError(MethodCodeAction, err)
			} else if job.gen == s.diagGen {
				s.addCodeActions(job, result)
			}
			s.pumpActions()
		})
	}
}

// addCodeActions attaches fetched actions to the diagnostic. Bare commands
// are skipped; actions without an edit are queued for resolve.
func (s *Session) addCodeActions(job actionJob, result json.RawMessage) {
	r := gjson.ParseBytes(result)
	if !r.IsArray() {
		return
	}
	rec := &s.diagnostics[job.index]
	for _, item := range r.Array() {
		if item.Get("command").Type == gjson.String {
			continue
		}
		var a CodeAction
		if err := json.Unmarshal([]byte(item.Raw), &a); err != nil {
			s.logger.Warn("bad code action", "error", err)
			continue
		}
		rec.CodeActions = append(rec.CodeActions, a)
		if a.Edit == nil {
			s.actionJobs = append(s.actionJobs, actionJob{resolve: true, gen: job.gen, index: job.index, action: a})
		}
	}
	s.reportDiagnostics()
}

// mergeResolvedAction replaces the matching action with its resolved form.
func (s *Session) mergeResolvedAction(job actionJob, result json.RawMessage) {
	var resolved CodeAction
	if err := json.Unmarshal(result, &resolved); err != nil {
		s.logger.Warn("bad resolved code action", "error", err)
		return
	}
	actions := s.diagnostics[job.index].CodeActions
	for i := range actions {
		if sameAction(actions[i], job.action) {
			actions[i] = resolved
			return
		}
	}
}

// sameAction compares the identifying fields of two code actions.
func sameAction(a, b CodeAction) bool {
	if a.Title != b.Title || a.Kind != b.Kind {
		return false
	}
	da, errA := json.Marshal(a.Data)
	db, errB := json.Marshal(b.Data)
	return errA == nil && errB == nil && bytes.Equal(da, db)
}

// ApplyFix applies the edits of one code action of one diagnostic, in
// reverse order inside one undo group. It returns false if the indexes do
// not name an action with an edit.
func (s *Session) ApplyFix(diagIndex, actionIndex int) bool {
	if diagIndex < 0 || diagIndex >= len(s.diagnostics) {
		return false
	}
	actions := s.diagnostics[diagIndex].CodeActions
	if actionIndex < 0 || actionIndex >= len(actions) {
		return false
	}
	a := actions[actionIndex]
	if a.Edit == nil {
		s.logger.Debug("code action has no edit", "title", a.Title)
		return false
	}
	s.applyWorkspaceEdit(a.Edit)
	return true
}
