package instrumentation

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestAuditLogger_LogLabelChange(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewTextHandler(&buf, nil)), AuditLoggingConfig{Enabled: true})

	lc := NewLabelChange(context.Background(), "m1", "workflow=drafted", []string{"workflow_drafted"}, []string{"workflow_to_respond"})
	lc.ThreadID = "t1"
	lc.Subject = "Quarterly numbers"
	al.LogLabelChange(lc.Complete(time.Now(), nil))

	out := buf.String()
	for _, want := range []string{"label_change", "message_id=m1", "added=workflow_drafted", "removed=workflow_to_respond", "log_type=audit", "thread_id=t1"} {
		if !strings.Contains(out, want) {
			t.Errorf("audit output missing %q: %s", want, out)
		}
	}
	if strings.Contains(out, "Quarterly") {
		t.Error("subject must not be logged unless enabled")
	}
}

func TestAuditLogger_FailureAndSubjects(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewTextHandler(&buf, nil)), AuditLoggingConfig{Enabled: true, IncludeSubjects: true})

	lc := NewLabelChange(context.Background(), "m2", "ai=[]", nil, []string{"ai_urgent"})
	lc.Subject = "Quarterly numbers"
	al.LogLabelChange(lc.Complete(time.Now(), errors.New("status 500")))

	out := buf.String()
	if !strings.Contains(out, "label_change_failed") || !strings.Contains(out, "status 500") {
		t.Errorf("expected failure record, got %s", out)
	}
	if !strings.Contains(out, "Quarterly") {
		t.Error("subject should be logged when enabled")
	}
	if lc.Status() != StatusError {
		t.Errorf("status = %q", lc.Status())
	}
}

func TestAuditLogger_DisabledAndNil(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewTextHandler(&buf, nil)), AuditLoggingConfig{Enabled: false})
	al.LogLabelChange(&LabelChange{MessageID: "m1", Success: true})
	if buf.Len() != 0 {
		t.Errorf("disabled audit logger wrote %q", buf.String())
	}

	var nilLogger *AuditLogger
	nilLogger.LogLabelChange(&LabelChange{MessageID: "m1"})
}
