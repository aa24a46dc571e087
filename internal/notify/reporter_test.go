package notify

import (
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeSender struct {
	err        error
	from, to   string
	rendered   *Rendered
	callCount  int
}

func (f *fakeSender) Send(from, to string, rendered *Rendered) error {
	f.callCount++
	f.from, f.to, f.rendered = from, to, rendered
	return f.err
}

func TestRenderIncludesStageAndSyncer(t *testing.T) {
	r := Report{
		Syncer:     "www",
		Stage:      "commit",
		Host:       "peer1",
		Err:        errors.New("rename failed"),
		Attempt:    2,
		MaxAttempt: 3,
		When:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	rendered, err := Render(r)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(rendered.Subject, "commit") || !strings.Contains(rendered.Subject, "www") {
		t.Errorf("subject %q missing stage/syncer", rendered.Subject)
	}
	if !strings.Contains(rendered.Subject, "peer1") {
		t.Errorf("subject %q missing peer host", rendered.Subject)
	}
	if !strings.Contains(rendered.Body, "rename failed") {
		t.Errorf("body %q missing error text", rendered.Body)
	}
	if !strings.Contains(rendered.Body, "2/3") {
		t.Errorf("body %q missing attempt counter", rendered.Body)
	}
}

func TestRenderOmitsPeerLineForLocalFailures(t *testing.T) {
	r := Report{Syncer: "www", Stage: "local-mirror", Err: errors.New("disk full"), When: time.Now()}
	rendered, err := Render(r)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(rendered.Subject, "peer") {
		t.Errorf("subject %q should not mention a peer", rendered.Subject)
	}
	if strings.Contains(rendered.Body, "Peer:") {
		t.Errorf("body %q should not have a Peer line", rendered.Body)
	}
}

func TestReporterNotifyIsNoopWithoutRecipient(t *testing.T) {
	primary := &fakeSender{}
	rp := &Reporter{Primary: primary}
	if err := rp.Notify("from@x", "", Report{Syncer: "www", Stage: "commit", Err: errors.New("x"), When: time.Now()}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if primary.callCount != 0 {
		t.Error("expected no send attempt with empty recipient")
	}
}

func TestReporterFallsBackWhenPrimaryFails(t *testing.T) {
	primary := &fakeSender{err: errors.New("smtp down")}
	fallback := &fakeSender{}
	rp := &Reporter{Primary: primary, Fallback: fallback}

	err := rp.Notify("from@x", "ops@x", Report{Syncer: "www", Stage: "commit", Err: errors.New("x"), When: time.Now()})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if primary.callCount != 1 {
		t.Error("expected primary to be attempted")
	}
	if fallback.callCount != 1 {
		t.Error("expected fallback to be used after primary failure")
	}
}

func TestReporterReturnsErrorWhenBothSendersFail(t *testing.T) {
	primary := &fakeSender{err: errors.New("smtp down")}
	fallback := &fakeSender{err: errors.New("sendmail missing")}
	rp := &Reporter{Primary: primary, Fallback: fallback}

	err := rp.Notify("from@x", "ops@x", Report{Syncer: "www", Stage: "commit", Err: errors.New("x"), When: time.Now()})
	if err == nil {
		t.Error("expected error when both senders fail")
	}
}
