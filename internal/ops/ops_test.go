package ops

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/identity"
)

type recordingHook struct {
	name  string
	trace *[]string
	deny  error
}

func (h recordingHook) BeforeCall(_ context.Context, c *Call) error {
	*h.trace = append(*h.trace, h.name+":before:"+c.Operation)
	return h.deny
}

func (h recordingHook) AfterCall(_ context.Context, c *Call, _ any) {
	*h.trace = append(*h.trace, h.name+":after:"+c.Operation)
}

func (h recordingHook) OnError(_ context.Context, c *Call, err error) error {
	*h.trace = append(*h.trace, h.name+":error:"+c.Operation)
	return err
}

type memSink struct {
	mu      sync.Mutex
	reports []string
}

func (s *memSink) Report(_ context.Context, message, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, title+"|"+message)
}

func echoOp() Operation {
	return Operation{
		Name:   "echo",
		Domain: "test",
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			return identity.User(ctx) + ":" + string(args), nil
		},
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoOp()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(echoOp()); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if err := r.Register(Operation{Name: "nohandler"}); err == nil {
		t.Fatal("expected missing handler to fail")
	}
}

func TestRegistryOrderAndDomains(t *testing.T) {
	r := NewRegistry()
	noop := func(context.Context, json.RawMessage) (any, error) { return nil, nil }
	r.MustRegister(
		Operation{Name: "b", Domain: "mail", Handler: noop},
		Operation{Name: "a", Domain: "chat", Handler: noop},
		Operation{Name: "c", Domain: "mail", Handler: noop},
	)
	var names []string
	for _, op := range r.All() {
		names = append(names, op.Name)
	}
	if got := strings.Join(names, ","); got != "b,a,c" {
		t.Errorf("All order = %s, want b,a,c", got)
	}
	if got := strings.Join(r.Domains(), ","); got != "chat,mail" {
		t.Errorf("Domains = %s", got)
	}
	if got := len(r.ByDomain("mail")); got != 2 {
		t.Errorf("ByDomain(mail) = %d ops, want 2", got)
	}
}

func TestInvokeRunsHooksInOrder(t *testing.T) {
	var trace []string
	r := NewRegistry()
	r.MustRegister(echoOp())
	p := NewPipeline(r, recordingHook{"outer", &trace, nil}, recordingHook{"inner", &trace, nil})

	ctx := identity.WithUser(context.Background(), "alice")
	res, err := p.Invoke(ctx, "echo", json.RawMessage(`{"x":1}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res != `alice:{"x":1}` {
		t.Errorf("result = %v", res)
	}
	want := "outer:before:echo inner:before:echo inner:after:echo outer:after:echo"
	if got := strings.Join(trace, " "); got != want {
		t.Errorf("trace = %s\nwant %s", got, want)
	}
}

func TestInvokeDefaultsEmptyArgs(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(echoOp())
	res, err := NewPipeline(r).Invoke(context.Background(), "echo", nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res != ":{}" {
		t.Errorf("result = %v, want :{}", res)
	}
}

func TestBeforeCallAbort(t *testing.T) {
	var trace []string
	denied := errors.New("denied")
	r := NewRegistry()
	called := false
	r.MustRegister(Operation{Name: "op", Handler: func(context.Context, json.RawMessage) (any, error) {
		called = true
		return nil, nil
	}})
	p := NewPipeline(r, recordingHook{"h", &trace, denied})
	if _, err := p.Invoke(context.Background(), "op", nil); !errors.Is(err, denied) {
		t.Fatalf("err = %v, want denied", err)
	}
	if called {
		t.Error("handler ran after BeforeCall failed")
	}
	if got := strings.Join(trace, " "); got != "h:before:op h:error:op" {
		t.Errorf("trace = %s", got)
	}
}

func TestInvokeUnknownOperation(t *testing.T) {
	_, err := NewPipeline(NewRegistry()).Invoke(context.Background(), "missing", nil)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPanicBecomesReportedError(t *testing.T) {
	sink := &memSink{}
	r := NewRegistry()
	r.MustRegister(Operation{Name: "boom", Handler: func(context.Context, json.RawMessage) (any, error) {
		panic("kaboom")
	}})
	p := NewPipeline(r, ReportingHook{Sink: sink})
	_, err := p.Invoke(context.Background(), "boom", nil)
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("err = %v, want panic error", err)
	}
	if apperr.Public(err) != apperr.GenericMessage {
		t.Errorf("public message leaked internals: %q", apperr.Public(err))
	}
	if len(sink.reports) != 1 || !strings.HasPrefix(sink.reports[0], "boom failed|") {
		t.Errorf("reports = %v", sink.reports)
	}
}

func TestReportingHookSkipsExpectedErrors(t *testing.T) {
	sink := &memSink{}
	h := ReportingHook{Sink: sink}
	call := &Call{Operation: "op"}
	for _, err := range []error{
		apperr.ErrNotFound,
		apperr.ErrForbidden,
		apperr.User("Could not access URL: x", errors.New("dial")),
	} {
		if got := h.OnError(context.Background(), call, err); got != err {
			t.Errorf("OnError changed error %v to %v", err, got)
		}
	}
	if len(sink.reports) != 0 {
		t.Errorf("expected no reports, got %v", sink.reports)
	}
	h.OnError(context.Background(), call, errors.New("database locked"))
	if len(sink.reports) != 1 {
		t.Errorf("expected unexpected error to be reported, got %v", sink.reports)
	}
}
