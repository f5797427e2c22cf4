package xerrors

import (
	"errors"
	"io/fs"
	"runtime"
	"strings"
	"testing"
)

type stackTracer interface{ StackPCs() []uintptr }
type pcer interface{ PC() uintptr }

func frameNames(pcs []uintptr) []string {
	var out []string
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		out = append(out, fr.Function)
		if !more {
			return out
		}
	}
}

func firstFrame(t *testing.T, err error) string {
	t.Helper()
	var st stackTracer
	if !errors.As(err, &st) || len(st.StackPCs()) == 0 {
		t.Fatalf("%v: no stack", err)
	}
	return frameNames(st.StackPCs())[0]
}

func TestConstructors_StackStartsAtCaller(t *testing.T) {
	tests := []struct {
		name string
		err  error
		msg  string
	}{
		{"New", New("store: file dir is required"), "store: file dir is required"},
		{"Newf", Newf("realtime: unsupported url scheme %q", "ftp"), `realtime: unsupported url scheme "ftp"`},
		{"WithStack", WithStack(fs.ErrNotExist), fs.ErrNotExist.Error()},
		{"EnsureTrace", EnsureTrace(fs.ErrNotExist), fs.ErrNotExist.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.msg {
				t.Fatalf("Error() = %q, want %q", tt.err.Error(), tt.msg)
			}
			if fn := firstFrame(t, tt.err); !strings.HasSuffix(fn, "TestConstructors_StackStartsAtCaller") {
				t.Fatalf("first frame = %q", fn)
			}
			if _, ok := tt.err.(interface{ IsXerrorsWrapper() }); !ok {
				t.Fatal("missing IsXerrorsWrapper marker")
			}
		})
	}
}

func TestNilPassThrough(t *testing.T) {
	for name, err := range map[string]error{
		"Wrap":        Wrap(nil, "x"),
		"Wrapf":       Wrapf(nil, "x %d", 1),
		"WithStack":   WithStack(nil),
		"EnsureTrace": EnsureTrace(nil),
	} {
		if err != nil {
			t.Errorf("%s(nil) = %v", name, err)
		}
	}
}

func TestWrap_MessageChainAndPC(t *testing.T) {
	err := Wrapf(Wrap(fs.ErrNotExist, "store: read snapshot"), "syncer: load %s", "tab:home")

	if want := "syncer: load tab:home: store: read snapshot: " + fs.ErrNotExist.Error(); err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
	if !Is(err, fs.ErrNotExist) {
		t.Fatal("Is should see the root cause through both wraps")
	}

	var p pcer
	if !As(err, &p) || p.PC() == 0 {
		t.Fatal("wrap should record a caller PC")
	}
	if runtime.FuncForPC(p.PC()) == nil {
		t.Fatal("PC does not resolve to a function")
	}

	inner := errors.Unwrap(err)
	var p2 pcer
	if !As(inner, &p2) || p2.PC() == 0 {
		t.Fatal("inner wrap lost its PC")
	}
}

func TestWrap_DoesNotCaptureStack(t *testing.T) {
	var st stackTracer
	if As(Wrap(fs.ErrNotExist, "x"), &st) {
		t.Fatal("Wrap of a plain error should not carry a full stack")
	}
}

func TestEnsureTrace_KeepsExistingStack(t *testing.T) {
	base := New("api: base URL is required")
	if got := EnsureTrace(base); got != base {
		t.Fatal("already stacked error should be returned unchanged")
	}

	wrapped := Wrap(base, "contentsync: configure")
	if got := EnsureTrace(wrapped); got != wrapped {
		t.Fatal("stack deeper in the chain should be honored")
	}

	plain := Wrap(fs.ErrPermission, "store: write")
	traced := EnsureTrace(plain)
	if traced == plain {
		t.Fatal("chain without a stack should gain one")
	}
	if !Is(traced, fs.ErrPermission) || traced.Error() != plain.Error() {
		t.Fatalf("EnsureTrace changed the error: %v", traced)
	}
}

type scopeErr struct{ scope string }

func (e *scopeErr) Error() string { return "fetch " + e.scope }

func TestAs_FindsTypedErrorUnderWraps(t *testing.T) {
	err := Wrapf(WithStack(&scopeErr{scope: "colors"}), "syncer: wave")
	var se *scopeErr
	if !As(err, &se) || se.scope != "colors" {
		t.Fatalf("As = %v", se)
	}
}

func TestJoin_KeepsEveryScopeError(t *testing.T) {
	a := &scopeErr{scope: "tab:home"}
	b := Wrap(fs.ErrNotExist, "store: s3")
	err := Join(a, nil, b)

	if !Is(err, fs.ErrNotExist) {
		t.Fatal("joined error should match the second cause")
	}
	var se *scopeErr
	if !As(err, &se) || se != a {
		t.Fatal("joined error should expose the first cause")
	}
	if Join(nil, nil) != nil {
		t.Fatal("Join of nils should be nil")
	}
}
