package store

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/log"
)

// fakeS3 is an in-memory S3API keyed by bucket/key
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string][]byte)} }

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Bucket+"/"+*in.Key] = data
	f.puts++
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *in.Bucket+"/"+*in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

// exerciseStore runs the shared contract against any backend
func exerciseStore(t *testing.T, s Store) {
	t.Helper()

	if _, ok := s.Get("missing"); ok {
		t.Fatal("Get on missing key should report false")
	}

	s.Set("auth_token", []byte("tok-1"))
	got, ok := s.Get("auth_token")
	if !ok || string(got) != "tok-1" {
		t.Fatalf("Get = %q, %v; want tok-1, true", got, ok)
	}

	s.Set("auth_token", []byte("tok-2"))
	got, _ = s.Get("auth_token")
	if string(got) != "tok-2" {
		t.Fatalf("overwrite: Get = %q, want tok-2", got)
	}

	s.Delete("auth_token")
	if _, ok := s.Get("auth_token"); ok {
		t.Fatal("Get after Delete should report false")
	}

	// deleting a missing key is a no-op
	s.Delete("never-set")
}

func TestMemory_Contract(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemory_CopiesValues(t *testing.T) {
	m := NewMemory()
	v := []byte("abc")
	m.Set("k", v)
	v[0] = 'z'
	got, _ := m.Get("k")
	if string(got) != "abc" {
		t.Fatalf("stored value mutated through caller slice: %q", got)
	}
	got[1] = 'z'
	again, _ := m.Get("k")
	if string(again) != "abc" {
		t.Fatalf("stored value mutated through returned slice: %q", again)
	}
}

func TestFile_Contract(t *testing.T) {
	f, err := NewFile(t.TempDir(), log.Nop())
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	exerciseStore(t, f)
}

func TestFile_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	a, _ := NewFile(dir, nil)
	a.Set("proj:content_cache", []byte(`{"home":{}}`))

	b, _ := NewFile(dir, nil)
	got, ok := b.Get("proj:content_cache")
	if !ok || string(got) != `{"home":{}}` {
		t.Fatalf("Get = %q, %v", got, ok)
	}
}

func TestFile_RequiresDir(t *testing.T) {
	if _, err := NewFile("", nil); err == nil {
		t.Fatal("expected error for empty dir")
	}
}

func TestS3_Contract(t *testing.T) {
	s, err := NewS3(S3Options{Client: newFakeS3(), Bucket: "state", Prefix: "contentsync/proj"})
	if err != nil {
		t.Fatalf("NewS3: %v", err)
	}
	exerciseStore(t, s)
}

func TestS3_ObjectKeyLayout(t *testing.T) {
	fake := newFakeS3()
	s, _ := NewS3(S3Options{Client: fake, Bucket: "state", Prefix: "sdk"})
	s.Set("known_tabs", []byte(`["home"]`))

	if _, ok := fake.objects["state/sdk/known_tabs.json"]; !ok {
		t.Fatalf("object not written at expected key, have %v", fake.objects)
	}
}

func TestS3_RequiresClientAndBucket(t *testing.T) {
	if _, err := NewS3(S3Options{Bucket: "b"}); err == nil {
		t.Fatal("expected error without client")
	}
	if _, err := NewS3(S3Options{Client: newFakeS3()}); err == nil {
		t.Fatal("expected error without bucket")
	}
}

func TestSQLite_Contract(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"), nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	exerciseStore(t, s)
}

func TestNamespaced_IsolatesProjects(t *testing.T) {
	base := NewMemory()
	a := Namespaced(base, "proj-a")
	b := Namespaced(base, "proj-b")

	a.Set("current_language", []byte("fr"))
	if _, ok := b.Get("current_language"); ok {
		t.Fatal("namespace b should not see namespace a keys")
	}
	if got, ok := base.Get("proj-a:current_language"); !ok || string(got) != "fr" {
		t.Fatalf("base key = %q, %v", got, ok)
	}
}

func TestNamespaced_EmptyNamespacePassesThrough(t *testing.T) {
	base := NewMemory()
	if Namespaced(base, "") != Store(base) {
		t.Fatal("empty namespace should return the base store")
	}
}

func TestJSONHelpers(t *testing.T) {
	s := NewMemory()
	SetJSON(s, "available_languages", []string{"en", "fr"})

	var langs []string
	if !GetJSON(s, "available_languages", &langs) {
		t.Fatal("GetJSON reported false")
	}
	if len(langs) != 2 || langs[1] != "fr" {
		t.Fatalf("langs = %v", langs)
	}

	s.Set("broken", []byte("{not json"))
	var m map[string]string
	if GetJSON(s, "broken", &m) {
		t.Fatal("GetJSON should report false on undecodable blob")
	}
	if GetJSON(s, "missing", &m) {
		t.Fatal("GetJSON should report false on missing key")
	}
}

func TestSwitch_RoutesToCurrent(t *testing.T) {
	base := NewMemory()
	sw := NewSwitch(Namespaced(base, "a"))
	sw.Set("auth_token", []byte("tok-a"))

	sw.Use(Namespaced(base, "b"))
	if _, ok := sw.Get("auth_token"); ok {
		t.Fatal("switched store should not see the previous namespace")
	}
	sw.Set("auth_token", []byte("tok-b"))

	if got, _ := base.Get("a:auth_token"); string(got) != "tok-a" {
		t.Fatalf("a:auth_token = %q", got)
	}
	if got, _ := base.Get("b:auth_token"); string(got) != "tok-b" {
		t.Fatalf("b:auth_token = %q", got)
	}
}
