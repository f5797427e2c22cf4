package secrets

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type fakeSSM struct {
	values    map[string]string
	err       error
	calls     []string
	decrypted bool
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	name := aws.ToString(in.Name)
	f.calls = append(f.calls, name)
	f.decrypted = aws.ToBool(in.WithDecryption)
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.values[name]
	if !ok {
		return &ssm.GetParameterOutput{}, nil
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: aws.String(v)}}, nil
}

func TestGet(t *testing.T) {
	f := &fakeSSM{values: map[string]string{"/cs/api-key": " key-123\n"}}
	r := NewResolver(f, nil)

	v, err := r.Get(context.Background(), "/cs/api-key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "key-123" {
		t.Fatalf("value = %q", v)
	}
	if !f.decrypted {
		t.Fatal("WithDecryption not set")
	}
}

func TestGet_Errors(t *testing.T) {
	f := &fakeSSM{values: map[string]string{"/cs/blank": "  "}}
	r := NewResolver(f, nil)
	ctx := context.Background()

	if _, err := r.Get(ctx, "/cs/missing"); err == nil || !strings.Contains(err.Error(), "no value") {
		t.Fatalf("missing: err = %v", err)
	}
	if _, err := r.Get(ctx, "/cs/blank"); err == nil || !strings.Contains(err.Error(), "empty") {
		t.Fatalf("blank: err = %v", err)
	}

	boom := errors.New("throttled")
	f.err = boom
	if _, err := r.Get(ctx, "/cs/blank"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
}

func TestFill(t *testing.T) {
	f := &fakeSSM{values: map[string]string{
		"/cs/api-key": "from-ssm",
		"/cs/secret":  "sealed",
	}}
	r := NewResolver(f, nil)

	apiKey := ""
	secret := "literal"
	project := ""
	err := r.Fill(context.Background(),
		Field{Name: "api-key", Value: &apiKey, Param: "/cs/api-key"},
		Field{Name: "project-secret", Value: &secret, Param: "/cs/secret"},
		Field{Name: "project-id", Value: &project},
	)
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if apiKey != "from-ssm" {
		t.Fatalf("apiKey = %q", apiKey)
	}
	if secret != "literal" {
		t.Fatalf("literal value overwritten: %q", secret)
	}
	if len(f.calls) != 1 {
		t.Fatalf("calls = %v, want one lookup", f.calls)
	}
}

func TestFill_ErrorNamesField(t *testing.T) {
	r := NewResolver(&fakeSSM{}, nil)
	v := ""
	err := r.Fill(context.Background(), Field{Name: "api-key", Value: &v, Param: "/cs/nope"})
	if err == nil || !strings.Contains(err.Error(), "api-key") {
		t.Fatalf("err = %v", err)
	}
}
