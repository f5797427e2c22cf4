// Package secrets resolves credentials that are configured as SSM
// parameter names rather than literal values.
package secrets

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/log"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/xerrors"
)

// SSMAPI is the subset of the SSM client used here.
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type Resolver struct {
	client SSMAPI
	logger log.Logger
}

func NewResolver(client SSMAPI, logger log.Logger) *Resolver {
	return &Resolver{client: client, logger: log.OrNop(logger)}
}

// NewResolverFromConfig builds a Resolver on an SSM client from awsCfg, or
// from the default AWS config chain when awsCfg is nil.
func NewResolverFromConfig(ctx context.Context, awsCfg *aws.Config, logger log.Logger) (*Resolver, error) {
	var c aws.Config
	if awsCfg != nil {
		c = *awsCfg
	} else {
		var err error
		c, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, xerrors.Wrap(err, "load AWS config")
		}
	}
	return NewResolver(ssm.NewFromConfig(c), logger), nil
}

// Get returns the decrypted value of the named parameter.
func (r *Resolver) Get(ctx context.Context, name string) (string, error) {
	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", name)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", name)
	}
	v := strings.TrimSpace(*out.Parameter.Value)
	if v == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", name)
	}
	return v, nil
}

// Field pairs a literal value with the SSM parameter it may come from.
type Field struct {
	Name  string
	Value *string
	Param string
}

// Fill resolves every field whose Param is set and Value is empty. A
// literal value always wins.
func (r *Resolver) Fill(ctx context.Context, fields ...Field) error {
	for _, f := range fields {
		if f.Param == "" || *f.Value != "" {
			continue
		}
		v, err := r.Get(ctx, f.Param)
		if err != nil {
			return xerrors.Wrapf(err, "resolve %s", f.Name)
		}
		*f.Value = v
		r.logger.Info(ctx, "secrets: resolved from SSM", "field", f.Name, "param", f.Param)
	}
	return nil
}
