package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/log"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/store"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/xerrors"
)

// openStore builds the persistence backend named by -store. The returned
// close func is never nil.
func openStore(ctx context.Context, conf cfg.App, awsCfg *aws.Config, L log.Logger) (store.Store, func() error, error) {
	noop := func() error { return nil }

	switch conf.Store {
	case cfg.StoreMemory:
		return store.NewMemory(), noop, nil

	case cfg.StoreFile:
		fs, err := store.NewFile(conf.StoreDir, L)
		if err != nil {
			return nil, noop, err
		}
		return fs, noop, nil

	case cfg.StoreSQLite:
		path := conf.SQLitePath
		if !filepath.IsAbs(path) {
			path = filepath.Join(conf.StoreDir, path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, noop, xerrors.Wrapf(err, "create sqlite dir for %s", path)
		}
		db, err := store.OpenSQLite(ctx, path, L)
		if err != nil {
			return nil, noop, err
		}
		return db, db.Close, nil

	case cfg.StoreS3:
		if awsCfg == nil {
			return nil, noop, xerrors.New("s3 store needs an AWS config")
		}
		s, err := store.NewS3(store.S3Options{
			Client: s3.NewFromConfig(*awsCfg),
			Bucket: conf.S3Bucket,
			Prefix: conf.S3Prefix,
			Logger: L,
		})
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	}
	return nil, noop, xerrors.Newf("unknown store %q", conf.Store)
}
