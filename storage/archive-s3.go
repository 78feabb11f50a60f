/*
Copyright (C) 2024  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ArchiveStore ships tagged snapshot dumps to long-term storage.
// Next to the local dump files this is the off-machine backup path.
type ArchiveStore interface {
	// Put stores a dump under a name like <db>/<tag>.jsonl.lz4
	Put(ctx context.Context, name string, data []byte) error
	// Get fetches a stored dump
	Get(ctx context.Context, name string) ([]byte, error)
	// List returns the stored names under a prefix
	List(ctx context.Context, prefix string) ([]string, error)
}

// FileArchive keeps dumps in a local directory.
type FileArchive struct {
	Basepath string
}

func (f *FileArchive) Put(ctx context.Context, name string, data []byte) error {
	path := f.Basepath + "/" + name
	if i := strings.LastIndexByte(path, '/'); i > 0 {
		if err := os.MkdirAll(path[:i], 0750); err != nil {
			return errIo("archive dir create", err)
		}
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return errIo("archive write", err)
	}
	return nil
}

func (f *FileArchive) Get(ctx context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(f.Basepath + "/" + name)
	if err != nil {
		return nil, errIo("archive read", err)
	}
	return data, nil
}

func (f *FileArchive) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	root := f.Basepath + "/" + prefix
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errIo("archive list", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			out = append(out, prefix+"/"+e.Name())
		}
	}
	return out, nil
}

// S3Archive stores dumps in an S3 (or compatible) bucket.
//
// Object layout: <prefix>/<name>. S3 has no append, dumps are whole
// objects anyway.
type S3Archive struct {
	AccessKeyID     string // AWS or S3-compatible access key
	SecretAccessKey string // AWS or S3-compatible secret key
	Region          string // e.g. "us-east-1"
	Endpoint        string // custom endpoint for MinIO etc.
	Bucket          string
	Prefix          string
	ForcePathStyle  bool // path-style URLs, required for MinIO

	mu     sync.Mutex
	client *s3.Client
}

func (a *S3Archive) ensureOpen(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return nil
	}
	var opts []func(*config.LoadOptions) error
	if a.Region != "" {
		opts = append(opts, config.WithRegion(a.Region))
	}
	if a.AccessKeyID != "" && a.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(a.AccessKeyID, a.SecretAccessKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return errIo("aws config", err)
	}
	var s3Opts []func(*s3.Options)
	if a.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(a.Endpoint)
		})
	}
	if a.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	a.client = s3.NewFromConfig(cfg, s3Opts...)
	return nil
}

func (a *S3Archive) key(name string) string {
	pfx := strings.TrimSuffix(a.Prefix, "/")
	if pfx == "" {
		return name
	}
	return pfx + "/" + name
}

func (a *S3Archive) Put(ctx context.Context, name string, data []byte) error {
	if err := a.ensureOpen(ctx); err != nil {
		return err
	}
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.Bucket),
		Key:    aws.String(a.key(name)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return errIo("s3 put", err)
	}
	return nil
}

func (a *S3Archive) Get(ctx context.Context, name string) ([]byte, error) {
	if err := a.ensureOpen(ctx); err != nil {
		return nil, err
	}
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.Bucket),
		Key:    aws.String(a.key(name)),
	})
	if err != nil {
		return nil, errIo("s3 get", err)
	}
	defer out.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, errIo("s3 read", err)
	}
	return buf.Bytes(), nil
}

func (a *S3Archive) List(ctx context.Context, prefix string) ([]string, error) {
	if err := a.ensureOpen(ctx); err != nil {
		return nil, err
	}
	var names []string
	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.Bucket),
		Prefix: aws.String(a.key(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errIo("s3 list", err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				names = append(names, strings.TrimPrefix(*obj.Key, a.key("")))
			}
		}
	}
	return names, nil
}

// OpenArchive builds the archive backend Settings selects: a local
// directory by default, an S3 bucket when configured.
func OpenArchive() (ArchiveStore, error) {
	a := &Settings.Archive
	switch a.Backend {
	case "s3":
		if a.Bucket == "" {
			return nil, errInvalidFormat("s3 archive needs a bucket")
		}
		return &S3Archive{
			AccessKeyID:     a.AccessKeyID,
			SecretAccessKey: a.SecretAccessKey,
			Region:          a.Region,
			Endpoint:        a.Endpoint,
			Bucket:          a.Bucket,
			Prefix:          a.Prefix,
			ForcePathStyle:  a.ForcePathStyle,
		}, nil
	case "", "file":
		basepath := a.Basepath
		if basepath == "" {
			basepath = "archive"
		}
		return &FileArchive{Basepath: basepath}, nil
	default:
		return nil, errInvalidFormat("unknown archive backend: " + a.Backend)
	}
}

// ArchiveSnapshot dumps the store and ships it to the archive under
// <db>/<tag>.jsonl.lz4.
func ArchiveSnapshot(ctx context.Context, store *MultiShardStore, archive ArchiveStore, dbName, tag string) error {
	tmp, err := os.CreateTemp("", "rfdb-dump-*.jsonl.lz4")
	if err != nil {
		return errIo("temp dump create", err)
	}
	tmpName := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpName)

	if err := ExportDump(store, tmpName); err != nil {
		return err
	}
	data, err := os.ReadFile(tmpName)
	if err != nil {
		return errIo("dump read", err)
	}
	return archive.Put(ctx, fmt.Sprintf("%s/%s.jsonl.lz4", dbName, tag), data)
}
