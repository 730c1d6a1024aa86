// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/cardinalhq/datamorph/internal/logctx"
)

// Staged is a local file standing in for a location. Remote inputs are
// downloaded copies; remote outputs are uploaded by Commit.
type Staged struct {
	Location  Location
	LocalPath string

	client  Client
	output  bool
	tempDir string
}

// Commit uploads a remote output. It is a no-op for local paths and inputs.
func (s *Staged) Commit(ctx context.Context) error {
	if !s.output || !s.Location.IsRemote() {
		return nil
	}
	logctx.FromContext(ctx).Info("uploading output", slog.String("location", s.Location.String()))
	return s.client.Upload(ctx, s.Location, s.LocalPath)
}

// Cleanup removes any staged copy. Local paths are never touched.
func (s *Staged) Cleanup() {
	if s.tempDir != "" {
		_ = os.RemoveAll(s.tempDir)
	}
}

// Resolver stages locations. Clients are created on first use.
type Resolver struct {
	tmpDir string

	mu        sync.Mutex
	clients   map[Scheme]Client
	factories map[Scheme]func(context.Context) (Client, error)
}

type Option func(*Resolver)

// WithClient replaces the client for a scheme.
func WithClient(scheme Scheme, c Client) Option {
	return func(r *Resolver) {
		r.clients[scheme] = c
	}
}

// NewResolver stages files under tmpDir (os.TempDir when empty).
func NewResolver(tmpDir string, opts ...Option) *Resolver {
	r := &Resolver{
		tmpDir:  tmpDir,
		clients: make(map[Scheme]Client),
		factories: map[Scheme]func(context.Context) (Client, error){
			SchemeS3:    NewS3Client,
			SchemeAzure: func(context.Context) (Client, error) { return NewAzureClient() },
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) client(ctx context.Context, scheme Scheme) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[scheme]; ok {
		return c, nil
	}
	factory, ok := r.factories[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: no client for scheme %q", ErrBadLocation, scheme)
	}
	c, err := factory(ctx)
	if err != nil {
		return nil, err
	}
	r.clients[scheme] = c
	return c, nil
}

func (r *Resolver) stagingDir() (string, error) {
	dir, err := os.MkdirTemp(r.tmpDir, "datamorph-*")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	return dir, nil
}

// Open makes an input available as a local file.
func (r *Resolver) Open(ctx context.Context, id string) (*Staged, error) {
	loc, err := ParseLocation(id)
	if err != nil {
		return nil, err
	}
	if !loc.IsRemote() {
		if _, err := os.Stat(loc.Path); err != nil {
			return nil, err
		}
		return &Staged{Location: loc, LocalPath: loc.Path}, nil
	}

	c, err := r.client(ctx, loc.Scheme)
	if err != nil {
		return nil, err
	}
	dir, err := r.stagingDir()
	if err != nil {
		return nil, err
	}
	local, size, err := c.Download(ctx, dir, loc)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	logctx.FromContext(ctx).Debug("staged input",
		slog.String("location", loc.String()),
		slog.String("path", local),
		slog.Int64("bytes", size))
	return &Staged{Location: loc, LocalPath: local, client: c, tempDir: dir}, nil
}

// Create returns a local path to write an output to. Remote outputs are
// written under a staging directory and uploaded by Commit.
func (r *Resolver) Create(ctx context.Context, id string) (*Staged, error) {
	loc, err := ParseLocation(id)
	if err != nil {
		return nil, err
	}
	if !loc.IsRemote() {
		return &Staged{Location: loc, LocalPath: loc.Path, output: true}, nil
	}

	c, err := r.client(ctx, loc.Scheme)
	if err != nil {
		return nil, err
	}
	dir, err := r.stagingDir()
	if err != nil {
		return nil, err
	}
	return &Staged{
		Location:  loc,
		LocalPath: filepath.Join(dir, loc.Base()),
		client:    c,
		output:    true,
		tempDir:   dir,
	}, nil
}
