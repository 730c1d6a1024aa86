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

// Package storage maps source and output identifiers onto local files.
// Object-store locations (s3:// and abfss://) are staged through a
// temporary directory using each SDK's default credential chain.
package storage

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Scheme identifies where a location lives.
type Scheme string

const (
	SchemeLocal Scheme = "file"
	SchemeS3    Scheme = "s3"
	SchemeAzure Scheme = "abfss"
)

// ErrBadLocation is returned for identifiers that cannot be parsed.
var ErrBadLocation = errors.New("invalid storage location")

// Location is a parsed source or output identifier.
type Location struct {
	Scheme Scheme
	// Path is the local file path for SchemeLocal.
	Path string
	// Account is the Azure storage account.
	Account string
	// Bucket is the S3 bucket or Azure container.
	Bucket string
	Key    string
}

// IsRemote reports whether the location must be staged.
func (l Location) IsRemote() bool {
	return l.Scheme != SchemeLocal
}

// Base returns the final path element; format detection uses it.
func (l Location) Base() string {
	if l.Scheme == SchemeLocal {
		return path.Base(strings.ReplaceAll(l.Path, "\\", "/"))
	}
	return path.Base(l.Key)
}

func (l Location) String() string {
	switch l.Scheme {
	case SchemeS3:
		return "s3://" + l.Bucket + "/" + l.Key
	case SchemeAzure:
		return "abfss://" + l.Bucket + "@" + l.Account + ".dfs.core.windows.net/" + l.Key
	default:
		return l.Path
	}
}

// ParseLocation accepts local paths, s3://bucket/key and
// abfss://container@account.dfs.core.windows.net/path (abfs:// too).
func ParseLocation(id string) (Location, error) {
	if id == "" {
		return Location{}, fmt.Errorf("%w: empty", ErrBadLocation)
	}
	scheme, _, found := strings.Cut(id, "://")
	if !found {
		return Location{Scheme: SchemeLocal, Path: id}, nil
	}

	u, err := url.Parse(id)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrBadLocation, err)
	}
	key := strings.TrimPrefix(u.Path, "/")

	switch strings.ToLower(scheme) {
	case "file":
		return Location{Scheme: SchemeLocal, Path: u.Path}, nil
	case "s3", "s3a":
		if u.Host == "" || key == "" {
			return Location{}, fmt.Errorf("%w: %q needs a bucket and key", ErrBadLocation, id)
		}
		return Location{Scheme: SchemeS3, Bucket: u.Host, Key: key}, nil
	case "abfss", "abfs":
		container := u.User.Username()
		account, _, _ := strings.Cut(u.Hostname(), ".")
		if container == "" || account == "" || key == "" {
			return Location{}, fmt.Errorf("%w: %q needs container@account and a path", ErrBadLocation, id)
		}
		return Location{Scheme: SchemeAzure, Account: account, Bucket: container, Key: key}, nil
	default:
		return Location{}, fmt.Errorf("%w: unsupported scheme %q", ErrBadLocation, scheme)
	}
}
