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

package filereader

import "errors"

var (
	// ErrUnsupportedFormat is returned when no reader or writer exists for a format.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrUnknownColumn is returned when a projection names a column the file lacks.
	ErrUnknownColumn = errors.New("unknown column")

	// ErrNotRewindable is returned by Rewind on inputs that cannot be restarted.
	ErrNotRewindable = errors.New("reader cannot be rewound")

	// ErrReaderClosed is returned by Next after Close.
	ErrReaderClosed = errors.New("reader is closed")
)
