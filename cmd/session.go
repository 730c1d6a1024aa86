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

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/datamorph/internal/filereader"
	"github.com/cardinalhq/datamorph/internal/filewriter"
	"github.com/cardinalhq/datamorph/internal/logctx"
	"github.com/cardinalhq/datamorph/internal/merge"
	"github.com/cardinalhq/datamorph/internal/pipeline"
	"github.com/cardinalhq/datamorph/internal/render"
	"github.com/cardinalhq/datamorph/internal/schema"
	"github.com/cardinalhq/datamorph/internal/storage"
)

// session stages the files one command touches and removes the staged
// copies when the command ends.
type session struct {
	resolver *storage.Resolver
	cache    *filereader.SchemaCache
	staged   map[string]*storage.Staged
	formats  map[string]filereader.Format
}

func newSession(overrides map[string]string) (*session, error) {
	formats := make(map[string]filereader.Format, len(overrides))
	for id, name := range overrides {
		f, err := filereader.ParseFormat(name)
		if err != nil {
			return nil, fmt.Errorf("--input-format %s: %w", id, err)
		}
		formats[id] = f
	}
	return &session{
		resolver: storage.NewResolver(cfg.Storage.TmpDir),
		cache:    filereader.NewSchemaCache(cfg.Storage.SchemaCacheTTL),
		staged:   make(map[string]*storage.Staged),
		formats:  formats,
	}, nil
}

func (s *session) close() {
	for _, st := range s.staged {
		st.Cleanup()
	}
}

// local returns a local path for a source, staging remote files once.
func (s *session) local(ctx context.Context, id string) (string, error) {
	if st, ok := s.staged[id]; ok {
		return st.LocalPath, nil
	}
	st, err := s.resolver.Open(ctx, id)
	if err != nil {
		return "", fmt.Errorf("%s: %w", id, err)
	}
	s.staged[id] = st
	return st.LocalPath, nil
}

// format returns the explicit override for id, else detects it from the
// source name so staged temp files keep the original's format.
func (s *session) format(id string) (filereader.Format, error) {
	if f, ok := s.formats[id]; ok {
		return f, nil
	}
	loc, err := storage.ParseLocation(id)
	if err != nil {
		return filereader.FormatUnknown, err
	}
	f, _, err := filereader.FormatFromPath(loc.Base())
	return f, err
}

func (s *session) readerOptions(id string, columns []string) (filereader.ReaderOptions, error) {
	opts := cfg.ReaderOptions()
	f, err := s.format(id)
	if err != nil {
		return opts, err
	}
	opts.Format = f
	opts.Columns = columns
	return opts, nil
}

func (s *session) opener(id string, columns []string) func(context.Context) (filereader.Reader, error) {
	return func(ctx context.Context) (filereader.Reader, error) {
		path, err := s.local(ctx, id)
		if err != nil {
			return nil, err
		}
		opts, err := s.readerOptions(id, columns)
		if err != nil {
			return nil, err
		}
		return filereader.Open(ctx, path, opts)
	}
}

func (s *session) open(ctx context.Context, id string) (filereader.Reader, error) {
	return s.opener(id, nil)(ctx)
}

func (s *session) inputs(ids []string) ([]merge.Input, error) {
	inputs := make([]merge.Input, len(ids))
	for i, id := range ids {
		f, err := s.format(id)
		if err != nil {
			return nil, err
		}
		inputs[i] = merge.Input{Name: id, Format: f, Open: s.opener(id, nil)}
	}
	return inputs, nil
}

// output is a file being written on behalf of a command.
type output struct {
	staged *storage.Staged
	format filereader.Format
}

func (s *session) createOutput(ctx context.Context, id, formatName string) (*output, error) {
	format := filereader.FormatUnknown
	if formatName != "" {
		f, err := filereader.ParseFormat(formatName)
		if err != nil {
			return nil, err
		}
		format = f
	}
	st, err := s.resolver.Create(ctx, id)
	if err != nil {
		return nil, err
	}
	return &output{staged: st, format: format}, nil
}

func (o *output) factory() merge.OutputFactory {
	return func(target *schema.Schema) (filewriter.Writer, error) {
		return filewriter.Create(o.staged.LocalPath, o.format, target, filewriter.WriterOptions{RowGroupSize: cfg.Merge.RowGroupSize})
	}
}

// finish uploads a remote output after a successful write and always
// removes the staging copy.
func (o *output) finish(ctx context.Context, writeErr error) error {
	defer o.staged.Cleanup()
	if writeErr != nil {
		return writeErr
	}
	return o.staged.Commit(ctx)
}

// emitRows writes rows to --output when set, otherwise renders them.
func (s *session) emitRows(ctx context.Context, w io.Writer, sch *schema.Schema, rows []pipeline.Row, outputID, outputFormat, renderFormat string) error {
	if outputID == "" {
		f, err := render.ParseFormat(renderFormat)
		if err != nil {
			return err
		}
		return render.Rows(w, f, sch.Names(), rows)
	}

	out, err := s.createOutput(ctx, outputID, outputFormat)
	if err != nil {
		return err
	}
	writer, err := out.factory()(sch)
	if err != nil {
		return out.finish(ctx, err)
	}
	batch := pipeline.BatchFromRows(sch, rows)
	defer pipeline.ReturnBatch(batch)
	werr := writer.Write(ctx, batch)
	if cerr := writer.Close(); werr == nil {
		werr = cerr
	}
	if err := out.finish(ctx, werr); err != nil {
		return err
	}
	logctx.FromContext(ctx).Info("wrote rows", slog.String("output", outputID), slog.Int("rows", len(rows)))
	return nil
}

func addInputFormatFlag(c *cobra.Command, target *map[string]string) {
	c.Flags().StringToStringVar(target, "input-format", nil, "Per-source format override, e.g. --input-format data.txt=csv")
}

// outputFormat resolves --format, with --markdown as a shorthand that may not
// contradict an explicit --format.
func outputFormat(c *cobra.Command, flag string, markdown bool) (render.Format, error) {
	f, err := render.ParseFormat(flag)
	if err != nil {
		return "", err
	}
	if !markdown {
		return f, nil
	}
	if c.Flags().Changed("format") && f != render.FormatMarkdown {
		return "", fmt.Errorf("--markdown conflicts with --format %s", f)
	}
	return render.FormatMarkdown, nil
}
