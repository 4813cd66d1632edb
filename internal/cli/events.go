package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/evmon/internal/event"
	"github.com/gyaneshwarpardhi/evmon/internal/ingest"
	"github.com/gyaneshwarpardhi/evmon/internal/query"
)

const maxLineBytes = 2 << 20

type lineResult struct {
	Line       int                `json:"line"`
	ID         int64              `json:"id,omitempty"`
	ReceivedAt string             `json:"received_at,omitempty"`
	Kind       string             `json:"kind,omitempty"`
	Error      string             `json:"error,omitempty"`
	Fields     []event.FieldError `json:"fields,omitempty"`
}

func newIngestCmd(e *env) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest events from JSON lines",
		Long: `Read one JSON event per line from a file (or stdin with -f -), validate each
one and append the accepted ones. One result line is printed per input line.
The command fails if any line was rejected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("open %s: %w", file, err)
				}
				defer f.Close()
				r = f
			}

			st, err := e.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			in := ingest.New(st, e.limits.Ingest)

			out := json.NewEncoder(cmd.OutOrStdout())
			sc := bufio.NewScanner(r)
			sc.Buffer(make([]byte, 64*1024), maxLineBytes)
			total, rejected, line := 0, 0, 0
			for sc.Scan() {
				line++
				text := strings.TrimSpace(sc.Text())
				if text == "" {
					continue
				}
				total++
				res := lineResult{Line: line}

				var c event.Candidate
				if err := json.Unmarshal([]byte(text), &c); err != nil {
					res.Kind, res.Error = "invalid_request", fmt.Sprintf("invalid JSON: %s", err)
				} else if receipt, err := in.Ingest(cmd.Context(), c); err != nil {
					res.Kind, res.Error = event.KindOf(err), err.Error()
					var verr *event.ValidationError
					if errors.As(err, &verr) {
						res.Fields = verr.Fields
					}
				} else {
					res.ID = receipt.ID
					res.ReceivedAt = receipt.ReceivedAt.Format(time.RFC3339Nano)
				}
				if res.Error != "" {
					rejected++
				}
				if err := out.Encode(res); err != nil {
					return err
				}
			}
			if err := sc.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			slog.Info("ingest finished", "total", total, "accepted", total-rejected, "rejected", rejected)
			if rejected > 0 {
				return fmt.Errorf("%d of %d events rejected", rejected, total)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "JSON lines file, - for stdin")
	return cmd
}

func newQueryCmd(e *env) *cobra.Command {
	var from, to, source, severityMin, text, where, cursor string
	var attrs []string
	var limit int
	var all bool
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print matching events as JSON lines",
		Long: `Print events matching every given filter, oldest id first.

Without --all one page is printed and the cursor for the next page, if any,
goes to stderr. With --all every page is streamed.`,
		Example: `  evmon query --source checkout --severity-min error
  evmon query --attr region=eu --where 'attributes.retries > 3' --all`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := url.Values{}
			set := func(k, val string) {
				if val != "" {
					v.Set(k, val)
				}
			}
			set("time_from", from)
			set("time_to", to)
			set("source", source)
			set("severity_min", severityMin)
			set("text", text)
			set("where", where)
			set("cursor", cursor)
			if limit > 0 {
				v.Set("limit", strconv.Itoa(limit))
			}
			for _, a := range attrs {
				v.Add("attr", a)
			}
			spec, err := query.ParseSpec(v)
			if err != nil {
				return err
			}

			st, err := e.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			eng := query.New(st, e.limits.Query)

			out := json.NewEncoder(cmd.OutOrStdout())
			if all {
				var encErr error
				err := eng.Each(cmd.Context(), spec, func(ev event.Event) bool {
					encErr = out.Encode(ev)
					return encErr == nil
				})
				if err != nil {
					return err
				}
				return encErr
			}

			page, err := eng.Query(cmd.Context(), spec)
			if err != nil {
				return err
			}
			for _, ev := range page.Events {
				if err := out.Encode(ev); err != nil {
					return err
				}
			}
			if page.Next != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "next cursor: %s\n", page.Next)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&from, "from", "", "occurred_at lower bound (RFC 3339, inclusive)")
	f.StringVar(&to, "to", "", "occurred_at upper bound (RFC 3339, inclusive)")
	f.StringVar(&source, "source", "", "exact source")
	f.StringVar(&severityMin, "severity-min", "", "minimum severity")
	f.StringVar(&text, "text", "", "case-sensitive substring of the message")
	f.StringArrayVar(&attrs, "attr", nil, "attribute key=value (repeatable)")
	f.StringVar(&where, "where", "", "attribute expression")
	f.IntVar(&limit, "limit", 0, "page size (default from limits)")
	f.StringVar(&cursor, "cursor", "", "resume after a previous page")
	f.BoolVar(&all, "all", false, "stream every page")
	return cmd
}

func newGetCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print one event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			st, err := e.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			ev, err := st.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ev)
		},
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
