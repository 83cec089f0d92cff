package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/orneryd/nornicgraph/pkg/driver"
	"github.com/orneryd/nornicgraph/pkg/result"
)

func runQuery(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	uri, _ := flags.GetString("uri")
	user, _ := flags.GetString("user")
	password, _ := flags.GetString("password")
	token, _ := flags.GetString("token")
	database, _ := flags.GetString("database")
	rawParams, _ := flags.GetStringArray("param")
	bookmarks, _ := flags.GetStringSlice("bookmark")
	write, _ := flags.GetBool("write")
	format, _ := flags.GetString("format")

	if format != "table" && format != "json" {
		return fmt.Errorf("unknown output format %q", format)
	}
	params, err := parseParams(rawParams)
	if err != nil {
		return err
	}

	authToken := driver.NoAuth()
	switch {
	case token != "":
		authToken = driver.BearerAuth(token)
	case user != "":
		authToken = driver.BasicAuth(user, password)
	}

	ctx := cmd.Context()
	d, err := driver.NewDriver(uri, authToken)
	if err != nil {
		return err
	}
	defer d.Close(ctx) //nolint:errcheck

	session, err := d.NewSession(driver.SessionConfig{Database: database, Bookmarks: bookmarks})
	if err != nil {
		return err
	}
	defer session.Close(ctx) //nolint:errcheck

	var res *result.QueryResult
	if write {
		res, err = driver.ExecuteWrite(ctx, session, func(tx *driver.Transaction) (*result.QueryResult, error) {
			return tx.Run(ctx, args[0], params)
		})
	} else {
		res, err = session.Run(ctx, args[0], params)
	}
	if err != nil {
		return err
	}

	// Explicit transactions report bookmarks on commit, not on the result.
	res.Bookmarks = session.LastBookmarks()

	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	return printTable(out, res)
}

// parseParams turns name=value pairs into query parameters. Values that
// parse as JSON keep their type; anything else is a string.
func parseParams(raw []string) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(raw))
	for _, kv := range raw {
		name, val, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q (want name=value)", kv)
		}
		var v any
		if err := json.Unmarshal([]byte(val), &v); err != nil {
			v = val
		}
		params[name] = v
	}
	return params, nil
}

func printTable(w io.Writer, res *result.QueryResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if len(res.Keys) > 0 {
		fmt.Fprintln(tw, strings.Join(res.Keys, "\t"))
		for _, rec := range res.Records {
			values := rec.Values()
			cells := make([]string, len(values))
			for i, v := range values {
				cells[i] = v.String()
			}
			fmt.Fprintln(tw, strings.Join(cells, "\t"))
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%d row(s), query type %s", len(res.Records), res.Summary.QueryType)
	if c := res.Summary.Counters; c.ContainsUpdates() {
		fmt.Fprintf(w, ", %d node(s) created, %d deleted, %d relationship(s) created, %d deleted, %d properties set",
			c.NodesCreated, c.NodesDeleted, c.RelationshipsCreated, c.RelationshipsDeleted, c.PropertiesSet)
	}
	fmt.Fprintln(w)
	for _, b := range res.Bookmarks {
		fmt.Fprintf(w, "bookmark: %s\n", b)
	}
	return nil
}
