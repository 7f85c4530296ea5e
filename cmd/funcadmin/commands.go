package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/archivekeep/funcadmin/pkg/contracts"
	"github.com/archivekeep/funcadmin/pkg/operation"
	"github.com/archivekeep/funcadmin/pkg/query"
	"github.com/archivekeep/funcadmin/pkg/referential"
)

// withApp opens the shared collaborators, runs fn and releases them.
func withApp(stderr io.Writer, fn func(ctx context.Context, a *app) int) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			a.logger.Warn("shutdown", "error", err)
		}
	}()
	return fn(ctx, a)
}

func runMigrateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("migrate", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	return withApp(stderr, func(ctx context.Context, a *app) int {
		if err := a.migrate(ctx); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		_, _ = fmt.Fprintln(stdout, "migrated")
		return 0
	})
}

// collectionCmd parses the common -tenant flag and the collection argument.
type collectionCmd struct {
	fs     *flag.FlagSet
	tenant int
	coll   contracts.Collection
}

func newCollectionCmd(name string, stderr io.Writer) *collectionCmd {
	c := &collectionCmd{fs: flag.NewFlagSet(name, flag.ContinueOnError)}
	c.fs.SetOutput(stderr)
	c.fs.IntVar(&c.tenant, "tenant", 0, "Tenant the command acts on")
	return c
}

// parse returns the positional arguments after the collection, or false
// after reporting a usage error.
func (c *collectionCmd) parse(args []string, positional int, stderr io.Writer) ([]string, bool) {
	if err := c.fs.Parse(args); err != nil {
		return nil, false
	}
	rest := c.fs.Args()
	if len(rest) != positional+1 {
		_, _ = fmt.Fprintf(stderr, "Error: %s expects %d argument(s) after the flags\n", c.fs.Name(), positional+1)
		return nil, false
	}
	coll, err := contracts.ParseCollection(rest[0])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, false
	}
	c.coll = coll
	return rest[1:], true
}

func runImportCmd(args []string, stdout, stderr io.Writer) int {
	c := newCollectionCmd("import", stderr)
	rest, ok := c.parse(args, 1, stderr)
	if !ok {
		return 2
	}
	raw, err := os.ReadFile(rest[0])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	batch, err := contracts.DecodeList(c.coll, raw)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	return withApp(stderr, func(ctx context.Context, a *app) int {
		svc, err := a.service(c.coll)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		op := operation.New(c.tenant)
		created, err := svc.CreateContracts(ctx, op, batch)
		if err != nil {
			return reportError(stderr, err)
		}
		return writeJSON(stdout, stderr, created)
	})
}

func runUpdateCmd(args []string, stdout, stderr io.Writer) int {
	c := newCollectionCmd("update", stderr)
	rest, ok := c.parse(args, 2, stderr)
	if !ok {
		return 2
	}
	raw, err := os.ReadFile(rest[1])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	patch, err := contracts.ParsePatch(raw)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	return withApp(stderr, func(ctx context.Context, a *app) int {
		svc, err := a.service(c.coll)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		op := operation.New(c.tenant)
		updated, err := svc.UpdateContract(ctx, op, rest[0], patch)
		if err != nil {
			return reportError(stderr, err)
		}
		return writeJSON(stdout, stderr, updated)
	})
}

func runGetCmd(args []string, stdout, stderr io.Writer) int {
	c := newCollectionCmd("get", stderr)
	rest, ok := c.parse(args, 1, stderr)
	if !ok {
		return 2
	}
	return withApp(stderr, func(ctx context.Context, a *app) int {
		svc, err := a.service(c.coll)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		found, err := svc.FindByIdentifier(ctx, c.tenant, rest[0])
		if err != nil {
			return reportError(stderr, err)
		}
		return writeJSON(stdout, stderr, found)
	})
}

func runListCmd(args []string, stdout, stderr io.Writer) int {
	c := newCollectionCmd("list", stderr)
	var q query.Query
	c.fs.StringVar(&q.Filter, "filter", "", "CEL expression over `contract`")
	c.fs.IntVar(&q.Limit, "limit", 0, "Maximum number of contracts (0 = all)")
	c.fs.IntVar(&q.Offset, "offset", 0, "Number of matching contracts to skip")
	if _, ok := c.parse(args, 0, stderr); !ok {
		return 2
	}
	return withApp(stderr, func(ctx context.Context, a *app) int {
		svc, err := a.service(c.coll)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		found, err := svc.FindContracts(ctx, c.tenant, q)
		if err != nil {
			return reportError(stderr, err)
		}
		if found == nil {
			found = []contracts.Contract{}
		}
		return writeJSON(stdout, stderr, found)
	})
}

// reportError prints err and maps it to an exit code.
func reportError(stderr io.Writer, err error) int {
	var (
		batch    *referential.BatchError
		bad      *referential.BadRequestError
		notFound *referential.NotFoundError
	)
	switch {
	case errors.As(err, &batch):
		_, _ = fmt.Fprintf(stderr, "Rejected (operation %s):\n", batch.OperationID)
		for _, r := range batch.Rejections {
			_, _ = fmt.Fprintf(stderr, "  [%d] %s: %s\n", r.Index, r.Cause.Code(), r.Cause.Reason())
		}
		return 1
	case errors.As(err, &bad):
		_, _ = fmt.Fprintf(stderr, "Rejected (operation %s):\n", bad.OperationID)
		for _, cause := range bad.Causes {
			_, _ = fmt.Fprintf(stderr, "  %s: %s\n", cause.Code(), cause.Reason())
		}
		return 1
	case errors.As(err, &notFound):
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", notFound)
		return 1
	default:
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
}

func writeJSON(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}
