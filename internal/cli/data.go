package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/boddenberg/habit-hero-go/internal/domain"
	"github.com/boddenberg/habit-hero-go/internal/infra/client"
	"github.com/boddenberg/habit-hero-go/internal/infra/observability"
	"github.com/boddenberg/habit-hero-go/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// backend is where a data command runs: the local database or a remote server.
type backend interface {
	Export(ctx context.Context) (*domain.AppData, error)
	Import(ctx context.Context, raw []byte) error
	Reset(ctx context.Context, password string) error
	GenerateSynthetic(ctx context.Context, count int) (*domain.BulkInsertResult, error)
	BulkInsert(ctx context.Context, txs []domain.Transaction) (*domain.BulkInsertResult, error)
	Close(ctx context.Context) error
}

// remoteFlags selects a running server instead of the local database.
type remoteFlags struct {
	server string
	pin    string
}

func (f *remoteFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.server, "server", "", "base URL of a running server (default: use the local database)")
	cmd.Flags().StringVar(&f.pin, "pin", "", "parent PIN for --server")
}

func (a *app) backend(ctx context.Context, f *remoteFlags) (backend, error) {
	metrics := observability.NewMetrics()
	if f.server == "" {
		ledger, closeFn, err := a.openLedger(ctx, metrics)
		if err != nil {
			return nil, err
		}
		return &localBackend{ledger: ledger, close: closeFn}, nil
	}
	if f.pin == "" {
		return nil, fmt.Errorf("--pin is required with --server")
	}
	c, err := a.newRemoteClient(ctx, f.server, f.pin, metrics)
	if err != nil {
		return nil, err
	}
	return remoteBackend{c}, nil
}

// withBackend opens the backend, runs fn and closes it. A failed close (the final
// settings flush of a local ledger) fails the command.
func (a *app) withBackend(ctx context.Context, f *remoteFlags, fn func(b backend) error) (err error) {
	b, err := a.backend(ctx, f)
	if err != nil {
		return err
	}
	defer closeBackend(ctx, b, a.logger, &err)
	return fn(b)
}

func closeBackend(ctx context.Context, b backend, logger *zap.Logger, err *error) {
	cerr := b.Close(ctx)
	if cerr == nil {
		return
	}
	logger.Error("closing backend", zap.Error(cerr))
	if *err == nil {
		*err = fmt.Errorf("close: %w", cerr)
	}
}

// ============================================================
// Commands
// ============================================================

func newExportCmd(a *app) *cobra.Command {
	var remote remoteFlags
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the full ledger as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var data *domain.AppData
			if err := a.withBackend(ctx, &remote, func(b backend) (err error) {
				data, err = b.Export(ctx)
				return err
			}); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			if err := enc.Encode(data); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			a.logger.Info("ledger exported",
				zap.Int("total_points", data.TotalPoints),
				zap.Int("transactions", len(data.Transactions)),
			)
			return nil
		},
	}
	remote.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	var remote remoteFlags

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Replace everything with an exported JSON snapshot",
		Long:  `Replace the whole ledger, history included, with a snapshot written by "export". Use "-" to read stdin.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := a.withBackend(ctx, &remote, func(b backend) error {
				return b.Import(ctx, raw)
			}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "imported")
			return nil
		},
	}
	remote.register(cmd)
	return cmd
}

func newResetCmd(a *app) *cobra.Command {
	var remote remoteFlags
	var password string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Wipe everything and restore the seed data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("HABITHERO_RESET_PASSWORD")
			}

			ctx := cmd.Context()
			if err := a.withBackend(ctx, &remote, func(b backend) error {
				return b.Reset(ctx, password)
			}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "reset to defaults")
			return nil
		},
	}
	remote.register(cmd)
	cmd.Flags().StringVar(&password, "password", "", "admin secret (or HABITHERO_RESET_PASSWORD)")
	return cmd
}

func newBulkSeedCmd(a *app) *cobra.Command {
	var remote remoteFlags
	var count int
	var file string

	cmd := &cobra.Command{
		Use:   "bulk-seed",
		Short: "Append synthetic or file-provided transactions without touching the balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var txs []domain.Transaction
			if file != "" {
				raw, err := readInput(cmd, file)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(raw, &txs); err != nil {
					return fmt.Errorf("parse %s: %w", file, err)
				}
			}

			ctx := cmd.Context()
			var res *domain.BulkInsertResult
			if err := a.withBackend(ctx, &remote, func(b backend) (err error) {
				if file != "" {
					res, err = b.BulkInsert(ctx, txs)
				} else {
					res, err = b.GenerateSynthetic(ctx, count)
				}
				return err
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "inserted %d transactions (balance delta %+d, not applied); balance %d, history %d\n",
				res.Inserted, res.BalanceDelta, res.TotalPoints, res.Transactions)
			return nil
		},
	}
	remote.register(cmd)
	cmd.Flags().IntVarP(&count, "count", "n", service.DefaultSyntheticCount, "number of synthetic transactions")
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON array of transactions to insert instead of synthetic ones")
	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return raw, nil
}

// ============================================================
// Backends
// ============================================================

type localBackend struct {
	ledger *service.Ledger
	close  func(context.Context) error
}

func (b *localBackend) Export(ctx context.Context) (*domain.AppData, error) {
	return b.ledger.ExportSnapshot(ctx), nil
}

func (b *localBackend) Import(ctx context.Context, raw []byte) error {
	return b.ledger.ImportJSON(ctx, raw)
}

func (b *localBackend) Reset(ctx context.Context, password string) error {
	return b.ledger.ResetAll(ctx, password)
}

func (b *localBackend) GenerateSynthetic(ctx context.Context, count int) (*domain.BulkInsertResult, error) {
	return b.ledger.GenerateSyntheticTransactions(ctx, count)
}

func (b *localBackend) BulkInsert(ctx context.Context, txs []domain.Transaction) (*domain.BulkInsertResult, error) {
	return b.ledger.BulkInsertTransactions(ctx, txs)
}

func (b *localBackend) Close(ctx context.Context) error {
	return b.close(ctx)
}

type remoteBackend struct {
	*client.HabitHeroClient
}

func (remoteBackend) Close(context.Context) error { return nil }
