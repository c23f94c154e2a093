package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rewardstack/pointledger/internal/redemption"
	"github.com/rewardstack/pointledger/internal/store/gormstore"
	"github.com/rewardstack/pointledger/internal/sweeper"
	"github.com/rewardstack/pointledger/internal/zaplog"
	"github.com/rewardstack/pointledger/pkg/pointledger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	flagDatabaseURL      = "database-url"
	flagUser             = "user"
	flagPoints           = "points"
	flagReason           = "reason"
	flagGrantedBy        = "granted-by"
	flagKind             = "kind"
	flagProduct          = "product"
	flagNotes            = "notes"
	flagWatch            = "watch"
	flagInterval         = "interval"
	flagType             = "type"
	flagLimit            = "limit"
	flagOffset           = "offset"
	configKeyDatabaseURL = "database_url"
	defaultDatabaseURL   = "sqlite:///tmp/pointledger.db"
	defaultSweepInterval = time.Hour
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pointledgerd: %v\n", err)
		os.Exit(1)
	}
}

type runtime struct {
	service     *pointledger.Service
	coordinator *redemption.Coordinator
	logger      *zap.Logger
	cleanup     func() error
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pointledgerd",
		Short:         "Points incentive ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String(flagDatabaseURL, defaultDatabaseURL, "database connection string (sqlite path or postgres URL)")

	cmd.AddCommand(
		newGrantCommand(),
		newBalanceCommand(),
		newConsumeCommand(),
		newRedeemCommand(),
		newSweepCommand(),
		newHistoryCommand(),
	)
	return cmd
}

func resolveDatabaseURL(cmd *cobra.Command) (string, error) {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindEnv(configKeyDatabaseURL, "DATABASE_URL"); err != nil {
		return "", err
	}
	if err := viper.BindPFlag(configKeyDatabaseURL, cmd.Flags().Lookup(flagDatabaseURL)); err != nil {
		return "", err
	}
	databaseURL := viper.GetString(configKeyDatabaseURL)
	if databaseURL == "" {
		databaseURL = defaultDatabaseURL
	}
	return databaseURL, nil
}

func openRuntime(cmd *cobra.Command) (*runtime, error) {
	databaseURL, err := resolveDatabaseURL(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}

	gormDB, closeDB, driver, err := openDatabase(cmd.Context(), databaseURL)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("database open: %w", err)
	}
	if err := prepareSchema(gormDB, driver); err != nil {
		_ = closeDB()
		_ = logger.Sync()
		return nil, err
	}

	service, err := pointledger.NewService(
		gormstore.New(gormDB),
		func() time.Time { return time.Now().UTC() },
		pointledger.WithOperationLogger(zaplog.New(logger)),
	)
	if err != nil {
		_ = closeDB()
		_ = logger.Sync()
		return nil, fmt.Errorf("ledger init: %w", err)
	}
	coordinator, err := redemption.NewCoordinator(
		redemption.NewCatalog(gormDB),
		service,
		func() time.Time { return time.Now().UTC() },
	)
	if err != nil {
		_ = closeDB()
		_ = logger.Sync()
		return nil, fmt.Errorf("redemption init: %w", err)
	}
	cleanup := func() error {
		_ = logger.Sync()
		return closeDB()
	}
	return &runtime{service: service, coordinator: coordinator, logger: logger, cleanup: cleanup}, nil
}

func newGrantCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant points, split across categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = rt.cleanup() }()

			userID, err := userIDFlag(cmd, flagUser)
			if err != nil {
				return err
			}
			rawPoints, _ := cmd.Flags().GetInt64(flagPoints)
			points, err := pointledger.NewPositivePoints(rawPoints)
			if err != nil {
				return err
			}
			rawReason, _ := cmd.Flags().GetString(flagReason)
			reason, err := pointledger.NewReason(rawReason)
			if err != nil {
				return err
			}
			var grantedBy *pointledger.UserID
			if rawGrantedBy, _ := cmd.Flags().GetString(flagGrantedBy); rawGrantedBy != "" {
				value, err := pointledger.NewUserID(rawGrantedBy)
				if err != nil {
					return err
				}
				grantedBy = &value
			}

			lots, err := rt.service.Grant(cmd.Context(), userID, points, reason, grantedBy)
			if err != nil {
				return err
			}
			for _, lot := range lots {
				fmt.Fprintf(cmd.OutOrStdout(), "lot %s: %s +%d (expires %s)\n",
					lot.LotID, lot.Kind, lot.GrantedPoints, lot.ExpiresAt.Format("2006-01-02"))
			}
			return nil
		},
	}
	cmd.Flags().String(flagUser, "", "user id")
	cmd.Flags().Int64(flagPoints, 0, "total points to grant")
	cmd.Flags().String(flagReason, "", "grant reason")
	cmd.Flags().String(flagGrantedBy, "", "administrator user id")
	return cmd
}

func newBalanceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show per-category available balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = rt.cleanup() }()

			userID, err := userIDFlag(cmd, flagUser)
			if err != nil {
				return err
			}
			summary, err := rt.service.Summarize(cmd.Context(), userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", pointledger.CategoryDigitalGift, summary.BalanceFor(pointledger.CategoryDigitalGift))
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", pointledger.CategoryCorporateProduct, summary.BalanceFor(pointledger.CategoryCorporateProduct))
			fmt.Fprintf(cmd.OutOrStdout(), "total: %d\n", summary.Total)
			return nil
		},
	}
	cmd.Flags().String(flagUser, "", "user id")
	return cmd
}

func newConsumeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Consume points from one category, nearest expiry first",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = rt.cleanup() }()

			userID, err := userIDFlag(cmd, flagUser)
			if err != nil {
				return err
			}
			rawKind, _ := cmd.Flags().GetString(flagKind)
			kind, err := pointledger.ParseCategoryKind(rawKind)
			if err != nil {
				return err
			}
			rawPoints, _ := cmd.Flags().GetInt64(flagPoints)
			points, err := pointledger.NewPositivePoints(rawPoints)
			if err != nil {
				return err
			}
			rawReason, _ := cmd.Flags().GetString(flagReason)
			reason, err := pointledger.NewReason(rawReason)
			if err != nil {
				return err
			}

			consumptions, err := rt.service.Consume(cmd.Context(), userID, kind, points, reason, pointledger.TransactionLink{})
			if err != nil {
				return err
			}
			for _, consumption := range consumptions {
				fmt.Fprintf(cmd.OutOrStdout(), "lot %s: -%d\n", consumption.LotID, consumption.ConsumedPoints)
			}
			return nil
		},
	}
	cmd.Flags().String(flagUser, "", "user id")
	cmd.Flags().String(flagKind, "", "category kind")
	cmd.Flags().Int64(flagPoints, 0, "points to consume")
	cmd.Flags().String(flagReason, "", "consumption reason")
	return cmd
}

func newRedeemCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "redeem",
		Short: "Redeem a catalog product against the user's balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = rt.cleanup() }()

			userID, err := userIDFlag(cmd, flagUser)
			if err != nil {
				return err
			}
			productID, _ := cmd.Flags().GetInt64(flagProduct)
			notes, _ := cmd.Flags().GetString(flagNotes)

			exchange, err := rt.coordinator.Redeem(cmd.Context(), userID, productID, notes)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exchange %d: product %d, -%d points, status %s\n",
				exchange.ID, exchange.ProductID, exchange.PointsUsed, exchange.Status)
			return nil
		},
	}
	cmd.Flags().String(flagUser, "", "user id")
	cmd.Flags().Int64(flagProduct, 0, "product id")
	cmd.Flags().String(flagNotes, "", "exchange notes")
	return cmd
}

func newSweepCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire lots past their deadline; --watch keeps sweeping",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = rt.cleanup() }()

			interval, _ := cmd.Flags().GetDuration(flagInterval)
			runner, err := sweeper.New(rt.service, interval, func() time.Time { return time.Now().UTC() }, rt.logger)
			if err != nil {
				return err
			}

			watch, _ := cmd.Flags().GetBool(flagWatch)
			if !watch {
				expiredCount, err := runner.SweepOnce(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "expired %d lots\n", expiredCount)
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runner.Run(ctx)
		},
	}
	cmd.Flags().Bool(flagWatch, false, "run as a periodic daemon")
	cmd.Flags().Duration(flagInterval, defaultSweepInterval, "sweep interval in watch mode")
	return cmd
}

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List ledger transactions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = rt.cleanup() }()

			filter := pointledger.TransactionFilter{}
			if rawUser, _ := cmd.Flags().GetString(flagUser); rawUser != "" {
				userID, err := pointledger.NewUserID(rawUser)
				if err != nil {
					return err
				}
				filter.UserID = &userID
			}
			if rawKind, _ := cmd.Flags().GetString(flagKind); rawKind != "" {
				kind, err := pointledger.ParseCategoryKind(rawKind)
				if err != nil {
					return err
				}
				filter.Kind = &kind
			}
			if rawType, _ := cmd.Flags().GetString(flagType); rawType != "" {
				transactionType, err := pointledger.ParseTransactionType(rawType)
				if err != nil {
					return err
				}
				filter.Type = &transactionType
			}
			filter.Limit, _ = cmd.Flags().GetInt(flagLimit)
			filter.Offset, _ = cmd.Flags().GetInt(flagOffset)

			transactions, err := rt.service.QueryTransactions(cmd.Context(), filter)
			if err != nil {
				return err
			}
			for _, transaction := range transactions {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s %s %+d balance=%d %s\n",
					transaction.CreatedAt.Format(time.RFC3339),
					transaction.UserID,
					transaction.Type,
					transaction.Kind,
					transaction.Amount,
					transaction.BalanceAfter,
					transaction.Reason,
				)
			}
			return nil
		},
	}
	cmd.Flags().String(flagUser, "", "filter by user id")
	cmd.Flags().String(flagKind, "", "filter by category kind")
	cmd.Flags().String(flagType, "", "filter by transaction type")
	cmd.Flags().Int(flagLimit, 50, "maximum rows")
	cmd.Flags().Int(flagOffset, 0, "rows to skip")
	return cmd
}

func userIDFlag(cmd *cobra.Command, name string) (pointledger.UserID, error) {
	raw, _ := cmd.Flags().GetString(name)
	return pointledger.NewUserID(raw)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	gormConfig := &gorm.Config{Logger: gormlogger.Discard}
	var db *gorm.DB
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "pointledger.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := gormstore.Migrate(db); err != nil {
		return fmt.Errorf("auto migrate ledger: %w", err)
	}
	if err := redemption.Migrate(db); err != nil {
		return fmt.Errorf("auto migrate catalog: %w", err)
	}
	return nil
}
