package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/scheduling"
	"github.com/hms/hms/internal/platform/db"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hms-server",
		Short: "Hospital appointment scheduling API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(slotsCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations to one hospital or to all of them",
		RunE: func(cmd *cobra.Command, args []string) error {
			hospital, _ := cmd.Flags().GetString("hospital")
			dir, _ := cmd.Flags().GetString("dir")

			return withPool(cmd.Context(), dir, func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, m *db.Migrator) error {
				schemas, err := targetSchemas(ctx, m, hospital)
				if err != nil {
					return err
				}
				for _, schema := range schemas {
					count, err := m.Up(ctx, schema)
					if err != nil {
						return fmt.Errorf("migrate %s: %w", schema, err)
					}
					fmt.Printf("%s: applied %d migration(s)\n", schema, count)
				}
				return nil
			})
		},
	}
	upCmd.Flags().String("hospital", "", "Hospital identifier (default: every hospital schema)")
	upCmd.Flags().String("dir", "", "Path to migrations directory (default: MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			hospital, _ := cmd.Flags().GetString("hospital")
			dir, _ := cmd.Flags().GetString("dir")

			return withPool(cmd.Context(), dir, func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, m *db.Migrator) error {
				schemas, err := targetSchemas(ctx, m, hospital)
				if err != nil {
					return err
				}
				for _, schema := range schemas {
					statuses, err := m.Status(ctx, schema)
					if err != nil {
						return fmt.Errorf("status of %s: %w", schema, err)
					}
					fmt.Printf("Migration status for schema: %s\n", schema)
					fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
					for _, s := range statuses {
						status, appliedAt := "pending", ""
						if s.Applied {
							status = "applied"
							if s.AppliedAt != nil {
								appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
							}
						}
						fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
					}
				}
				return nil
			})
		},
	}
	statusCmd.Flags().String("hospital", "", "Hospital identifier (default: every hospital schema)")
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default: MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

// targetSchemas resolves --hospital to its schema, or lists every hospital
// schema when the flag is empty.
func targetSchemas(ctx context.Context, m *db.Migrator, hospital string) ([]string, error) {
	if hospital != "" {
		return []string{db.SchemaName(hospital)}, nil
	}
	schemas, err := m.Schemas(ctx)
	if err != nil {
		return nil, err
	}
	if len(schemas) == 0 {
		return nil, fmt.Errorf("no hospital schemas found; create one with: hms-server tenant create --name <id>")
	}
	return schemas, nil
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage hospitals",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a hospital schema and apply all migrations to it",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			return withPool(cmd.Context(), "", func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, m *db.Migrator) error {
				fmt.Printf("Creating hospital schema: %s\n", db.SchemaName(name))
				if err := db.CreateTenantSchema(ctx, pool, name, cfg.MigrationsDir); err != nil {
					return err
				}
				fmt.Println("Hospital created.")
				return nil
			})
		},
	}
	createCmd.Flags().String("name", "", "Hospital identifier (letters, digits, underscore)")

	cmd.AddCommand(createCmd)
	return cmd
}

func slotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Print the available slots of a doctor's service on a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			hospital, _ := cmd.Flags().GetString("hospital")
			doctorArg, _ := cmd.Flags().GetString("doctor")
			serviceArg, _ := cmd.Flags().GetString("service")
			dateArg, _ := cmd.Flags().GetString("date")

			doctorID, err := uuid.Parse(doctorArg)
			if err != nil {
				return fmt.Errorf("--doctor must be a UUID: %w", err)
			}
			serviceID, err := uuid.Parse(serviceArg)
			if err != nil {
				return fmt.Errorf("--service must be a UUID: %w", err)
			}
			date, err := time.Parse(scheduling.DateLayout, dateArg)
			if err != nil {
				return fmt.Errorf("--date must be yyyy-MM-dd: %w", err)
			}

			return withPool(cmd.Context(), "", func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, m *db.Migrator) error {
				if hospital == "" {
					hospital = cfg.DefaultTenant
				}
				ctx, release, err := db.Scoped(ctx, pool, hospital)
				if err != nil {
					return err
				}
				defer release()

				svc := scheduling.NewService(
					scheduling.NewDoctorRepoPG(pool),
					scheduling.NewServiceRepoPG(pool),
					scheduling.NewScheduleRepoPG(pool),
					scheduling.NewBookingRepoPG(pool),
					scheduling.NewPatientRepoPG(pool),
				)
				res, err := svc.ComputeAvailableSlots(ctx, doctorID, serviceID, date)
				if err != nil {
					return err
				}
				if res.Code != "" {
					fmt.Println(res.Code)
					return nil
				}
				for _, s := range res.Slots {
					fmt.Println(s.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
	cmd.Flags().String("hospital", "", "Hospital identifier (default: DEFAULT_TENANT)")
	cmd.Flags().String("doctor", "", "Doctor id")
	cmd.Flags().String("service", "", "Service id")
	cmd.Flags().String("date", "", "Date, yyyy-MM-dd (UTC)")
	_ = cmd.MarkFlagRequired("doctor")
	_ = cmd.MarkFlagRequired("service")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}
