package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/viralforge/hui-ledger/internal/adapters/events"
	"github.com/viralforge/hui-ledger/internal/adapters/postgres"
	"github.com/viralforge/hui-ledger/internal/adapters/security"
	"github.com/viralforge/hui-ledger/internal/app/bootstrap"
	"github.com/viralforge/hui-ledger/internal/contracts"
	"github.com/viralforge/hui-ledger/internal/domain"
	"github.com/viralforge/hui-ledger/internal/ports"
	"github.com/viralforge/hui-ledger/internal/units"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded postgres migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := bootstrap.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if cfg.StorageDriver != bootstrap.StoragePostgres {
			return fmt.Errorf("storage driver is %q; migrations only apply to postgres", cfg.StorageDriver)
		}
		db, err := postgres.Connect(cmd.Context(), cfg.DatabaseURL, 2)
		if err != nil {
			return err
		}
		defer postgres.Close(db)
		if err := postgres.RunMigrations(cmd.Context(), db); err != nil {
			return err
		}
		names, _ := postgres.MigrationNames()
		pterm.Success.Printfln("applied %d migration(s)", len(names))
		return nil
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Replay the history and check it against the stored state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		report, err := rt.RunAudit(cmd.Context())
		if err != nil && !errors.Is(err, domain.ErrHistoryCorrupted) {
			return err
		}
		pterm.DefaultSection.Println("Audit")
		pterm.Info.Printfln("events: %d, head: #%d %s", report.EventCount, report.Head.Seq, report.Head.Hash.Hex())
		if report.OK() {
			pterm.Success.Println("history is consistent")
			return nil
		}
		items := make([]pterm.BulletListItem, 0, len(report.Problems))
		for _, p := range report.Problems {
			items = append(items, pterm.BulletListItem{Level: 0, Text: p})
		}
		_ = pterm.DefaultBulletList.WithItems(items).Render()
		return err
	},
}

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Show the pool summary and its members",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		view, err := rt.Service().GetPool(cmd.Context())
		if err != nil {
			return err
		}
		p := contracts.NewPoolResponse(view.Pool, len(view.Members))
		pterm.DefaultSection.Printfln("Pool of %s", p.Owner)
		summary := pterm.TableData{
			{"period", fmt.Sprintf("%d / %d", p.CurrentPeriod, p.TotalPeriods)},
			{"phase", p.Phase},
			{"members", fmt.Sprintf("%d / %d", p.MemberCount, p.MaxMembers)},
			{"contribution", p.ContributionAmount},
			{"receiver", p.Receiver},
			{"winning bid", p.WinningBid},
			{"amount due", p.AmountDue},
			{"period total", p.PeriodTotal},
			{"ended", strconv.FormatBool(p.Ended)},
		}
		if err := pterm.DefaultTable.WithData(summary).Render(); err != nil {
			return err
		}

		rows := pterm.TableData{{"#", "address", "deposit", "bid", "paid", "drawn", "late", "defaulted", "received"}}
		for _, m := range view.Members {
			r := contracts.NewMemberResponse(m, view.Pool)
			rows = append(rows, []string{
				strconv.Itoa(r.JoinIndex), r.Address, r.Deposit, r.Bid,
				strconv.FormatBool(r.Paid), strconv.FormatBool(r.Drawn),
				strconv.Itoa(r.LateCount), strconv.FormatBool(r.Defaulted), r.Received,
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	},
}

var (
	historyAfter   uint64
	historyLimit   int
	historyTypes   []string
	historyArchive string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the activity log in commit order",
	Long:  "Print the ledger history from the store, or from a sqlite archive written by the outbox worker with --archive.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var rows pterm.TableData
		var err error
		if historyArchive != "" {
			rows, err = archiveHistory(cmd)
		} else {
			rows, err = storeHistory(cmd)
		}
		if err != nil {
			return err
		}
		if len(rows) == 1 {
			pterm.Info.Println("no events")
			return nil
		}
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	},
}

var historyHeader = []string{"seq", "type", "period", "actor", "member", "amount", "at"}

func storeHistory(cmd *cobra.Command) (pterm.TableData, error) {
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return nil, err
	}
	defer rt.Close()

	evs, err := rt.Service().ListEvents(cmd.Context(), ports.EventQuery{AfterSeq: historyAfter, Limit: historyLimit, Types: historyTypes})
	if err != nil {
		return nil, err
	}
	rows := pterm.TableData{historyHeader}
	for _, ev := range contracts.NewEventResponses(evs) {
		rows = append(rows, []string{
			strconv.FormatUint(ev.Seq, 10), ev.Type, strconv.Itoa(ev.Period),
			ev.Actor, ev.Member, ev.Amount, ev.OccurredAt,
		})
	}
	return rows, nil
}

func archiveHistory(cmd *cobra.Command) (pterm.TableData, error) {
	archive, err := events.OpenSQLiteArchive(cmd.Context(), historyArchive)
	if err != nil {
		return nil, err
	}
	defer archive.Close()

	items, err := archive.List(cmd.Context(), historyAfter, historyLimit)
	if err != nil {
		return nil, err
	}
	wanted := map[string]bool{}
	for _, t := range historyTypes {
		wanted[t] = true
	}
	rows := pterm.TableData{historyHeader}
	for _, item := range items {
		if len(wanted) > 0 && !wanted[item.EventType] {
			continue
		}
		var data contracts.LedgerEventPayload
		if err := json.Unmarshal(item.Envelope.Data, &data); err != nil {
			return nil, fmt.Errorf("decode archived event %s: %w", item.EventID, err)
		}
		rows = append(rows, []string{
			strconv.FormatUint(data.Seq, 10), item.EventType, strconv.Itoa(data.Period),
			data.Actor, data.Member, data.Amount, data.OccurredAt,
		})
	}
	return rows, nil
}

var unitsCmd = &cobra.Command{
	Use:   "units",
	Short: "Convert between ether and wei exactly",
}

var toWeiCmd = &cobra.Command{
	Use:   "to-wei <ether>",
	Short: "Convert a decimal ether amount to wei",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wei, err := units.ParseEther(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), wei.String())
		return nil
	},
}

var fromWeiCmd = &cobra.Command{
	Use:   "from-wei <wei>",
	Short: "Convert a wei amount to decimal ether",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wei, err := units.ParseWei(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), units.FormatEther(wei))
		return nil
	},
}

var (
	tokenAddress string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an HS256 bearer token for an address (JWT_SECRET)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := bootstrap.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if cfg.AuthMode != bootstrap.AuthHMAC {
			return fmt.Errorf("auth mode is %q; tokens are only minted for hmac", cfg.AuthMode)
		}
		addr, err := security.ParseAddress(tokenAddress)
		if err != nil {
			return err
		}
		token, err := security.SignHMAC(cfg.JWTSecret, cfg.JWTIssuer, addr, tokenTTL, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	historyCmd.Flags().Uint64Var(&historyAfter, "after", 0, "only events after this sequence number")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 100, "maximum number of events")
	historyCmd.Flags().StringSliceVar(&historyTypes, "type", nil, "event types to include")
	historyCmd.Flags().StringVar(&historyArchive, "archive", "", "read from this sqlite archive instead of the store")

	unitsCmd.AddCommand(toWeiCmd, fromWeiCmd)

	tokenCmd.Flags().StringVar(&tokenAddress, "address", "", "caller address")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("address")
}
