package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/secpipeline/internal/auth"
	"github.com/jmerrifield20/secpipeline/internal/collector"
	"github.com/jmerrifield20/secpipeline/internal/delivery"
	"github.com/jmerrifield20/secpipeline/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "secctl",
	Short: "Operator CLI for the security event pipeline",
	Long: `secctl talks to a running secpipeline service and to its brokers.

It scores ad-hoc events, submits raw records, prints reports, inspects the
audit ledger, seeds synthetic traffic and mints operator tokens.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.secctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("SECCTL")
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.secctl/config.yaml)")
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "secpipeline API base URL")
	rootCmd.PersistentFlags().String("token", "", "operator bearer token")
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))

	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() (*client.Client, error) {
	var opts []client.Option
	if tok := viper.GetString("token"); tok != "" {
		opts = append(opts, client.WithBearerToken(tok))
	}
	return client.New(viper.GetString("server"), opts...)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── score ────────────────────────────────────────────────────────────────────

var (
	scoreEntity     string
	scoreAction     string
	scoreGeo        string
	scoreAttrs      map[string]string
	scoreIndicators []string
	scoreFormat     string
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score a canonical event without triggering a response",
	Example: `  secctl score --entity alice@example.com --action CreateAccessKey --geo RU
  secctl score --entity bob@example.com --action ListUsers --indicator 185.220.101.1 --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		attrs := make(map[string]string, len(scoreAttrs)+1)
		for k, v := range scoreAttrs {
			attrs[k] = v
		}
		if scoreGeo != "" {
			attrs["geo"] = scoreGeo
		}

		res, err := c.Score(cmd.Context(), client.Event{
			EntityID:   scoreEntity,
			Action:     scoreAction,
			Source:     "secctl",
			Attributes: attrs,
			Indicators: scoreIndicators,
		})
		if err != nil {
			return fmt.Errorf("score: %w", err)
		}

		out := cmd.OutOrStdout()
		if scoreFormat == "json" {
			return printJSON(out, res)
		}
		if res.Assessment == nil {
			fmt.Fprintln(out, "event was not scored")
			return nil
		}
		fmt.Fprintf(out, "Event:    %s\n", res.Event.ID)
		fmt.Fprintf(out, "Score:    %d\n", res.Assessment.Score)
		fmt.Fprintf(out, "Severity: %s\n", res.Assessment.Severity)
		for _, r := range res.Assessment.Reasons {
			fmt.Fprintf(out, "  - %s\n", r)
		}
		return nil
	},
}

func init() {
	scoreCmd.Flags().StringVar(&scoreEntity, "entity", "", "Entity (principal) id")
	scoreCmd.Flags().StringVar(&scoreAction, "action", "", "API action name, e.g. CreateAccessKey")
	scoreCmd.Flags().StringVar(&scoreGeo, "geo", "", "Origin location attribute")
	scoreCmd.Flags().StringToStringVar(&scoreAttrs, "attr", nil, "Extra attributes (key=value, repeatable)")
	scoreCmd.Flags().StringSliceVar(&scoreIndicators, "indicator", nil, "Observable indicators (repeatable)")
	scoreCmd.Flags().StringVar(&scoreFormat, "format", "text", "Output format: text or json")
	_ = scoreCmd.MarkFlagRequired("entity")
	_ = scoreCmd.MarkFlagRequired("action")
}

// ── ingest ───────────────────────────────────────────────────────────────────

var ingestCmd = &cobra.Command{
	Use:   "ingest <file|->",
	Short: "Submit a raw CloudTrail record for full processing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			raw []byte
			err error
		)
		if args[0] == "-" {
			raw, err = io.ReadAll(cmd.InOrStdin())
		} else {
			raw, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("read record: %w", err)
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.Ingest(cmd.Context(), bytes.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("ingest: %w", err)
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

// ── report ───────────────────────────────────────────────────────────────────

var reportCmd = &cobra.Command{
	Use:       "report [compliance|iam|incidents]",
	Short:     "Print one report, or all of them",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{client.ReportCompliance, client.ReportIAM, client.ReportIncidents},
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := ""
		if len(args) == 1 {
			kind = args[0]
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		raw, err := c.Report(cmd.Context(), kind)
		if err != nil {
			return fmt.Errorf("report: %w", err)
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return fmt.Errorf("format report: %w", err)
		}
		buf.WriteByte('\n')
		_, err = buf.WriteTo(cmd.OutOrStdout())
		return err
	},
}

// ── audit ────────────────────────────────────────────────────────────────────

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the audit ledger root, or verify it",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ov, err := c.AuditOverview(cmd.Context())
		if err != nil {
			return fmt.Errorf("audit: %w", err)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Entries:\t%d\n", ov.Entries)
		fmt.Fprintf(w, "Root:\t%s\n", ov.Root)
		return w.Flush()
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Walk the ledger and check every hash link",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.AuditVerify(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✓ audit ledger intact")
		return nil
	},
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print the newest ledger entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		raw, err := c.AuditEntries(cmd.Context(), auditLimit)
		if err != nil {
			return fmt.Errorf("audit tail: %w", err)
		}
		var resp struct {
			Entries []struct {
				Index     int       `json:"index"`
				Timestamp time.Time `json:"timestamp"`
				EventID   string    `json:"event_id"`
				EntityID  string    `json:"entity_id"`
				Playbook  string    `json:"playbook"`
				Status    string    `json:"status"`
			} `json:"entries"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return fmt.Errorf("decode entries: %w", err)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "IDX\tTIME\tPLAYBOOK\tSTATUS\tENTITY\tEVENT")
		for _, e := range resp.Entries {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				e.Index, e.Timestamp.Format(time.RFC3339), e.Playbook, e.Status, e.EntityID, e.EventID)
		}
		return w.Flush()
	},
}

func init() {
	auditTailCmd.Flags().IntVar(&auditLimit, "limit", 20, "Number of entries to show")
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
}

// ── seed ─────────────────────────────────────────────────────────────────────

var (
	seedBroker   string
	seedCount    int
	seedScenario string
	seedRandSeed uint64
	seedDryRun   bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Publish synthetic CloudTrail records to the event broker",
	Example: `  secctl seed --count 100
  secctl seed --broker kafka --scenario attack --count 20
  secctl seed --dry-run`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVar(&seedBroker, "broker", "nats", "Broker to publish to: nats or kafka")
	seedCmd.Flags().IntVar(&seedCount, "count", 100, "Number of records to publish")
	seedCmd.Flags().StringVar(&seedScenario, "scenario", collector.ScenarioMixed, "normal, suspicious, mixed or attack")
	seedCmd.Flags().Uint64Var(&seedRandSeed, "seed", uint64(time.Now().UnixNano()), "Random seed")
	seedCmd.Flags().BoolVar(&seedDryRun, "dry-run", false, "Print one sample record instead of publishing")

	viper.SetDefault("nats.url", "nats://localhost:4222")
	viper.SetDefault("nats.subject", delivery.DefaultNATSSubject)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topic", delivery.DefaultKafkaTopic)
}

func runSeed(cmd *cobra.Command, args []string) error {
	gen, err := collector.NewGenerator(seedScenario, seedRandSeed)
	if err != nil {
		return err
	}
	records, err := gen.Batch(seedCount)
	if err != nil {
		return fmt.Errorf("generate records: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Generated %d %s records\n", len(records), seedScenario)

	if seedDryRun {
		if len(records) == 0 {
			return nil
		}
		var buf bytes.Buffer
		_ = json.Indent(&buf, records[0], "", "  ")
		fmt.Fprintf(out, "\nSample record:\n%s\n", buf.String())
		return nil
	}

	var pub delivery.Publisher
	switch seedBroker {
	case "nats":
		pub, err = delivery.NewNATSPublisher(delivery.NATSConfig{
			URL:     viper.GetString("nats.url"),
			Subject: viper.GetString("nats.subject"),
		}, zap.NewNop())
		if err != nil {
			return err
		}
	case "kafka":
		pub = delivery.NewKafkaPublisher(delivery.KafkaConfig{
			Brokers: viper.GetStringSlice("kafka.brokers"),
			Topic:   viper.GetString("kafka.topic"),
		})
	default:
		return fmt.Errorf("unknown broker %q (want nats or kafka)", seedBroker)
	}
	defer pub.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
	defer cancel()

	counts := make(map[string]int)
	sent := 0
	for _, rec := range records {
		if err := pub.Publish(ctx, rec); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "publish failed: %v\n", err)
			continue
		}
		sent++
		var r struct {
			Detail struct {
				EventName string `json:"eventName"`
			} `json:"detail"`
		}
		_ = json.Unmarshal(rec, &r)
		counts[r.Detail.EventName]++
	}
	fmt.Fprintf(out, "✓ Published %d/%d records via %s\n\n", sent, len(records), seedBroker)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ACTION\tCOUNT")
	for _, name := range sortedByCount(counts) {
		fmt.Fprintf(w, "%s\t%d\n", name, counts[name])
	}
	return w.Flush()
}

// ── token ────────────────────────────────────────────────────────────────────

var (
	tokenSubject string
	tokenRole    string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an operator token signed with auth.token_secret",
	Long: `Mint an operator token. The signing secret is read from auth.token_secret
in the config file or SECCTL_AUTH_TOKEN_SECRET, and must match the service's.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		issuer := viper.GetString("auth.issuer")
		if issuer == "" {
			issuer = "secpipeline"
		}
		ti, err := auth.NewTokenIssuer(viper.GetString("auth.token_secret"), issuer, tokenTTL)
		if err != nil {
			return err
		}
		tok, err := ti.Issue(tokenSubject, tokenRole)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "Token subject, e.g. the operator's name")
	tokenCmd.Flags().StringVar(&tokenRole, "role", auth.RoleOperator, "operator or admin")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 8*time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("subject")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the secctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "secctl", version)
	},
}
