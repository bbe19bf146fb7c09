package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"tb-go/internal/app"
	"tb-go/internal/config"
	"tb-go/internal/corpus"
	"tb-go/internal/database"
	"tb-go/internal/finetune"
	"tb-go/internal/tb"
)

var verbose bool

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and fills secrets from the environment.
func loadConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, defaults.ConfigPath, nil
}

// newApp reads the config and creates a TBApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Sync", "Mirror").
func newApp(operation string) (*app.TBApp, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewTBApp(cfg, operation, app.WithVerbose(verbose))
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// saveTraining writes training back to the config file. The file is
// re-read so secrets taken from the environment stay out of it.
func saveTraining(training config.TrainingConfig) error {
	defaults, err := app.GetDefaults()
	if err != nil {
		return err
	}
	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return err
	}
	cfg.Training = training
	return config.WriteToFile(defaults.ConfigPath, cfg)
}

var rootCmd = &cobra.Command{
	Use:          "tb",
	Short:        "Post history backup and training corpus tool",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration and the history database",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults.BaseDir)

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		if err := database.InitFromConfig(cfg.Database, cfg.HostID); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}

		header("Configuration initialized")
		field("Config", defaults.ConfigPath)
		field("Host ID", hostID)
		field("Base Dir", defaults.BaseDir)
		fmt.Println(dimStyle.Render("Set remote.client_id, then run `tb auth`."))
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		header("Configuration from " + path)
		field("Host ID", cfg.HostID)
		field("Base Dir", cfg.BaseDir)
		field("Log Dir", cfg.LogDir)
		field("Accounts", strings.Join(cfg.Accounts, ", "))
		field("Archive Dir", cfg.Sync.ArchiveDir)
		field("Examples", cfg.Training.ExamplesPath)
		field("Model", cfg.Training.Model)
		if cfg.Training.FineTunedModel != "" {
			field("Tuned Model", cfg.Training.FineTunedModel)
		}
		for _, v := range cfg.Vaults {
			field("Vault", fmt.Sprintf("%s (%s)", v.Name, v.Type))
		}
		return nil
	},
}

// auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize access to the post API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Auth")
		if err != nil {
			return err
		}
		defer a.Close()

		if a.Authorized() {
			fmt.Println(dimStyle.Render("A credential is already stored; it will be replaced."))
		}
		authURL, state, err := a.AuthorizationURL()
		if err != nil {
			return err
		}

		header("Open this page and grant access:")
		fmt.Println(authURL)
		fmt.Print("\nPaste the URL you were redirected to: ")
		input, err := readLine()
		if err != nil {
			return err
		}

		code, err := parseRedirect(input, state)
		if err != nil {
			return err
		}
		cred, err := a.CompleteAuthorization(cmd.Context(), code)
		if err != nil {
			return err
		}

		fmt.Println(okStyle.Render("Authorized."))
		field("Scope", cred.Scope)
		field("Expires", cred.ExpiresAt.Local().Format("2006-01-02 15:04"))
		for _, account := range a.Config().Accounts {
			info, err := a.BlogInfo(cmd.Context(), account)
			if err != nil {
				fmt.Println(errStyle.Render(fmt.Sprintf("%s: %v", account, err)))
				continue
			}
			field(info.Name, fmt.Sprintf("%d posts", info.Posts))
		}
		return nil
	},
}

// parseRedirect extracts the authorization code from a redirect URL and
// checks its state. A bare code is accepted as is.
func parseRedirect(input, state string) (string, error) {
	if !strings.Contains(input, "code=") {
		if input == "" {
			return "", fmt.Errorf("no authorization code given")
		}
		return input, nil
	}

	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("parsing redirect URL: %w", err)
	}
	q := u.Query()
	if e := q.Get("error"); e != "" {
		return "", fmt.Errorf("authorization denied: %s", e)
	}
	if q.Get("state") != state {
		return "", fmt.Errorf("state mismatch: the redirect does not belong to this request")
	}
	return q.Get("code"), nil
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync [ACCOUNT...]",
	Short: "Fetch new posts into the local archives",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Sync")
		if err != nil {
			return err
		}
		defer a.Close()

		progress := func(p tb.Progress) {
			if p.Completed%100 == 0 {
				fmt.Println(dimStyle.Render(fmt.Sprintf("%s: %d/%d", p.Account, p.Completed, p.Total)))
			}
		}

		results, err := a.Sync(cmd.Context(), args, progress)
		for _, r := range results {
			if r == nil {
				continue
			}
			fmt.Printf("%s  %s new, %d/%d archived\n",
				headerStyle.Render(r.Account), countStyle.Render(fmt.Sprint(r.Fetched)), r.Completed, r.Total)
		}
		if errors.Is(err, tb.ErrMissingCredential) || errors.Is(err, tb.ErrAuthenticationExpired) {
			fmt.Println(errStyle.Render("Run `tb auth` to authorize again."))
		}
		return err
	},
}

// estimate command
var estimateCmd = &cobra.Command{
	Use:   "estimate [ACCOUNT...]",
	Short: "Count the tokens and price of a training corpus",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Estimate")
		if err != nil {
			return err
		}
		defer a.Close()

		est, err := a.Estimate(args)
		if err != nil {
			return err
		}

		header("Training corpus estimate")
		field("Examples", est.Examples)
		field("Posts", est.Posts)
		field("Custom prompts", est.CustomPrompts)
		field("Encoding", est.Encoding)
		field("Tokens/epoch", est.Tokens)
		field("Epochs", est.Epochs)
		field("Total tokens", est.TotalTokens)
		field("Cost", fmt.Sprintf("$%.2f", est.Cost))
		return nil
	},
}

// examples command
var examplesCmd = &cobra.Command{
	Use:   "examples [ACCOUNT...]",
	Short: "Write the training corpus",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Examples")
		if err != nil {
			return err
		}
		defer a.Close()

		est, err := a.WriteExamples(cmd.Context(), args)
		if err != nil {
			return err
		}

		header("Wrote " + a.Config().Training.ExamplesPath)
		field("Examples", est.Examples)
		field("Flagged", est.Flagged)
		field("Tokens/epoch", est.Tokens)
		field("Epochs", est.Epochs)
		field("Cost", fmt.Sprintf("$%.2f", est.Cost))
		return nil
	},
}

// train command
var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Start a fine-tuning job and wait for it",
	RunE: func(cmd *cobra.Command, args []string) error {
		restart, _ := cmd.Flags().GetBool("new")

		a, err := newApp("Train")
		if err != nil {
			return err
		}
		defer a.Close()

		training := a.Config().Training
		jobID := training.JobID
		var est *corpus.Estimate
		if jobID == "" || restart {
			var job *finetune.Job
			job, est, err = a.StartTraining(cmd.Context())
			if err != nil {
				return err
			}
			jobID = job.ID
			training.JobID = jobID
			if err := saveTraining(training); err != nil {
				return fmt.Errorf("saving job id: %w", err)
			}

			header("Fine-tuning job " + jobID)
			field("Examples", est.Examples)
			field("Epochs", est.Epochs)
			field("Cost", fmt.Sprintf("$%.2f", est.Cost))
		} else {
			header("Resuming fine-tuning job " + jobID)
		}

		last := ""
		job, err := a.WaitTraining(cmd.Context(), jobID, func(j *finetune.Job) {
			if j.Status != last {
				fmt.Printf("%s  %s\n", dimStyle.Render(jobID), statusText(j.Status))
				last = j.Status
			}
		})
		if err != nil {
			if job != nil && job.Done() {
				training.JobID = ""
				saveTraining(training)
			}
			return err
		}

		training.JobID = ""
		training.FineTunedModel = job.FineTunedModel
		if err := saveTraining(training); err != nil {
			return fmt.Errorf("saving fine-tuned model: %w", err)
		}
		field("Tuned model", countStyle.Render(job.FineTunedModel))
		field("Trained tokens", job.TrainedTokens)
		if est != nil && job.Epochs > 0 && job.Epochs != est.Epochs {
			_, cost := a.Settings().Cost(est.Tokens, job.Epochs)
			field("Actual cost", fmt.Sprintf("$%.2f (%d epochs)", cost, job.Epochs))
		}
		return nil
	},
}

// draft command
var draftCmd = &cobra.Command{
	Use:   "draft",
	Short: "Generate a post with the fine-tuned model",
	RunE: func(cmd *cobra.Command, args []string) error {
		publish, _ := cmd.Flags().GetBool("publish")
		account, _ := cmd.Flags().GetString("account")
		count, _ := cmd.Flags().GetInt("count")

		a, err := newApp("Draft")
		if err != nil {
			return err
		}
		defer a.Close()

		drafts, err := a.Draft(cmd.Context(), account, count, publish)
		for _, d := range drafts {
			fmt.Println(d.Text)
			if d.ID != "" {
				fmt.Println(okStyle.Render("Draft created: " + d.ID))
			}
		}
		if errors.Is(err, tb.ErrMissingCredential) {
			fmt.Println(errStyle.Render("Run `tb auth` first."))
		}
		if err != nil {
			return err
		}
		fmt.Println(dimStyle.Render(fmt.Sprintf("Generated %d draft(s).", len(drafts))))
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View recent operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("History")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.History(limit)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			finished := "running"
			if op.FinishedAt.Valid {
				finished = op.FinishedAt.Time.Local().Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%s  %-8s %-20s %s  %s records  %s\n",
				dimStyle.Render(fmt.Sprintf("#%d", op.ID)), op.Kind, op.Account, statusText(op.Status),
				countStyle.Render(fmt.Sprint(op.Records)), dimStyle.Render(finished))
			if op.Detail != "" {
				fmt.Println("    " + errStyle.Render(op.Detail))
			}
		}
		return nil
	},
}

// mirror command
var mirrorCmd = &cobra.Command{
	Use:   "mirror [ACCOUNT...]",
	Short: "Upload encrypted archives to the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Mirror")
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.Mirror(args)
		for _, e := range entries {
			fmt.Printf("%s  %s records  %s\n", headerStyle.Render(e.Account),
				countStyle.Render(fmt.Sprint(e.Records)), dimStyle.Render(e.Object))
		}
		return err
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore [ACCOUNT...]",
	Short: "Replace local archives with their mirrored copies",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Restore")
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := readSecret("Passphrase: ")
		if err != nil {
			return err
		}

		restored, err := a.Restore(args, passphrase)
		for account, n := range restored {
			fmt.Printf("%s  %s records restored\n", headerStyle.Render(account), countStyle.Render(fmt.Sprint(n)))
		}
		return err
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage mirror encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the mirror key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Keys")
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := readSecret("New passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readSecret("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if passphrase != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := a.SetupKeys(passphrase); err != nil {
			return err
		}
		fmt.Println(okStyle.Render("Keys written."))
		field("Public key", a.Config().Encryption.PublicKeyPath)
		fmt.Println(dimStyle.Render("Keep the passphrase safe: restores need it."))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug details")

	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(estimateCmd)
	rootCmd.AddCommand(examplesCmd)

	trainCmd.Flags().Bool("new", false, "start a new job even if one is in progress")
	rootCmd.AddCommand(trainCmd)

	draftCmd.Flags().BoolP("publish", "p", false, "create the post as a draft")
	draftCmd.Flags().StringP("account", "a", "", "account to create the draft on (default: training.draft_account)")
	draftCmd.Flags().IntP("count", "n", 0, "number of drafts to generate (default: training.draft_count)")
	rootCmd.AddCommand(draftCmd)

	historyCmd.Flags().IntP("limit", "n", 20, "number of operations to show")
	rootCmd.AddCommand(historyCmd)

	rootCmd.AddCommand(mirrorCmd)
	rootCmd.AddCommand(restoreCmd)

	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysInitCmd)
}
