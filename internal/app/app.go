package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"tb-go/internal/archive"
	"tb-go/internal/config"
	"tb-go/internal/corpus"
	"tb-go/internal/credentials"
	"tb-go/internal/database"
	"tb-go/internal/encryption"
	"tb-go/internal/finetune"
	"tb-go/internal/mirror"
	"tb-go/internal/tb"
	"tb-go/internal/tumblr"
	"tb-go/internal/vault"
)

// TBApp is the application layer between the CLI and the services.
// It constructs dependencies from config on first use, exposes the
// high-level operations, and manages the DB lifecycle on Close.
type TBApp struct {
	cfg     *config.Config
	db      *database.SQLiteDatabase
	archive *archive.FileArchive
	store   tb.CredentialStore
	history *tb.Service
	logger  tb.Logger
	clock   tb.Clock
	sleeper tb.Sleeper
	logFile *os.File

	opts options

	client    *tumblr.Client
	remote    *tb.Service
	openai    finetune.API
	vault     tb.Vault
	encryptor tb.Encryptor
}

// Option customizes a TBApp.
type Option func(*options)

type options struct {
	encoder    corpus.Encoder
	openai     finetune.API
	remoteOpts []tumblr.Option
	logWriter  io.Writer
	verbose    bool
}

// WithEncoder replaces the tiktoken encoder used for token counts.
func WithEncoder(e corpus.Encoder) Option {
	return func(o *options) { o.encoder = e }
}

// WithOpenAI replaces the OpenAI client.
func WithOpenAI(api finetune.API) Option {
	return func(o *options) { o.openai = api }
}

// WithRemoteOptions passes options to the post API client.
func WithRemoteOptions(opts ...tumblr.Option) Option {
	return func(o *options) { o.remoteOpts = append(o.remoteOpts, opts...) }
}

// WithVerbose enables debug logging.
func WithVerbose(v bool) Option {
	return func(o *options) { o.verbose = v }
}

// WithConsole sends console log output to w instead of stderr.
func WithConsole(w io.Writer) Option {
	return func(o *options) { o.logWriter = w }
}

// NewTBApp creates a TBApp from the given config.
// operation identifies the CLI command being run (e.g. "Sync", "Mirror").
// The caller must call Close when done.
func NewTBApp(cfg *config.Config, operation string, opts ...Option) (*TBApp, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	opID := operation + "-" + time.Now().UTC().Format("20060102T150405Z")
	var console io.Writer = o.logWriter
	if console == nil {
		console = os.Stderr
	}
	slogger, logFile, err := newLogger(cfg.LogDir, opID, console, o.verbose)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}

	arch, err := archive.NewFileArchive(cfg.Sync.ArchiveDir, logger)
	if err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("opening archive: %w", err)
	}

	store, err := credentials.NewStoreFromConfig(cfg.Credentials)
	if err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating credential store: %w", err)
	}

	clock := tb.RealClock{}
	return &TBApp{
		cfg:     cfg,
		db:      db,
		archive: arch,
		store:   store,
		history: tb.NewService(db, nil, nil, logger, clock),
		logger:  logger,
		clock:   clock,
		sleeper: tb.RealSleeper{},
		logFile: logFile,
		opts:    o,
	}, nil
}

// Config returns the config the app was built from.
func (a *TBApp) Config() *config.Config {
	return a.cfg
}

func (a *TBApp) remoteClient() (*tumblr.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	c, err := tumblr.NewClient(a.cfg.Remote, a.store, a.clock, a.logger, a.opts.remoteOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating api client: %w", err)
	}
	a.client = c
	return c, nil
}

func (a *TBApp) remoteService() (*tb.Service, error) {
	if a.remote != nil {
		return a.remote, nil
	}
	c, err := a.remoteClient()
	if err != nil {
		return nil, err
	}
	sync := tb.NewSynchronizer(c, a.archive, a.retryPolicy(), a.logger)
	a.remote = tb.NewService(a.db, sync, c, a.logger, a.clock)
	return a.remote, nil
}

func (a *TBApp) retryPolicy() *tb.RetryPolicy {
	r := a.cfg.Retry
	return tb.NewRetryPolicy(r.MaxAttempts, r.BaseDelay, r.MaxDelay, a.sleeper, a.logger)
}

// Authorized reports whether a complete credential is stored.
func (a *TBApp) Authorized() bool {
	return !a.store.AnyMissing()
}

func (a *TBApp) requireCredential() error {
	if a.store.AnyMissing() {
		return tb.ErrMissingCredential
	}
	return nil
}

func (a *TBApp) openAI() (finetune.API, error) {
	if a.opts.openai != nil {
		return a.opts.openai, nil
	}
	if a.openai != nil {
		return a.openai, nil
	}
	c, err := finetune.NewClient(a.cfg.OpenAI)
	if err != nil {
		return nil, err
	}
	a.openai = c
	return c, nil
}

func (a *TBApp) mirror() (*mirror.Mirror, error) {
	if a.vault == nil {
		if len(a.cfg.Vaults) == 0 {
			return nil, fmt.Errorf("no vaults configured")
		}
		v, err := vault.NewVaultFromConfig(a.cfg.Vaults[0])
		if err != nil {
			return nil, fmt.Errorf("creating vault: %w", err)
		}
		a.vault = v
	}
	if a.encryptor == nil {
		enc, err := encryption.NewEncryptorFromConfig(a.cfg.Encryption)
		if err != nil {
			return nil, fmt.Errorf("creating encryptor: %w", err)
		}
		a.encryptor = enc
	}
	return mirror.New(a.cfg.HostID, a.archive, a.vault, a.encryptor, a.db, a.history, a.clock, a.logger), nil
}

func (a *TBApp) accountant() (*corpus.Accountant, error) {
	enc := a.opts.encoder
	if enc == nil {
		te, err := corpus.NewTiktokenEncoder(a.cfg.Training.Model, a.logger)
		if err != nil {
			return nil, err
		}
		enc = te
	}
	return corpus.NewAccountant(a.archive, enc, corpus.SettingsFromConfig(a.cfg.Training), a.logger), nil
}

// resolveAccounts returns accounts, or the configured accounts when empty.
func (a *TBApp) resolveAccounts(accounts []string) ([]string, error) {
	if len(accounts) > 0 {
		return accounts, nil
	}
	if len(a.cfg.Accounts) == 0 {
		return nil, fmt.Errorf("no accounts given and none configured")
	}
	return a.cfg.Accounts, nil
}

// archivedAccounts returns accounts, or every archived account when empty.
func (a *TBApp) archivedAccounts(accounts []string) ([]string, error) {
	if len(accounts) > 0 {
		return accounts, nil
	}
	archived, err := a.archive.Accounts()
	if err != nil {
		return nil, err
	}
	if len(archived) == 0 {
		return nil, fmt.Errorf("no archived accounts (run `tb sync` first)")
	}
	return archived, nil
}

// AuthorizationURL returns the page where the user grants access and the
// state value the redirect must echo.
func (a *TBApp) AuthorizationURL() (string, string, error) {
	c, err := a.remoteClient()
	if err != nil {
		return "", "", err
	}
	state := uuid.NewString()
	return c.AuthorizationURL(state), state, nil
}

// CompleteAuthorization exchanges the code from the authorization redirect
// for a credential and stores it.
func (a *TBApp) CompleteAuthorization(ctx context.Context, code string) (tb.Credential, error) {
	c, err := a.remoteClient()
	if err != nil {
		return tb.Credential{}, err
	}
	return c.ExchangeCode(ctx, code)
}

// BlogInfo returns account's summary, retrying through rate limits.
func (a *TBApp) BlogInfo(ctx context.Context, account string) (*tumblr.BlogInfo, error) {
	if err := a.requireCredential(); err != nil {
		return nil, err
	}
	c, err := a.remoteClient()
	if err != nil {
		return nil, err
	}
	return tb.Retry(ctx, a.retryPolicy(), "info "+account, func(ctx context.Context) (*tumblr.BlogInfo, error) {
		return c.BlogInfo(ctx, account)
	})
}

// Sync fetches new posts for accounts into their archives. With no accounts
// the configured accounts are synced.
func (a *TBApp) Sync(ctx context.Context, accounts []string, progress tb.ProgressFunc) ([]*tb.SyncResult, error) {
	accounts, err := a.resolveAccounts(accounts)
	if err != nil {
		return nil, err
	}
	if err := a.requireCredential(); err != nil {
		return nil, err
	}
	svc, err := a.remoteService()
	if err != nil {
		return nil, err
	}
	return svc.SyncAccounts(ctx, accounts, a.cfg.Sync.Workers, progress)
}

// Estimate prices a training corpus built from the archives of accounts.
func (a *TBApp) Estimate(accounts []string) (*corpus.Estimate, error) {
	accounts, err := a.archivedAccounts(accounts)
	if err != nil {
		return nil, err
	}
	acct, err := a.accountant()
	if err != nil {
		return nil, err
	}
	return acct.Estimate(accounts)
}

// WriteExamples writes the training corpus for accounts to the configured
// examples path, dropping flagged examples when moderation is enabled.
func (a *TBApp) WriteExamples(ctx context.Context, accounts []string) (*corpus.Estimate, error) {
	accounts, err := a.archivedAccounts(accounts)
	if err != nil {
		return nil, err
	}
	acct, err := a.accountant()
	if err != nil {
		return nil, err
	}

	var moderator corpus.Moderator
	if a.cfg.Training.Moderate {
		api, err := a.openAI()
		if err != nil {
			return nil, err
		}
		moderator = finetune.NewModerator(api)
	}
	return acct.WriteExamples(ctx, accounts, a.cfg.Training.ExamplesPath, moderator)
}

// StartTraining uploads the corpus at the examples path and starts a
// fine-tuning job with the estimated epoch count.
func (a *TBApp) StartTraining(ctx context.Context) (*finetune.Job, *corpus.Estimate, error) {
	acct, err := a.accountant()
	if err != nil {
		return nil, nil, err
	}
	est, err := acct.EstimateFile(a.cfg.Training.ExamplesPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading examples (run `tb examples` first): %w", err)
	}
	if est.Examples == 0 {
		return nil, nil, fmt.Errorf("examples file %s is empty", a.cfg.Training.ExamplesPath)
	}

	api, err := a.openAI()
	if err != nil {
		return nil, nil, err
	}
	job, err := a.trainer(api).Start(ctx, a.cfg.Training.ExamplesPath, a.cfg.Training.Model, est.Epochs)
	if err != nil {
		return nil, nil, err
	}
	return job, est, nil
}

// WaitTraining polls job id until it finishes.
func (a *TBApp) WaitTraining(ctx context.Context, id string, onUpdate func(*finetune.Job)) (*finetune.Job, error) {
	api, err := a.openAI()
	if err != nil {
		return nil, err
	}
	return a.trainer(api).Wait(ctx, id, onUpdate)
}

func (a *TBApp) trainer(api finetune.API) *finetune.Trainer {
	return finetune.NewTrainer(api, a.sleeper, a.cfg.OpenAI.PollInterval, a.logger)
}

// Settings returns the corpus pricing settings.
func (a *TBApp) Settings() corpus.Settings {
	return corpus.SettingsFromConfig(a.cfg.Training)
}

// Draft is one generated post. ID is set once it exists as a draft.
type Draft struct {
	Text string
	ID   string
}

// Draft generates count posts with the fine-tuned model, or the configured
// draft count when count is not positive. When publish is true each one is
// also created as a draft on account, or on the configured draft account
// when account is empty. On failure the drafts made so far are returned
// with the error.
func (a *TBApp) Draft(ctx context.Context, account string, count int, publish bool) ([]Draft, error) {
	t := a.cfg.Training
	if t.FineTunedModel == "" {
		return nil, fmt.Errorf("no fine-tuned model configured (run `tb train`)")
	}
	if count <= 0 {
		count = t.DraftCount
	}
	if count <= 0 {
		count = 1
	}

	var svc *tb.Service
	if publish {
		if account == "" {
			account = t.DraftAccount
		}
		if account == "" {
			return nil, fmt.Errorf("no draft account given or configured")
		}
		if err := a.requireCredential(); err != nil {
			return nil, err
		}
		var err error
		if svc, err = a.remoteService(); err != nil {
			return nil, err
		}
	}

	api, err := a.openAI()
	if err != nil {
		return nil, err
	}
	gen := finetune.NewGenerator(api, t.FineTunedModel, t.DeveloperMessage, t.UserMessage)

	drafts := make([]Draft, 0, count)
	for range count {
		d, err := a.draft(ctx, gen, svc, account)
		if err != nil {
			return drafts, fmt.Errorf("generated %d draft(s) before failing: %w", len(drafts), err)
		}
		drafts = append(drafts, d)
	}
	a.logger.Info("drafts generated", "count", len(drafts), "published", publish)
	return drafts, nil
}

func (a *TBApp) draft(ctx context.Context, gen *finetune.Generator, svc *tb.Service, account string) (Draft, error) {
	text, err := gen.Generate(ctx)
	if err != nil {
		return Draft{}, err
	}
	if svc == nil {
		return Draft{Text: text}, nil
	}
	post := &tb.Post{Content: []tb.ContentBlock{{Type: "text", Text: text}}}
	id, err := svc.PublishDraft(ctx, account, post)
	if err != nil {
		return Draft{}, err
	}
	return Draft{Text: text, ID: id}, nil
}

// History returns the most recent operations.
func (a *TBApp) History(limit int) ([]*tb.Operation, error) {
	return a.history.GetHistory(limit)
}

// Mirror uploads encrypted archives of accounts, or of every archived
// account, together with a history snapshot.
func (a *TBApp) Mirror(accounts []string) ([]mirror.Entry, error) {
	accounts, err := a.archivedAccounts(accounts)
	if err != nil {
		return nil, err
	}
	m, err := a.mirror()
	if err != nil {
		return nil, err
	}
	if err := m.CheckHistory(); err != nil {
		return nil, err
	}
	return m.MirrorAccounts(accounts)
}

// Restore replaces local archives with their mirrored copies.
func (a *TBApp) Restore(accounts []string, passphrase string) (map[string]int, error) {
	m, err := a.mirror()
	if err != nil {
		return nil, err
	}
	return m.Restore(accounts, passphrase)
}

// SetupKeys generates the mirror key pair, sealing the private key with
// passphrase.
func (a *TBApp) SetupKeys(passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(a.cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if err := enc.Setup(passphrase); err != nil {
		return err
	}
	a.logger.Info("mirror keys created", "public_key", a.cfg.Encryption.PublicKeyPath)
	return nil
}

// Close closes the database and the log file.
func (a *TBApp) Close() error {
	var firstErr error
	if err := a.db.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
