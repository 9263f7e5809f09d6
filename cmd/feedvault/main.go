package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"feedvault/internal/activity"
	"feedvault/internal/config"
	"feedvault/internal/db"
	"feedvault/internal/feed"
	"feedvault/internal/httpcache"
	"feedvault/internal/logging"
	"feedvault/internal/pipeline"
	"feedvault/internal/queue"
	"feedvault/internal/server"
	"feedvault/internal/urlguard"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	dbPath     string
	dataDir    string

	cfg      *config.Config
	logger   *zap.Logger
	database *db.DB
	app      *pipeline.Service
)

func init() {
	cobra.OnInitialize(initApp)
}

func initApp() {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}
	if dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}

	logger, err = logging.New(cfg.Logging.Development)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	database, err = db.New(cfg.Storage.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	if err := database.RunMigrations(cfg.Storage.MigrationsPath); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	validator := urlguard.New(cfg.Validator.AllowPrivateNetworks)

	q := queue.New(queue.Config{
		Concurrency:     cfg.Queue.Concurrency,
		WindowStarts:    cfg.Queue.WindowStarts,
		Window:          cfg.Queue.Window,
		MaxRetries:      cfg.Queue.MaxRetries,
		BackoffBase:     cfg.Queue.BackoffBase,
		BackoffMaxDelay: cfg.Queue.BackoffMaxDelay,
	}, logger)

	fetcher := httpcache.New(database, q, validator, cfg.HTTP.Timeout, cfg.HTTP.UserAgent, logger)

	feeds := feed.NewService(database, fetcher, feed.Config{
		CacheTTL:          cfg.Feeds.CacheTTL,
		BatchSize:         cfg.Feeds.BatchSize,
		OverfetchMultiple: cfg.Feeds.OverfetchMultiple,
	}, logger)

	activityLog := activity.NewLog(database)

	app = pipeline.New(database, validator, feeds, fetcher, activityLog, cfg.Storage.DataDir, logger)
}

func main() {
	var rootCmd = &cobra.Command{
		Use:   "feedvault",
		Short: "A feed ingestion and article archival tool",
		Long:  "Subscribe to feeds, fetch and normalize articles, and archive saved pages as Markdown with localized images",
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to SQLite database file (overrides config)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory for archived articles (overrides config)")

	var serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}

	var serveAddr string
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")

	var feedCmd = &cobra.Command{
		Use:   "feed",
		Short: "Manage feed subscriptions",
	}

	var feedAddCmd = &cobra.Command{
		Use:   "add [url]",
		Short: "Subscribe to a feed",
		Args:  cobra.ExactArgs(1),
		RunE:  runFeedAdd,
	}

	var feedAddName string
	feedAddCmd.Flags().StringVar(&feedAddName, "name", "", "Display name for the feed")

	var feedListCmd = &cobra.Command{
		Use:   "list",
		Short: "List subscribed feeds",
		RunE:  runFeedList,
	}

	feedCmd.AddCommand(feedAddCmd, feedListCmd)

	var importCmd = &cobra.Command{
		Use:   "import",
		Short: "Import feed subscriptions from an OPML file",
		RunE:  runImport,
	}

	var opmlPath string
	importCmd.Flags().StringVar(&opmlPath, "opml", "", "Path to OPML file (required)")
	importCmd.MarkFlagRequired("opml")

	var refreshCmd = &cobra.Command{
		Use:   "refresh [url]",
		Short: "Fetch a feed and persist its articles",
		Args:  cobra.ExactArgs(1),
		RunE:  runRefresh,
	}

	var articlesCmd = &cobra.Command{
		Use:   "articles",
		Short: "List recent articles across all feeds",
		RunE:  runArticles,
	}

	var (
		articlesLimit  int
		articlesDate   string
		articlesWindow int
		articlesJSON   bool
	)

	articlesCmd.Flags().IntVar(&articlesLimit, "limit", 50, "Maximum number of articles to show")
	articlesCmd.Flags().StringVar(&articlesDate, "date", "", "Only show articles published on this date (2006-01-02)")
	articlesCmd.Flags().IntVar(&articlesWindow, "window", 1, "Number of days in the date window")
	articlesCmd.Flags().BoolVar(&articlesJSON, "json", false, "Output results as JSON")

	var saveCmd = &cobra.Command{
		Use:   "save",
		Short: "Archive a page as Markdown with localized images",
		RunE:  runSave,
	}

	var (
		saveURL  string
		saveFile string
	)

	saveCmd.Flags().StringVar(&saveURL, "url", "", "URL of the page to archive (required)")
	saveCmd.Flags().StringVar(&saveFile, "file", "", "Read page HTML from a file instead of fetching")
	saveCmd.MarkFlagRequired("url")

	var exportCmd = &cobra.Command{
		Use:   "export [article-id]",
		Short: "Export an article document to a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	}

	var exportOut string
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Output file path (required)")
	exportCmd.MarkFlagRequired("out")

	var stateCmd = &cobra.Command{
		Use:   "state [article-id]",
		Short: "Update read or favorite state of an article",
		Args:  cobra.ExactArgs(1),
		RunE:  runState,
	}

	var (
		stateRead     bool
		stateFavorite bool
	)

	stateCmd.Flags().BoolVar(&stateRead, "read", false, "Mark the article as read")
	stateCmd.Flags().BoolVar(&stateFavorite, "favorite", false, "Mark the article as favorite")

	var noteCmd = &cobra.Command{
		Use:   "note [article-id] [text]",
		Short: "Attach a note to an article",
		Args:  cobra.ExactArgs(2),
		RunE:  runNote,
	}

	var activityCmd = &cobra.Command{
		Use:   "activity",
		Short: "Show recent activity events",
		RunE:  runActivity,
	}

	var activityLimit int
	activityCmd.Flags().IntVar(&activityLimit, "limit", 50, "Maximum number of events to show")

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("feedvault v0.3.0")
		},
	}

	rootCmd.AddCommand(serveCmd, feedCmd, importCmd, refreshCmd, articlesCmd, saveCmd, exportCmd, stateCmd, noteCmd, activityCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}

	if app != nil {
		app.Wait()
	}
	if database != nil {
		database.Close()
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.Server.Addr
	}

	srv := server.New(app, logger)
	logger.Info("starting server", zap.String("addr", addr))
	return srv.Start(addr)
}

func runFeedAdd(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")

	added, err := app.AddFeed(cmd.Context(), args[0], name)
	if err != nil {
		return err
	}

	if added {
		fmt.Printf("Added feed %s\n", args[0])
	} else {
		fmt.Printf("Feed %s already subscribed\n", args[0])
	}
	return nil
}

func runFeedList(cmd *cobra.Command, args []string) error {
	feeds, err := app.ListFeeds()
	if err != nil {
		return err
	}

	for _, f := range feeds {
		fmt.Printf("%s\t%s\n", f.DisplayName, f.URL)
	}
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	opmlPath, _ := cmd.Flags().GetString("opml")

	raw, err := os.ReadFile(opmlPath)
	if err != nil {
		return fmt.Errorf("failed to read OPML file: %w", err)
	}

	added, err := app.ImportOPML(cmd.Context(), raw)
	if err != nil {
		return err
	}

	fmt.Printf("Imported %d feeds\n", added)
	return nil
}

func runRefresh(cmd *cobra.Command, args []string) error {
	parsed, err := app.FetchFeed(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if parsed == nil {
		fmt.Println("Feed could not be parsed, skipped")
		return nil
	}

	fmt.Printf("Fetched %q: %d articles\n", parsed.Title, len(parsed.Items))
	return nil
}

func runArticles(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	date, _ := cmd.Flags().GetString("date")
	window, _ := cmd.Flags().GetInt("window")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	var list []any
	if date != "" {
		day, err := time.Parse("2006-01-02", date)
		if err != nil {
			return fmt.Errorf("invalid date %q, expected 2006-01-02", date)
		}
		result, err := app.GetArticlesByDate(cmd.Context(), day, window)
		if err != nil {
			return err
		}
		for _, it := range result {
			list = append(list, it)
		}
	} else {
		result, err := app.GetAllArticles(cmd.Context(), limit)
		if err != nil {
			return err
		}
		for _, it := range result {
			list = append(list, it)
		}
	}

	if jsonOutput {
		out, err := json.MarshalIndent(list, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	for _, entry := range list {
		raw, _ := json.Marshal(entry)
		fmt.Println(string(raw))
	}
	return nil
}

func runSave(cmd *cobra.Command, args []string) error {
	sourceURL, _ := cmd.Flags().GetString("url")
	filePath, _ := cmd.Flags().GetString("file")

	var html string
	if filePath != "" {
		raw, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("failed to read HTML file: %w", err)
		}
		html = string(raw)
	} else {
		result, err := app.FetchPage(cmd.Context(), sourceURL)
		if err != nil {
			return fmt.Errorf("failed to fetch page: %w", err)
		}
		html = string(result)
	}

	markdownPath, fm, err := app.MaterializeArticle(cmd.Context(), html, sourceURL)
	if err != nil {
		return err
	}

	fmt.Printf("Saved %q to %s\n", fm.Title, markdownPath)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	outPath, _ := cmd.Flags().GetString("out")

	if err := app.ExportArticle(cmd.Context(), args[0], outPath); err != nil {
		return err
	}

	fmt.Printf("Exported article %s to %s\n", args[0], outPath)
	return nil
}

func runState(cmd *cobra.Command, args []string) error {
	var isRead, isFavorite *bool
	if cmd.Flags().Changed("read") {
		v, _ := cmd.Flags().GetBool("read")
		isRead = &v
	}
	if cmd.Flags().Changed("favorite") {
		v, _ := cmd.Flags().GetBool("favorite")
		isFavorite = &v
	}
	if isRead == nil && isFavorite == nil {
		return fmt.Errorf("at least one of --read or --favorite is required")
	}

	state, err := app.SetArticleState(cmd.Context(), args[0], isRead, isFavorite)
	if err != nil {
		return err
	}

	fmt.Printf("Article %s: read=%t favorite=%t\n", args[0], state.IsRead, state.IsFavorite)
	return nil
}

func runNote(cmd *cobra.Command, args []string) error {
	note, err := app.AddNote(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}

	fmt.Printf("Note %s saved to %s\n", note.ID, note.NotePath)
	return nil
}

func runActivity(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	events, err := app.ListActivity(nil, nil, limit)
	if err != nil {
		return err
	}

	for _, ev := range events {
		articleID := ""
		if ev.ArticleID != nil {
			articleID = *ev.ArticleID
		}
		fmt.Printf("%s\t%s\t%s\t%s\n", ev.CreatedAt, ev.Type, articleID, ev.PayloadJSON)
	}
	return nil
}
