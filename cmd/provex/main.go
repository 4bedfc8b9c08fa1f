package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/provenlab/provex/internal/provex/archive"
	"github.com/provenlab/provex/internal/provex/config"
	"github.com/provenlab/provex/internal/provex/core"
	"github.com/provenlab/provex/internal/provex/logger"
	"github.com/provenlab/provex/internal/provex/migration"
	"github.com/provenlab/provex/internal/provex/storage"
)

func usage() {
	fmt.Println("Usage: provex <command> [args...]")
	fmt.Println("\nCommands:")
	fmt.Println("  profile list [--color]                 List profiles")
	fmt.Println("  profile setdefault <process> <name>    Set the default profile for a process")
	fmt.Println("  profile delete <name>...               Delete profiles (and optionally their storage)")
	fmt.Println("  import <path>                          Import an archive")
	fmt.Println("  export <out> <uuid>...                 Export the provenance closure of nodes")
	fmt.Println("  user list                              List users")
	fmt.Println("  user add <email> [first last inst]     Add a user")
	fmt.Println("  comment list <uuid>                    List comments on a node")
	fmt.Println("  comment add <uuid> <text>              Attach a comment to a node")
	fmt.Println("  logs prune                             Delete log entries by filter")
}

func main() {
	flag.Parse()
	args := flag.Args()

	if len(args) < 1 {
		usage()
		os.Exit(1)
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	switch args[0] {
	case "profile":
		if len(args) < 2 {
			log.Fatal("Usage: provex profile {list,setdefault,delete}")
		}
		handleProfile(cfg, args[1], args[2:])

	case "import":
		handleImport(cfg, args[1:])

	case "export":
		handleExport(cfg, args[1:])

	case "user":
		if len(args) < 2 {
			log.Fatal("Usage: provex user {list,add}")
		}
		handleUser(cfg, args[1], args[2:])

	case "comment":
		if len(args) < 2 {
			log.Fatal("Usage: provex comment {list,add}")
		}
		handleComment(cfg, args[1], args[2:])

	case "logs":
		if len(args) < 2 || args[1] != "prune" {
			log.Fatal("Usage: provex logs prune [--node uuid] [--logger name] [--before t] [--all]")
		}
		handleLogsPrune(cfg, args[2:])

	default:
		usage()
		log.Fatalf("Unknown command: %s", args[0])
	}
}

func loadConfig() (*config.Config, error) {
	path := os.Getenv("PROVEX_CONFIG")
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return nil, err
		}
	}
	return config.Load(path)
}

func openBackend(cfg *config.Config, explicit string) (storage.Backend, string, error) {
	name, err := cfg.Current(config.ProcessCLI, explicit)
	if err != nil {
		return nil, "", err
	}
	profile, err := cfg.Profile(name)
	if err != nil {
		return nil, "", err
	}
	backend, err := storage.Open(context.Background(), profile)
	if err != nil {
		return nil, "", err
	}
	return backend, name, nil
}

func handleProfile(cfg *config.Config, sub string, args []string) {
	switch sub {
	case "list":
		useColor := false
		for _, arg := range args {
			if arg != "--color" {
				log.Fatalf("Unknown option %q, only --color is accepted", arg)
			}
			useColor = true
		}
		listProfiles(cfg, useColor)

	case "setdefault":
		if len(args) != 2 {
			log.Fatalf("Usage: provex profile setdefault <process> <name> (process is one of %v)",
				config.ValidProcesses)
		}
		if err := cfg.SetDefault(args[0], args[1]); err != nil {
			log.Fatalf("Error: %v", err)
		}
		if err := cfg.Save(); err != nil {
			log.Fatalf("Error saving configuration: %v", err)
		}
		fmt.Printf("Default profile for %s set to %s\n", args[0], args[1])

	case "delete":
		if len(args) < 1 {
			log.Fatal("Usage: provex profile delete <name>...")
		}
		deleteProfiles(cfg, args)

	default:
		log.Fatalf("Unknown profile command: %s", sub)
	}
}

func listProfiles(cfg *config.Config, useColor bool) {
	current, _ := cfg.Current(config.ProcessCLI, "")
	defaultCLI := cfg.Default(config.ProcessCLI)
	defaultDaemon := cfg.Default(config.ProcessDaemon)

	if current == "" {
		fmt.Fprintln(os.Stderr, "### No default profile configured yet ###")
	}

	for _, name := range cfg.Names() {
		symbol := "*"
		colorID := 39
		if name == current {
			symbol = ">"
			colorID = 31
		}

		suffix := ""
		if name == defaultCLI {
			suffix = " (DEFAULT)"
			colorID = 34
		}
		if name == defaultDaemon {
			suffix += " (DAEMON PROFILE)"
		}

		line := fmt.Sprintf("%s %s%s", symbol, name, suffix)
		if useColor {
			line = fmt.Sprintf("\x1b[%dm%s\x1b[0m", colorID, line)
		}
		fmt.Println(line)
	}
}

func deleteProfiles(cfg *config.Config, names []string) {
	reader := bufio.NewReader(os.Stdin)

	for _, name := range names {
		profile, err := cfg.Profile(name)
		if err != nil {
			log.Fatalf("Error: %v", err)
		}

		if confirm(reader, fmt.Sprintf("Delete storage for profile %q? All data will be lost", name)) {
			backend, err := storage.Open(context.Background(), profile)
			if err != nil {
				log.Fatalf("Error opening storage for %q: %v", name, err)
			}
			if err := backend.DropStorage(context.Background()); err != nil {
				log.Fatalf("Error dropping storage for %q: %v", name, err)
			}
			fmt.Printf("Dropped storage for %s\n", name)
		}

		if err := cfg.Delete(name); err != nil {
			log.Fatalf("Error: %v", err)
		}
		fmt.Printf("Deleted configuration for profile %s\n", name)
	}

	if err := cfg.Save(); err != nil {
		log.Fatalf("Error saving configuration: %v", err)
	}
}

func confirm(reader *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func handleImport(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	profileName := fs.String("profile", "", "profile to import into")
	group := fs.String("group", "", "group label for imported nodes")
	extrasExisting := fs.String("extras-mode-existing", "kcl", "3-letter extras merge policy for existing nodes")
	extrasNew := fs.String("extras-mode-new", "import", "extras handling for new nodes (import|none)")
	commentMode := fs.String("comment-mode", "newest", "comment conflict mode (newest|overwrite)")
	repoDir := fs.String("repo", "", "directory receiving repository file blobs")
	verbose := fs.Bool("v", false, "verbose output")
	fs.Parse(args)

	if fs.NArg() != 1 {
		log.Fatal("Usage: provex import [options] <path>")
	}
	source := fs.Arg(0)

	opts := migration.DefaultImportOptions()
	opts.Group = *group
	opts.RepoDir = *repoDir

	policy, err := migration.ParseExtrasPolicy(*extrasExisting)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	opts.ExtrasExisting = policy
	if policy.OnConflict == migration.RuleAsk {
		opts.ResolveAsk = promptConflict
	}

	if opts.ExtrasNew, err = migration.ParseExtrasModeNew(*extrasNew); err != nil {
		log.Fatalf("Error: %v", err)
	}
	if opts.Comments, err = migration.ParseCommentMode(*commentMode); err != nil {
		log.Fatalf("Error: %v", err)
	}

	zl, err := logger.New(*verbose)
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer zl.Sync()

	name, err := cfg.Current(config.ProcessCLI, *profileName)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	profile, err := cfg.Profile(name)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	result, err := migration.ImportData(context.Background(), profile, source, opts, zl)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	fmt.Printf("Imported %s into profile %s\n", source, name)
	fmt.Printf("  nodes:    %d created, %d existing\n", len(result.CreatedNodes), len(result.ExistingNodes))
	fmt.Printf("  links:    %d created, %d existing\n", result.CreatedLinks, result.ExistingLinks)
	fmt.Printf("  comments: %d created, %d replaced, %d kept\n",
		result.CreatedComments, result.ReplacedComments, result.SkippedComments)
}

// promptConflict implements the interactive "ask" conflict rule.
func promptConflict(key string, existing, incoming any) (migration.ConflictRule, error) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("Extra %q differs (existing: %v, incoming: %v). [k]eep/[o]verwrite/[d]elete: ", key, existing, incoming)
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "k", "keep":
			return migration.RuleKeepExisting, nil
		case "o", "overwrite":
			return migration.RuleOverwrite, nil
		case "d", "delete":
			return migration.RuleDelete, nil
		}
	}
}

func handleExport(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	profileName := fs.String("profile", "", "profile to export from")
	format := fs.String("format", "zip", "output format (zip|tar.gz|tar.bz2|dir)")
	noComments := fs.Bool("no-comments", false, "exclude comments")
	noExtras := fs.Bool("no-extras", false, "exclude node extras")
	repoDir := fs.String("repo", "", "directory holding repository file blobs")
	verbose := fs.Bool("v", false, "verbose output")
	fs.Parse(args)

	if fs.NArg() < 2 {
		log.Fatal("Usage: provex export [options] <out> <uuid>...")
	}
	out := fs.Arg(0)
	seeds := fs.Args()[1:]

	opts := migration.DefaultExportOptions()
	opts.IncludeComments = !*noComments
	opts.IncludeExtras = !*noExtras
	opts.RepoDir = *repoDir

	var err error
	if opts.Format, err = archive.ParseFormat(*format); err != nil {
		log.Fatalf("Error: %v", err)
	}

	zl, err := logger.New(*verbose)
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer zl.Sync()

	backend, name, err := openBackend(cfg, *profileName)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer backend.Close(context.Background())

	meta, err := migration.Export(context.Background(), backend, out, seeds, opts, zl)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	fmt.Printf("Exported %d nodes, %d links, %d comments from profile %s to %s\n",
		meta.Nodes, meta.Links, meta.Comments, name, out)
}

func handleUser(cfg *config.Config, sub string, args []string) {
	fs := flag.NewFlagSet("user", flag.ExitOnError)
	profileName := fs.String("profile", "", "profile to use")
	fs.Parse(args)
	rest := fs.Args()

	backend, _, err := openBackend(cfg, *profileName)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	ctx := context.Background()
	defer backend.Close(ctx)

	switch sub {
	case "list":
		users, err := backend.Users().Find(ctx, storage.UserFilter{})
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		for _, user := range users {
			fmt.Printf("%d\t%s\t%s %s\t%s\n", user.ID, user.Email, user.FirstName, user.LastName, user.Institution)
		}

	case "add":
		if len(rest) < 1 {
			log.Fatal("Usage: provex user add <email> [first] [last] [institution]")
		}
		get := func(i int) string {
			if i < len(rest) {
				return rest[i]
			}
			return ""
		}
		user := backend.Users().Create(rest[0], get(1), get(2), get(3))
		if err := backend.Users().Store(ctx, user); err != nil {
			log.Fatalf("Error: %v", err)
		}
		fmt.Printf("Added user %s (ID: %d)\n", user.Email, user.ID)

	default:
		log.Fatalf("Unknown user command: %s", sub)
	}
}

func handleComment(cfg *config.Config, sub string, args []string) {
	fs := flag.NewFlagSet("comment", flag.ExitOnError)
	profileName := fs.String("profile", "", "profile to use")
	userEmail := fs.String("user", "", "author email")
	fs.Parse(args)
	rest := fs.Args()

	backend, _, err := openBackend(cfg, *profileName)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	ctx := context.Background()
	defer backend.Close(ctx)

	switch sub {
	case "list":
		if len(rest) != 1 {
			log.Fatal("Usage: provex comment list <node-uuid>")
		}
		comments, err := backend.Comments().ListForNode(ctx, rest[0])
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		for _, comment := range comments {
			fmt.Printf("%s\t%s\t%s\t%s\n",
				comment.UUID, comment.MTime.Format(time.RFC3339), comment.UserEmail, comment.Content)
		}

	case "add":
		if len(rest) != 2 {
			log.Fatal("Usage: provex comment add <node-uuid> <text>")
		}
		exists, err := backend.Nodes().Exists(ctx, rest[0])
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		if !exists {
			log.Fatalf("Error: node %s does not exist", rest[0])
		}
		now := time.Now().UTC()
		comment := &core.Comment{
			UUID:      uuid.New().String(),
			NodeUUID:  rest[0],
			CTime:     now,
			MTime:     now,
			Content:   rest[1],
			UserEmail: *userEmail,
		}
		if err := backend.Comments().Create(ctx, comment); err != nil {
			log.Fatalf("Error: %v", err)
		}
		fmt.Printf("Added comment %s to node %s\n", comment.UUID, comment.NodeUUID)

	default:
		log.Fatalf("Unknown comment command: %s", sub)
	}
}

func handleLogsPrune(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("logs prune", flag.ExitOnError)
	profileName := fs.String("profile", "", "profile to use")
	nodeUUID := fs.String("node", "", "only entries attached to this node")
	loggerName := fs.String("logger", "", "only entries from this logger")
	before := fs.String("before", "", "only entries older than this RFC3339 time")
	all := fs.Bool("all", false, "delete every log entry")
	fs.Parse(args)

	backend, _, err := openBackend(cfg, *profileName)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	ctx := context.Background()
	defer backend.Close(ctx)

	if *all {
		n, err := backend.Logs().DeleteAll(ctx)
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		fmt.Printf("Deleted %d log entries\n", n)
		return
	}

	filter := storage.LogFilter{NodeUUID: *nodeUUID, LoggerName: *loggerName}
	if *before != "" {
		t, err := parseRFC3339(*before)
		if err != nil {
			log.Fatalf("Error: invalid --before value: %v", err)
		}
		filter.Before = t
	}

	ids, err := backend.Logs().DeleteMany(ctx, filter)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	fmt.Printf("Deleted %d log entries\n", len(ids))
}

func parseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
