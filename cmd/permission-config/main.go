package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/oarkflow/squealx"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/permission"
	"github.com/oarkflow/permission/stores"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "tree":
		handleTree()
	case "push":
		handlePush()
	case "pull":
		handlePull()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("permission-config - Configuration tool for permission definitions")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  permission-config convert <input> <output>  - Convert between formats")
	fmt.Println("  permission-config validate <file>           - Validate a definition")
	fmt.Println("  permission-config stats <file>              - Show definition statistics")
	fmt.Println("  permission-config tree <file>               - Render the entity hierarchy")
	fmt.Println("  permission-config push <file> <name>        - Save a definition to the store")
	fmt.Println("  permission-config pull <name> <output>      - Fetch a definition from the store")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json, .permbin, .pdsl")
	fmt.Println()
	fmt.Println("Store selection (environment, .env honored):")
	fmt.Println("  PERMISSION_STORE       memory | sql | redis (default memory)")
	fmt.Println("  PERMISSION_DSN         sqlite DSN for the sql store")
	fmt.Println("  PERMISSION_REDIS_ADDR  redis address (default localhost:6379)")
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: permission-config convert <input> <output>")
		os.Exit(1)
	}

	inputFile := os.Args[2]
	outputFile := os.Args[3]

	cfg, err := permission.LoadConfigFile(inputFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := permission.SaveConfigFile(outputFile, cfg); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Converted %s -> %s\n", inputFile, outputFile)

	inStat, _ := os.Stat(inputFile)
	outStat, _ := os.Stat(outputFile)
	if inStat != nil && outStat != nil {
		reduction := (1 - float64(outStat.Size())/float64(inStat.Size())) * 100
		if reduction > 0 {
			fmt.Printf("Size reduced by %.1f%% (%d -> %d bytes)\n",
				reduction, inStat.Size(), outStat.Size())
		} else {
			fmt.Printf("Size increased by %.1f%% (%d -> %d bytes)\n",
				-reduction, inStat.Size(), outStat.Size())
		}
	}
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: permission-config validate <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := permission.LoadConfigFile(filename)
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// full semantic check: build the graph and compile the matrix
	engine, err := permission.NewEngineFromConfig(cfg)
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	stats := engine.Stats()
	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Version:    %d\n", cfg.Version)
	fmt.Printf("  Entities:   %d\n", stats.Entities)
	fmt.Printf("  Contexts:   %d\n", stats.Contexts)
	fmt.Printf("  Roles:      %d\n", stats.Roles)
	fmt.Printf("  Policies:   %d\n", stats.Policies)
	fmt.Printf("  Allowances: %d\n", stats.Allowances)
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: permission-config stats <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := permission.LoadConfigFile(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	engine, err := permission.NewEngineFromConfig(cfg)
	if err != nil {
		fmt.Printf("Error applying config: %v\n", err)
		os.Exit(1)
	}

	stat, _ := os.Stat(filename)

	fmt.Println("Definition Statistics")
	fmt.Println("=====================")
	if stat != nil {
		fmt.Printf("File size: %d bytes\n", stat.Size())
	}
	fmt.Printf("Version: %d\n", cfg.Version)
	if cfg.Metadata.Name != "" {
		fmt.Printf("Name: %s\n", cfg.Metadata.Name)
	}
	fmt.Println()

	stats := engine.Stats()
	fmt.Println("Components:")
	fmt.Printf("  Entities:     %d\n", stats.Entities)
	fmt.Printf("  Contexts:     %d\n", stats.Contexts)
	fmt.Printf("  Roles:        %d\n", stats.Roles)
	fmt.Printf("  Declarations: %d\n", len(cfg.Policies))
	fmt.Println()

	fmt.Println("Compiled matrix:")
	fmt.Printf("  Policy rows: %d\n", stats.Policies)
	fmt.Printf("  Allowances:  %d\n", stats.Allowances)
	fmt.Printf("  Subjects:    %d\n", stats.Subjects)
}

func handleTree() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: permission-config tree <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := permission.LoadConfigFile(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	engine, err := permission.NewEngineFromConfig(cfg)
	if err != nil {
		fmt.Printf("Error applying config: %v\n", err)
		os.Exit(1)
	}

	fmt.Print(permission.RenderTree(permission.BuildTree(engine.Registry())))
}

func handlePush() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: permission-config push <file> <name>")
		os.Exit(1)
	}

	filename := os.Args[2]
	name := os.Args[3]

	cfg, err := permission.LoadConfigFile(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	store, closeStore, err := openStore()
	if err != nil {
		fmt.Printf("Error opening store: %v\n", err)
		os.Exit(1)
	}
	defer closeStore()

	def, err := store.Save(ctx, name, cfg)
	if err != nil {
		fmt.Printf("Error saving definition: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Pushed %s as %q (revision %d)\n", filename, def.Name, def.Revision)
	fmt.Printf("  Checksum: %s\n", def.Checksum)
}

func handlePull() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: permission-config pull <name> <output>")
		os.Exit(1)
	}

	name := os.Args[2]
	outputFile := os.Args[3]

	ctx := context.Background()
	store, closeStore, err := openStore()
	if err != nil {
		fmt.Printf("Error opening store: %v\n", err)
		os.Exit(1)
	}
	defer closeStore()

	def, err := store.Get(ctx, name)
	if err != nil {
		fmt.Printf("Error fetching definition: %v\n", err)
		os.Exit(1)
	}

	if err := permission.SaveConfigFile(outputFile, def.Config); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Pulled %q (revision %d) -> %s\n", def.Name, def.Revision, outputFile)
}

type storeEnv struct {
	Store     string `env:"PERMISSION_STORE" envDefault:"memory"`
	DSN       string `env:"PERMISSION_DSN"`
	RedisAddr string `env:"PERMISSION_REDIS_ADDR" envDefault:"localhost:6379"`
}

func openStore() (stores.DefinitionStore, func(), error) {
	_ = godotenv.Load()
	var cfg storeEnv
	if err := env.Parse(&cfg); err != nil {
		return nil, nil, err
	}

	switch cfg.Store {
	case "memory":
		return stores.NewMemoryDefinitionStore(), func() {}, nil
	case "sql":
		if cfg.DSN == "" {
			return nil, nil, fmt.Errorf("PERMISSION_DSN is required for the sql store")
		}
		sqlDB, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		db := squealx.NewDb(sqlDB, "sqlite", "permission")
		if err := stores.Migrate(db); err != nil {
			sqlDB.Close()
			return nil, nil, err
		}
		return stores.NewSQLDefinitionStore(db), func() { sqlDB.Close() }, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return stores.NewRedisDefinitionStore(client), func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}
