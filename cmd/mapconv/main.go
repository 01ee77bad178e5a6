// mapconv imports and exports voxelgo world blocks as flat text dumps.
//
// A dump holds one block per line, "x y z hex-payload", where the
// payload is the uncompressed serialized node content of the block at
// block position (x, y, z). Lines starting with # are comments.
// Imported blocks are upserted as generated; export skips blocks whose
// generation never finished.
//
// Usage:
//
//	go run ./cmd/mapconv <command> [-config path] [-file path]
//
// Commands: import, export, stats
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/voxelgo/server/internal/config"
	"github.com/voxelgo/server/internal/geom"
	"github.com/voxelgo/server/internal/persist"
	"github.com/voxelgo/server/internal/world"
	"go.uber.org/zap"
)

// openRepo loads the server config and connects to its database. The
// schema is migrated first so a dump can be imported into a blank
// database before the server's first boot.
func openRepo(ctx context.Context, cfgPath string) (*persist.DB, *persist.BlockRepo, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	db, err := persist.NewDB(ctx, cfg.Database, zap.NewNop())
	if err != nil {
		return nil, nil, err
	}
	if err := persist.RunMigrations(ctx, db.Pool); err != nil {
		db.Close()
		return nil, nil, err
	}
	repo, err := persist.NewBlockRepo(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, repo, nil
}

// parseDumpLine splits one "x y z hex-payload" line.
func parseDumpLine(line string) (geom.BlockPos, []byte, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return geom.BlockPos{}, nil, fmt.Errorf("want 4 fields, got %d", len(fields))
	}
	var coords [3]int16
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseInt(fields[i], 10, 16)
		if err != nil {
			return geom.BlockPos{}, nil, fmt.Errorf("coordinate %q: %w", fields[i], err)
		}
		coords[i] = int16(v)
	}
	pos := geom.BlockPos{X: coords[0], Y: coords[1], Z: coords[2]}
	if pos.OverLimit() {
		return geom.BlockPos{}, nil, fmt.Errorf("position %v beyond map limit", pos)
	}
	raw, err := hex.DecodeString(fields[3])
	if err != nil {
		return geom.BlockPos{}, nil, fmt.Errorf("payload: %w", err)
	}
	return pos, raw, nil
}

func runImport(ctx context.Context, repo *persist.BlockRepo, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	// A block payload is 16 KiB of hex; the default token size is too
	// small for that.
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	imported, skipped, lineNo := 0, 0, 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		pos, raw, err := parseDumpLine(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  line %d: %v (skipped)\n", lineNo, err)
			skipped++
			continue
		}
		// Round-trip through a block so malformed payloads are caught
		// here instead of at serve time.
		b := world.NewBlock(pos)
		if err := b.UnmarshalData(raw); err != nil {
			fmt.Fprintf(os.Stderr, "  line %d: %v (skipped)\n", lineNo, err)
			skipped++
			continue
		}
		if err := repo.SaveBlock(ctx, pos, raw, true); err != nil {
			return fmt.Errorf("save block %v: %w", pos, err)
		}
		imported++
	}
	if err := sc.Err(); err != nil {
		return err
	}
	fmt.Printf("  import: %d blocks (%d skipped)\n", imported, skipped)
	return nil
}

func runExport(ctx context.Context, repo *persist.BlockRepo, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "# voxelgo block dump %s\n", time.Now().UTC().Format(time.RFC3339))

	exported, skipped := 0, 0
	err = repo.EachBlock(ctx, func(pos geom.BlockPos, raw []byte, generated bool) error {
		if !generated {
			skipped++
			return nil
		}
		if _, err := fmt.Fprintf(w, "%d %d %d %s\n", pos.X, pos.Y, pos.Z, hex.EncodeToString(raw)); err != nil {
			return err
		}
		exported++
		return nil
	})
	if err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("  export: %d blocks -> %s (%d ungenerated skipped)\n", exported, path, skipped)
	return nil
}

func runStats(ctx context.Context, repo *persist.BlockRepo) error {
	total, generated, err := repo.BlockStats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("  blocks: %d total, %d generated\n", total, generated)
	return nil
}

func printUsage() {
	fmt.Println("Usage: mapconv <command> [-config path] [-file path]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  import  Read a block dump and upsert every block as generated")
	fmt.Println("  export  Write all generated blocks to a dump file")
	fmt.Println("  stats   Print block counts for the configured database")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		printUsage()
		return
	}

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	cfgDefault := "config/server.toml"
	if p := os.Getenv("VOXELGO_CONFIG"); p != "" {
		cfgDefault = p
	}
	cfgPath := fs.String("config", cfgDefault, "server config holding the database DSN")
	file := fs.String("file", "blocks.dump", "dump file to read or write")
	_ = fs.Parse(os.Args[2:])

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	db, repo, err := openRepo(ctx, *cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	switch cmd {
	case "import":
		err = runImport(ctx, repo, *file)
	case "export":
		err = runExport(ctx, repo, *file)
	case "stats":
		err = runStats(ctx, repo)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Done!")
}
