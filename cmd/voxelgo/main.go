package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/voxelgo/server/internal/client"
	"github.com/voxelgo/server/internal/config"
	"github.com/voxelgo/server/internal/core/event"
	coresys "github.com/voxelgo/server/internal/core/system"
	"github.com/voxelgo/server/internal/data"
	"github.com/voxelgo/server/internal/emerge"
	"github.com/voxelgo/server/internal/fatal"
	"github.com/voxelgo/server/internal/geom"
	"github.com/voxelgo/server/internal/handler"
	"github.com/voxelgo/server/internal/mapgen"
	gonet "github.com/voxelgo/server/internal/net"
	"github.com/voxelgo/server/internal/net/packet"
	"github.com/voxelgo/server/internal/persist"
	"github.com/voxelgo/server/internal/scripting"
	"github.com/voxelgo/server/internal/system"
	"github.com/voxelgo/server/internal/world"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m              voxelgo  v0.1.0              \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m       voxel world · Go game server        \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mserver:\033[0m %s\n\n", serverName)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("VOXELGO_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name)

	// 3. Connect to PostgreSQL and run migrations
	printSection("database")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := persist.NewDB(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	printOK("PostgreSQL connected")

	if err := persist.RunMigrations(ctx, db.Pool); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	printOK("migrations applied")
	fmt.Println()

	// 4. Create repositories
	accountRepo := persist.NewAccountRepo(db)
	blockRepo, err := persist.NewBlockRepo(db)
	if err != nil {
		return fmt.Errorf("block repo: %w", err)
	}

	// 5. Load world data and build the map
	printSection("world")

	nodes, err := data.LoadNodes(cfg.Mapgen.NodesPath)
	if err != nil {
		return fmt.Errorf("load nodes: %w", err)
	}
	printStat("node types", nodes.Count())

	worldMap := world.NewMap(blockRepo, log)
	farMap := world.NewServerFarMap(nodes)

	storedBlocks, err := blockRepo.CountBlocks(ctx)
	if err != nil {
		return fmt.Errorf("count blocks: %w", err)
	}
	printStat("stored blocks", int(storedBlocks))

	genFactory, err := mapgen.NewFactory(cfg.Mapgen.Name, mapgen.Params{
		Seed:       cfg.Mapgen.Seed,
		WaterLevel: cfg.Mapgen.WaterLevel,
		Nodes:      nodes,
	})
	if err != nil {
		return fmt.Errorf("mapgen: %w", err)
	}
	printOK(fmt.Sprintf("mapgen %q ready (seed %d)", cfg.Mapgen.Name, cfg.Mapgen.Seed))

	// 5a. Lua scripting engine. Generation hooks are optional; without
	// them the emerge workers ship mapgen output untouched.
	var luaEngine *scripting.Engine
	if cfg.Scripting.Enabled {
		luaEngine, err = scripting.NewEngine(cfg.Scripting.Path, log)
		if err != nil {
			return fmt.Errorf("lua engine: %w", err)
		}
		defer luaEngine.Close()
		printOK("Lua scripts loaded")
	}
	fmt.Println()

	// 6. Emerge worker pool
	printSection("emerge")

	fatalRep := fatal.NewReporter()
	bus := event.NewBus()

	emergeMgr, err := emerge.NewManager(cfg.Emerge, genFactory, worldMap, farMap, luaEngine, bus, fatalRep, log)
	if err != nil {
		return fmt.Errorf("emerge manager: %w", err)
	}
	emergeMgr.StartWorkers()
	printStat("emerge workers", emergeMgr.NumWorkers())

	// Pre-generate the spawn area so the first join does not stare into
	// the void while the workers catch up. Force past the queue limits:
	// this is server-initiated work, not client demand.
	shells := geom.NewFaceShellCache()
	spawnBlock := geom.NodeToBlock(0, cfg.Mapgen.WaterLevel+2, 0)
	prefetched := 0
	for d := int16(0); d <= 1; d++ {
		for _, off := range shells.Shell(d) {
			p := spawnBlock.Add(off)
			if p.OverLimit() {
				continue
			}
			if emergeMgr.EnqueueForce(emerge.PeerAnonymous, p, true) {
				prefetched++
			}
		}
	}
	printStat("spawn prefetch", prefetched)
	fmt.Println()

	// 7. Client registry and session store
	clients := client.NewRegistry(client.Deps{
		Log:    log,
		Cfg:    cfg.Map,
		World:  worldMap,
		FarMap: farMap,
		Emerge: emergeMgr,
		Shells: shells,
	}, nil)

	store := gonet.NewSessionStore()

	// Ready and teardown events push the fresh player list to every
	// peer that finished the handshake.
	clients.OnPlayerListChange(func(names []string) {
		w := packet.NewWriter(packet.S_OPCODE_PLAYER_LIST)
		w.WriteU16(uint16(len(names)))
		for _, n := range names {
			w.WriteString(n)
		}
		payload := w.Bytes()
		clients.Broadcast(payload, func(peer uint16, data []byte) {
			if sess := store.Get(peer); sess != nil {
				sess.Send(data)
			}
		})
	})

	// 8. Create packet handler registry and register handlers
	pktReg := packet.NewRegistry(log)
	deps := &handler.Deps{
		Accounts: accountRepo,
		Config:   cfg,
		Log:      log,
		Clients:  clients,
		World:    worldMap,
		FarMap:   farMap,
		Emerge:   emergeMgr,
		Nodes:    nodes,
		Bus:      bus,
	}
	handler.RegisterAll(pktReg, deps)

	// 9. Create network server
	ticksPerSec := int(time.Second / cfg.Network.TickRate)
	if ticksPerSec < 1 {
		ticksPerSec = 1
	}
	netServer, err := gonet.NewServer(
		cfg.Network.BindAddress,
		cfg.Network.InQueueSize,
		cfg.Network.OutQueueSize,
		cfg.Network.MaxPacketsPerTick*ticksPerSec,
		cfg.Network.WriteTimeout,
		log,
	)
	if err != nil {
		return fmt.Errorf("net server: %w", err)
	}
	go netServer.AcceptLoop()

	// 10. Create systems and register with runner
	ticksPer := func(d time.Duration) int {
		n := int(d / cfg.Network.TickRate)
		if n < 1 {
			n = 1
		}
		return n
	}

	runner := coresys.NewRunner()
	runner.Register(system.NewInputSystem(netServer, pktReg, store, clients, bus, cfg.Network.MaxPacketsPerTick, log))
	runner.Register(system.NewEventDispatchSystem(bus, clients, log))
	runner.Register(system.NewClientStepSystem(clients))
	blockSendSys, err := system.NewBlockSendSystem(clients, store, worldMap, farMap, cfg.Map, log)
	if err != nil {
		return fmt.Errorf("block send system: %w", err)
	}
	runner.Register(blockSendSys)
	persistSys := system.NewPersistenceSystem(worldMap, ticksPer(blockSaveInterval), log)
	runner.Register(persistSys)
	runner.Register(system.NewCleanupSystem(worldMap, blockMaxIdle, ticksPer(blockUnloadInterval), log))

	// 11. Start game loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Network.TickRate)
	defer ticker.Stop()

	// Between full ticks only the input phase runs, so handshake
	// replies go out within a quarter tick of the request.
	inputPoll := cfg.Network.TickRate / 4
	if inputPoll <= 0 {
		inputPoll = cfg.Network.TickRate
	}
	inputTicker := time.NewTicker(inputPoll)
	defer inputTicker.Stop()

	printSection("server ready")
	printReady(fmt.Sprintf("listening on %s", netServer.Addr().String()))
	printReady(fmt.Sprintf("game loop started (tick: %s)", cfg.Network.TickRate))
	fmt.Println()

	stop := func() {
		netServer.Shutdown()
		emergeMgr.StopWorkers()
		persistSys.SaveNow()
	}

	for {
		select {
		case <-ticker.C:
			// A worker that hit unrecoverable trouble (store failure,
			// script error) parks its report here; honor it between
			// ticks rather than mid-update.
			if msg := fatalRep.Get(); msg != "" {
				log.Error("async fatal error, shutting down", zap.String("reason", msg))
				stop()
				return errors.New(msg)
			}
			runner.Tick(cfg.Network.TickRate)
		case <-inputTicker.C:
			runner.TickPhase(coresys.PhaseInput, inputPoll)
		case sig := <-shutdownCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			stop()
			log.Info("server stopped")
			return nil
		}
	}
}

// Housekeeping cadence. Saves are cheap (only modified blocks go out),
// unloads scan the whole index so they run less often.
const (
	blockSaveInterval   = 1 * time.Minute
	blockUnloadInterval = 10 * time.Second
	blockMaxIdle        = 2 * time.Minute
)

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
