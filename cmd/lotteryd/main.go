// Command lotteryd runs a weighted-lottery ledger node.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"gopkg.in/urfave/cli.v1"

	"github.com/tolelom/lottochain/config"
	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/crypto/certgen"
	"github.com/tolelom/lottochain/events"
	"github.com/tolelom/lottochain/indexer"
	"github.com/tolelom/lottochain/metrics"
	"github.com/tolelom/lottochain/rpc"
	"github.com/tolelom/lottochain/sequencer"
	"github.com/tolelom/lottochain/storage"
	"github.com/tolelom/lottochain/vm"

	// Import VM modules to trigger their init() self-registration.
	_ "github.com/tolelom/lottochain/vm/modules/lottery"
)

func main() {
	app := cli.NewApp()
	app.Name = "lotteryd"
	app.Usage = "weighted-lottery ledger node"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Value: "config.json", Usage: "path to a JSON or TOML config file"},
		cli.StringFlag{Name: "log-level", Usage: "override the configured log level"},
	}
	app.Commands = []cli.Command{
		{
			Name:  "run",
			Usage: "start the node and serve JSON-RPC",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "reindex", Usage: "drop the secondary indexes and rebuild them from the chain"},
			},
			Action: runNode,
		},
		{
			Name:   "replay",
			Usage:  "re-execute the stored chain into memory and verify every state root",
			Action: replayChain,
		},
		{
			Name:      "gencerts",
			Usage:     "issue a CA plus server and client certificates for RPC mTLS",
			ArgsUsage: "<dir>",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "client", Value: "rpc-client", Usage: "client certificate common name"},
				cli.StringSliceFlag{Name: "dns", Usage: "extra DNS name for the server certificate"},
			},
			Action: genCerts,
		},
		{
			Name:      "dumpconfig",
			Usage:     "write the effective config to a file",
			ArgsUsage: "<path>",
			Action:    dumpConfig,
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setup(c *cli.Context) (*config.Config, error) {
	cfg, err := loadConfig(c.GlobalString("config"))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	level := cfg.LogLevel
	if l := c.GlobalString("log-level"); l != "" {
		level = l
	}
	if level != "" {
		lvl, err := log.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		log.SetLevel(lvl)
	}
	return cfg, nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warnf("Config file not found at %s, using defaults.", path)
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// openStores opens the world-state and chain databases. They are separate
// so that the whole state keyspace is ledger records.
func openStores(cfg *config.Config) (stateDB, chainDB storage.DB, err error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("mkdir data dir: %w", err)
	}
	stateDB, err = storage.Open(cfg.DBBackend, cfg.DataDir, "state")
	if err != nil {
		return nil, nil, err
	}
	chainDB, err = storage.Open(cfg.DBBackend, cfg.DataDir, "chain")
	if err != nil {
		stateDB.Close()
		return nil, nil, err
	}
	return stateDB, chainDB, nil
}

func runNode(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}

	// ---- open DBs ----
	stateDB, chainDB, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer chainDB.Close()
	defer stateDB.Close()

	// ---- initialise blockchain and state ----
	bc := core.NewBlockchain(storage.NewBlockStore(chainDB))
	if err := bc.Init(); err != nil {
		return fmt.Errorf("blockchain init: %w", err)
	}
	state := storage.NewStateDB(stateDB)

	// ---- events, indexer, metrics ----
	emitter := events.NewEmitter()
	idx := indexer.New(chainDB, emitter)
	collector := metrics.NewCollector("")
	collector.Attach(emitter)
	if tip := bc.Tip(); tip != nil {
		collector.SetHeight(tip.Header.Height)
	}
	if c.Bool("reindex") {
		if err := idx.Reset(); err != nil {
			return fmt.Errorf("reset index: %w", err)
		}
	}
	if err := catchUpIndex(idx, bc); err != nil {
		return err
	}

	// ---- sequencer ----
	exec := vm.NewExecutor(state)
	seq := sequencer.New(bc, state, exec, emitter, sequencer.WithRecorder(collector))
	if err := seq.Bootstrap(config.CreateGenesisBlock(cfg)); err != nil {
		return fmt.Errorf("genesis: %w", err)
	}

	// ---- RPC ----
	var opts []rpc.ServerOption
	if cfg.Metrics {
		opts = append(opts, rpc.WithMetrics(collector.Handler()))
	}
	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if tlsCfg != nil {
		opts = append(opts, rpc.WithTLS(tlsCfg))
	}

	rpcAddr := fmt.Sprintf(":%d", cfg.RPCPort)
	rpcServer := rpc.NewServer(rpcAddr, rpc.NewHandler(seq, idx), cfg.RPCAuthToken, opts...)
	if err := rpcServer.Start(); err != nil {
		return fmt.Errorf("rpc start: %w", err)
	}
	defer rpcServer.Stop()

	log.WithFields(log.Fields{
		"node":     cfg.NodeID,
		"chain_id": cfg.Genesis.ChainID,
		"addr":     rpcAddr,
		"tls":      tlsCfg != nil,
		"auth":     cfg.RPCAuthToken != "",
		"height":   bc.Height(),
		"ops":      len(vm.Operations()),
	}).Info("RPC listening")

	// ---- graceful shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("Shutting down...")
	// Deferred calls run in LIFO: rpcServer.Stop → stateDB.Close → chainDB.Close
	return nil
}

// catchUpIndex indexes any committed blocks the indexer missed, for example
// after a crash between a block commit and its index writes.
func catchUpIndex(idx *indexer.Indexer, bc *core.Blockchain) error {
	scratch, err := storage.NewMemLevelDB()
	if err != nil {
		return err
	}
	defer scratch.Close()
	if err := idx.CatchUp(bc, storage.NewStateDB(scratch)); err != nil {
		return fmt.Errorf("index catch-up: %w", err)
	}
	return nil
}

func replayChain(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	stateDB, chainDB, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer chainDB.Close()
	defer stateDB.Close()

	bc := core.NewBlockchain(storage.NewBlockStore(chainDB))
	if err := bc.Init(); err != nil {
		return fmt.Errorf("blockchain init: %w", err)
	}
	if bc.Tip() == nil {
		return fmt.Errorf("no chain in %s", cfg.DataDir)
	}

	mem, err := storage.NewMemLevelDB()
	if err != nil {
		return err
	}
	defer mem.Close()
	fresh := storage.NewStateDB(mem)

	verified, err := sequencer.Replay(bc, fresh)
	if err != nil {
		return fmt.Errorf("replay stopped after %d blocks: %w", verified, err)
	}

	replayed := fresh.ComputeRoot()
	stored := storage.NewStateDB(stateDB).ComputeRoot()
	if replayed != stored {
		return fmt.Errorf("replayed state %s differs from stored state %s: %w", replayed, stored, sequencer.ErrRootMismatch)
	}
	log.WithFields(log.Fields{"blocks": verified, "state_root": replayed}).Info("replay verified")
	return nil
}

func dumpConfig(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("usage: lotteryd dumpconfig <path>", 2)
	}
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	return config.Save(cfg, c.Args().First())
}

func genCerts(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("usage: lotteryd gencerts <dir>", 2)
	}
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	files, err := certgen.GenerateAll(c.Args().First(), cfg.NodeID, &certgen.Options{
		ClientName: c.String("client"),
		ExtraDNS:   c.StringSlice("dns"),
	})
	if err != nil {
		return err
	}
	fmt.Printf("[tls]\nca_cert = %q\ncert = %q\nkey = %q\n", files.CACert, files.ServerCert, files.ServerKey)
	log.WithFields(log.Fields{"client_cert": files.ClientCert, "client_key": files.ClientKey}).Info("certificates written")
	return nil
}
