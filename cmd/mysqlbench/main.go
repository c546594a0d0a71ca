// Command mysqlbench dials a pool of MySQL connections from a YAML config
// file, drives a configurable workload against it, and serves the admin
// HTTP surface alongside.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dbbouncer/mysqlclient"
	"github.com/dbbouncer/mysqlclient/internal/adminapi"
	"github.com/dbbouncer/mysqlclient/internal/config"
	"github.com/dbbouncer/mysqlclient/pool"
)

func main() {
	configPath := flag.String("config", "configs/mysqlbench.yaml", "path to configuration file")
	workload := flag.String("workload", "ping", "workload to run against each database: ping, query, or prepared")
	query := flag.String("query", "SELECT 1", "query text used by the query and prepared workloads")
	concurrency := flag.Int("concurrency", 4, "number of concurrent workers per database")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("mysqlbench starting...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	log.Printf("configuration loaded from %s (%d databases)", *configPath, len(cfg.Databases))

	pm := pool.NewManager()
	pm.SetOnExhausted(func(name string) {
		log.Printf("pool %s exhausted, a caller is waiting for a connection", name)
	})

	for _, db := range cfg.Databases {
		dc, err := db.DialConfig(cfg.Defaults)
		if err != nil {
			log.Fatalf("database %s: %v", db.Name, err)
		}
		pm.GetOrCreate(db.Name, dc)
		log.Printf("pool %s registered (%s:%d)", db.Name, db.Host, db.Port)
	}

	adminServer := adminapi.NewServer(pm, cfg.Listen)
	if err := adminServer.Start(); err != nil {
		log.Fatalf("failed to start admin API: %v", err)
	}

	configWatcher, err := config.NewWatcher(*configPath, func(newCfg *config.Config) {
		log.Printf("reloading configuration...")
		for _, db := range newCfg.Databases {
			dc, err := db.DialConfig(newCfg.Defaults)
			if err != nil {
				log.Printf("database %s: %v, skipping reload for this entry", db.Name, err)
				continue
			}
			pm.GetOrCreate(db.Name, dc)
		}
	})
	if err != nil {
		log.Printf("warning: config hot-reload not available: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, db := range cfg.Databases {
		p, ok := pm.Get(db.Name)
		if !ok {
			continue
		}
		for i := 0; i < *concurrency; i++ {
			wg.Add(1)
			go runWorker(ctx, &wg, db.Name, p, *workload, *query)
		}
	}

	log.Printf("mysqlbench ready, running %q workload with %d workers per database", *workload, *concurrency)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %s, shutting down...", sig)

	cancel()
	wg.Wait()

	if configWatcher != nil {
		configWatcher.Stop()
	}
	adminServer.Stop()
	pm.Close()

	log.Printf("mysqlbench stopped")
}

func runWorker(ctx context.Context, wg *sync.WaitGroup, poolName string, p *pool.Pool, workload, query string) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		acquireCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		conn, err := p.Acquire(acquireCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("pool %s: acquire failed: %v", poolName, err)
			time.Sleep(time.Second)
			continue
		}

		if err := runOnce(conn, workload, query); err != nil {
			log.Printf("pool %s: %s workload failed: %v", poolName, workload, err)
		}

		p.Release(conn)
	}
}

func runOnce(conn *mysqlclient.Connection, workload, query string) error {
	switch workload {
	case "ping":
		return conn.Ping()
	case "query":
		rs, err := conn.Query(query)
		if err != nil {
			return err
		}
		defer rs.Close()
		for {
			if _, err := rs.Next(); err != nil {
				break
			}
		}
		return nil
	case "prepared":
		stmt, err := conn.Prepare(query)
		if err != nil {
			return err
		}
		defer stmt.Close()
		rs, err := stmt.Execute()
		if err != nil {
			return err
		}
		defer rs.Close()
		for {
			if _, err := rs.Next(); err != nil {
				break
			}
		}
		return nil
	default:
		return nil
	}
}
