// Command mysqlcore-cli is a minimal REPL over a Pool: connect, run
// prepared statements with positional parameters, and drive transaction
// verbs, for manually exercising a server during development.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pior/mysqlcore"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:3306", "host:port of the MySQL/MariaDB server")
	user := flag.String("user", "root", "username")
	password := flag.String("password", "", "password")
	flag.Parse()

	fmt.Println("mysqlcore CLI")
	fmt.Println("=============")
	fmt.Println("Commands: exec <sql> [args...], begin [readonly], commit, rollback, ping, stats, quit")
	fmt.Println()

	pool, err := mysqlcore.NewPool(mysqlcore.Config{
		Addr:     *addr,
		Username: *user,
		Password: *password,
		PoolSize: 1,
	})
	if err != nil {
		fmt.Printf("failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Shutdown()

	ctx := context.Background()
	conn, err := pool.Checkout(ctx)
	if err != nil {
		fmt.Printf("failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Shutdown(nil)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		command := strings.ToLower(parts[0])

		switch command {
		case "exec":
			if len(parts) < 2 {
				fmt.Println("Usage: exec <sql> [args...]")
				continue
			}
			handleExec(ctx, conn, parts[1], parts[2:])

		case "begin":
			readOnly := len(parts) > 1 && strings.EqualFold(parts[1], "readonly")
			if err := conn.BeginTransaction(ctx, readOnly); err != nil {
				fmt.Printf("begin failed: %v\n", err)
				continue
			}
			fmt.Println("transaction started")

		case "commit":
			if err := conn.Commit(ctx); err != nil {
				fmt.Printf("commit failed: %v\n", err)
				continue
			}
			fmt.Println("committed")

		case "rollback":
			if err := conn.RollBack(ctx); err != nil {
				fmt.Printf("rollback failed: %v\n", err)
				continue
			}
			fmt.Println("rolled back")

		case "ping":
			handlePing(ctx, conn)

		case "stats":
			handleStats(pool)

		case "help":
			fmt.Println("Commands:")
			fmt.Println("  exec <sql> [args...]   - prepare, bind, execute; prints rows or affected/lastInsertId")
			fmt.Println("  begin [readonly]       - START TRANSACTION")
			fmt.Println("  commit / rollback      - end the current transaction")
			fmt.Println("  ping                   - round trip to the server")
			fmt.Println("  stats                  - pool capacity counters")
			fmt.Println("  quit                   - exit")

		case "quit", "exit":
			fmt.Println("bye")
			return

		default:
			fmt.Printf("unknown command: %s. Type 'help' for available commands.\n", command)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Printf("error reading input: %v\n", err)
	}
}

func handleExec(ctx context.Context, conn *mysqlcore.PooledConnection, sql string, args []string) {
	stmt, err := conn.Prepare(sql)
	if err != nil {
		fmt.Printf("prepare failed: %v\n", err)
		return
	}
	defer stmt.Dispose(ctx)

	for i, a := range args {
		if err := stmt.Bind(i, coerce(a)); err != nil {
			fmt.Printf("bind failed: %v\n", err)
			return
		}
	}

	start := time.Now()
	rs, err := stmt.Execute(ctx)
	duration := time.Since(start)
	if err != nil {
		fmt.Printf("execute failed: %v (took %v)\n", err, duration)
		return
	}

	rows, err := rs.FetchAll(ctx)
	if err != nil {
		fmt.Printf("fetch failed: %v\n", err)
	}
	if len(rows) == 0 {
		fmt.Printf("affected=%d lastInsertId=%d (took %v)\n", rs.AffectedRows, rs.LastInsertID, duration)
		return
	}
	for _, row := range rows {
		fmt.Printf("  %v\n", row.Values)
	}
	fmt.Printf("%d row(s) (took %v)\n", len(rows), duration)
}

// coerce guesses an int64 for numeric-looking arguments, else passes the
// string through verbatim.
func coerce(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}

func handlePing(ctx context.Context, conn *mysqlcore.PooledConnection) {
	d, err := conn.Ping(ctx)
	if err != nil {
		fmt.Printf("ping failed: %v\n", err)
		return
	}
	fmt.Printf("pong (took %v)\n", d)
}

func handleStats(pool *mysqlcore.Pool) {
	s := pool.Stats()
	fmt.Printf("total=%d idle=%d active=%d acquired=%d acquireWaits=%d acquireErrors=%d\n",
		s.TotalConns, s.IdleConns, s.ActiveConns, s.AcquireCount, s.AcquireWaitCount, s.AcquireErrors)
}
