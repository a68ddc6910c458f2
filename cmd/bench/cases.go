// README: Bench cases; environment checks plus claim, delivery and cancellation races driven through the order service.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"drop/internal/modules/earnings"
	"drop/internal/modules/order"
	"drop/internal/types"
)

type Runner struct {
	cfg   Settings
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
	svc   *order.Service
}

type Result struct {
	Name    string
	Focus   string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name  string
	Focus string
	Run   func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Settings) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
			r.svc = order.NewService(order.NewTransactor(db), earnings.NewLedger(earnings.DefaultRiderShare, nil), zap.NewNop())
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name, res.Focus = tc.Name, tc.Focus
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{
			Name:  "Env: Postgres connect",
			Focus: "order store reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Env: Redis connect",
			Focus: "idempotency cache reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "SKIP", Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Migration: apply (optional)",
			Focus: "apply migration SQL",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: "SKIP", Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				sql, err := os.ReadFile(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, s := range splitSQL(string(sql)) {
					if _, err := r.db.Exec(ctx, s); err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Migration: tables exist",
			Focus: "tables from migrations/0001_init.sql",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				tables, err := extractTables(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
					if !exists {
						return Result{Status: "FAIL", Note: "missing table: " + t}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "API: health",
			Focus: "HTTP server answers",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.cfg.BaseURL == "" {
					return Result{Status: "SKIP", Note: "base-url not set"}
				}
				req, _ := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+"/health", nil)
				start := time.Now()
				resp, err := r.httpc.Do(req)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d", resp.StatusCode)}
				}
				return Result{Status: "PASS", Latency: time.Since(start)}
			},
		},
		{
			Name:  "Race: concurrent accept same order",
			Focus: "exactly one rider wins",
			Run:   withEngine(concurrentAccept),
		},
		{
			Name:  "Race: repeated delivery confirmation",
			Focus: "one earnings record per delivery",
			Run:   withEngine(repeatedDelivery),
		},
		{
			Name:  "Race: concurrent cancel of paid order",
			Focus: "one refund per cancellation",
			Run:   withEngine(concurrentCancel),
		},
		{
			Name:  "Perf: contested claim throughput",
			Focus: "claims/sec with concurrency riders per order",
			Run:   withEngine(claimThroughput),
		},
	}
}

func withEngine(fn func(ctx context.Context, r *Runner) Result) func(ctx context.Context, r *Runner) Result {
	return func(ctx context.Context, r *Runner) Result {
		if r.svc == nil {
			return Result{Status: "FAIL", Note: "db not configured"}
		}
		return fn(ctx, r)
	}
}

func concurrentAccept(ctx context.Context, r *Runner) Result {
	riders, err := r.seedRiders(ctx, r.cfg.Concurrency)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	orderID, err := r.readyOrder(ctx, order.PaymentPending)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}

	start := time.Now()
	won, lost, err := r.race(ctx, orderID, riders)
	latency := time.Since(start)
	if err != nil {
		return Result{Status: "FAIL", Latency: latency, Note: err.Error()}
	}
	note := fmt.Sprintf("success=%d already_assigned=%d", won, lost)
	if won != 1 {
		return Result{Status: "FAIL", Latency: latency, Note: note}
	}
	return Result{Status: "PASS", Latency: latency, Note: note}
}

// race sends every rider at the same order; anything other than a win or ErrAlreadyAssigned is an error.
func (r *Runner) race(ctx context.Context, orderID types.ID, riders []types.ID) (int64, int64, error) {
	var won, lost atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for _, rider := range riders {
		rider := rider
		g.Go(func() error {
			_, err := r.svc.AcceptOrder(gctx, orderID, rider)
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, order.ErrAlreadyAssigned):
				lost.Add(1)
			default:
				return fmt.Errorf("rider %s: %w", rider, err)
			}
			return nil
		})
	}
	err := g.Wait()
	return won.Load(), lost.Load(), err
}

func repeatedDelivery(ctx context.Context, r *Runner) Result {
	riders, err := r.seedRiders(ctx, 1)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	rider := riders[0]
	orderID, err := r.readyOrder(ctx, order.PaymentPending)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if _, err := r.svc.AcceptOrder(ctx, orderID, rider); err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if _, err := r.svc.AdvanceStatus(ctx, orderID, rider, order.StatusOutForDelivery); err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}

	start := time.Now()
	var replayed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Concurrency; i++ {
		g.Go(func() error {
			res, err := r.svc.AdvanceStatus(gctx, orderID, rider, order.StatusDelivered)
			if err != nil {
				return err
			}
			if res.Replayed {
				replayed.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{Status: "FAIL", Latency: time.Since(start), Note: err.Error()}
	}
	latency := time.Since(start)

	var records int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM rider_earnings WHERE order_id = $1`, string(orderID)).Scan(&records); err != nil {
		return Result{Status: "FAIL", Latency: latency, Note: err.Error()}
	}
	note := fmt.Sprintf("earnings_rows=%d replayed=%d", records, replayed.Load())
	if records != 1 {
		return Result{Status: "FAIL", Latency: latency, Note: note}
	}
	return Result{Status: "PASS", Latency: latency, Note: note}
}

func concurrentCancel(ctx context.Context, r *Runner) Result {
	orderID, err := r.readyOrder(ctx, order.PaymentCompleted)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}

	start := time.Now()
	var credited atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Concurrency; i++ {
		g.Go(func() error {
			res, err := r.svc.CancelOrder(gctx, order.CancelCommand{
				OrderID: orderID,
				Actor:   order.Actor{ID: "bench-admin", Role: order.RoleAdmin},
				Reason:  "bench",
			})
			if err != nil {
				return err
			}
			if !res.Replayed && res.Refund != nil {
				credited.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{Status: "FAIL", Latency: time.Since(start), Note: err.Error()}
	}
	latency := time.Since(start)

	var refunds int
	err = r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM wallet_transactions WHERE order_id = $1 AND type = 'REFUND'`,
		string(orderID),
	).Scan(&refunds)
	if err != nil {
		return Result{Status: "FAIL", Latency: latency, Note: err.Error()}
	}
	note := fmt.Sprintf("refund_rows=%d credited=%d", refunds, credited.Load())
	if refunds != 1 || credited.Load() != 1 {
		return Result{Status: "FAIL", Latency: latency, Note: note}
	}
	return Result{Status: "PASS", Latency: latency, Note: note}
}

func claimThroughput(ctx context.Context, r *Runner) Result {
	riders, err := r.seedRiders(ctx, r.cfg.Concurrency)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	end := time.Now().Add(r.cfg.Duration)
	claims, doubles := 0, 0
	var elapsed time.Duration
	for time.Now().Before(end) && ctx.Err() == nil {
		orderID, err := r.readyOrder(ctx, order.PaymentPending)
		if err != nil {
			return Result{Status: "FAIL", Note: err.Error()}
		}
		start := time.Now()
		won, _, err := r.race(ctx, orderID, riders)
		elapsed += time.Since(start)
		if err != nil {
			return Result{Status: "FAIL", Note: err.Error()}
		}
		claims++
		if won != 1 {
			doubles++
		}
	}
	if claims == 0 {
		return Result{Status: "FAIL", Note: "no orders raced"}
	}
	note := fmt.Sprintf("orders=%d claims/sec=%.1f bad=%d", claims, float64(claims)/elapsed.Seconds(), doubles)
	if doubles > 0 {
		return Result{Status: "FAIL", Note: note}
	}
	return Result{Status: "PASS", Latency: elapsed / time.Duration(claims), Note: note}
}

func (r *Runner) seedRiders(ctx context.Context, n int) ([]types.ID, error) {
	riders := make([]types.ID, n)
	for i := range riders {
		riders[i] = types.ID("bench-rider-" + types.NewID())
		_, err := r.db.Exec(ctx, `INSERT INTO riders (id, name) VALUES ($1, $1)`, string(riders[i]))
		if err != nil {
			return nil, fmt.Errorf("seed rider: %w", err)
		}
	}
	return riders, nil
}

// readyOrder places an order and walks it through the vendor statuses to READY_FOR_PICKUP.
func (r *Runner) readyOrder(ctx context.Context, payment order.PaymentStatus) (types.ID, error) {
	vendor := types.ID("bench-vendor")
	o, err := r.svc.Place(ctx, order.PlaceCommand{
		CustomerID:    types.ID("bench-customer-" + types.NewID()),
		VendorID:      vendor,
		PaymentStatus: payment,
		Subtotal:      types.MustMoney("100"),
		DeliveryFee:   types.MustMoney("40"),
		Tip:           types.MustMoney("20"),
	})
	if err != nil {
		return "", fmt.Errorf("place order: %w", err)
	}
	for _, st := range []order.Status{order.StatusConfirmed, order.StatusPreparing, order.StatusReadyForPickup} {
		if _, err := r.svc.VendorAdvance(ctx, o.ID, vendor, st); err != nil {
			return "", fmt.Errorf("vendor %s: %w", st, err)
		}
	}
	return o.ID, nil
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	cleaned := strings.Join(filtered, "\n")
	parts := strings.Split(cleaned, ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
