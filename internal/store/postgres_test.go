package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"crashfair/internal/game"
)

var testPool *pgxpool.Pool

func mustStartPostgresContainer() (func(context.Context, ...testcontainers.TerminateOption) error, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dbContainer, err := postgres.Run(
		ctx,
		"postgres:latest",
		postgres.WithDatabase("crashdb"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, err
	}

	connStr, err := dbContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return dbContainer.Terminate, err
	}

	testPool, err = pgxpool.New(context.Background(), connStr)
	if err != nil {
		return dbContainer.Terminate, err
	}

	schema, err := os.ReadFile(filepath.Join("..", "..", "migrations", "000001_init.up.sql"))
	if err != nil {
		return dbContainer.Terminate, err
	}
	if _, err := testPool.Exec(context.Background(), string(schema)); err != nil {
		return dbContainer.Terminate, err
	}

	return dbContainer.Terminate, nil
}

func TestMain(m *testing.M) {
	if os.Getenv("SKIP_INTEGRATION") != "" {
		os.Exit(0)
	}
	if os.Getenv("CI") == "" && !isDockerAvailable() {
		os.Exit(0)
	}

	teardown, err := mustStartPostgresContainer()
	if err != nil {
		os.Exit(0)
	}

	code := m.Run()

	if testPool != nil {
		testPool.Close()
	}
	if teardown != nil {
		teardown(context.Background())
	}

	os.Exit(code)
}

func isDockerAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()

	_, err = provider.DaemonHost(ctx)
	return err == nil
}

func newRound(t *testing.T, p *Postgres, status game.RoundStatus, crashPoint float64) *game.Round {
	t.Helper()
	ctx := context.Background()

	n, err := p.NextRoundNumber(ctx)
	if err != nil {
		t.Fatalf("NextRoundNumber() error: %v", err)
	}
	r := &game.Round{
		ID:             uuid.NewString(),
		RoundNumber:    n,
		ServerSeed:     "seed-" + uuid.NewString(),
		ServerSeedHash: "hash",
		ClientSeed:     "client",
		CrashPoint:     crashPoint,
		Status:         game.RoundPending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := p.CreateRound(ctx, r); err != nil {
		t.Fatalf("CreateRound() error: %v", err)
	}
	if status == game.RoundActive {
		activated, err := p.ActivateRound(ctx, r.ID, time.Now().UTC())
		if err != nil {
			t.Fatalf("ActivateRound() error: %v", err)
		}
		return activated
	}
	return r
}

func fundUser(t *testing.T, userID string, ledger game.Ledger, cents int64) {
	t.Helper()
	_, err := testPool.Exec(context.Background(), `
		INSERT INTO balances (user_id, ledger, balance_cents)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, ledger) DO UPDATE SET balance_cents = $3
	`, userID, ledger, cents)
	if err != nil {
		t.Fatalf("fund user: %v", err)
	}
}

func placeBet(t *testing.T, p *Postgres, userID, roundID string, cents int64) *game.Bet {
	t.Helper()
	b := &game.Bet{
		ID:          uuid.NewString(),
		UserID:      userID,
		RoundID:     roundID,
		Ledger:      game.LedgerReal,
		Status:      game.BetPlaced,
		AmountCents: cents,
		PlacedAt:    time.Now().UTC(),
	}
	if _, err := p.PlaceBet(context.Background(), b); err != nil {
		t.Fatalf("PlaceBet() error: %v", err)
	}
	return b
}

func TestPostgres_NextRoundNumberMonotonic(t *testing.T) {
	p := NewPostgres(testPool)
	ctx := context.Background()

	a, err := p.NextRoundNumber(ctx)
	if err != nil {
		t.Fatalf("NextRoundNumber() error: %v", err)
	}
	b, err := p.NextRoundNumber(ctx)
	if err != nil {
		t.Fatalf("NextRoundNumber() error: %v", err)
	}
	if b <= a {
		t.Errorf("round numbers not increasing: %d then %d", a, b)
	}
}

func TestPostgres_RoundLifecycle(t *testing.T) {
	p := NewPostgres(testPool)
	ctx := context.Background()

	r := newRound(t, p, game.RoundPending, 2.5)

	got, err := p.GetRound(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRound() error: %v", err)
	}
	if got.Status != game.RoundPending || got.CrashPoint != 2.5 {
		t.Errorf("round = %+v", got)
	}

	active, err := p.ActivateRound(ctx, r.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("ActivateRound() error: %v", err)
	}
	if active.Status != game.RoundActive || active.StartedAt == nil {
		t.Errorf("activated round = %+v", active)
	}

	if _, err := p.ActivateRound(ctx, r.ID, time.Now().UTC()); err != game.ErrRoundNotOpen {
		t.Errorf("double activate error = %v, want %v", err, game.ErrRoundNotOpen)
	}

	crashed, _, err := p.CrashRound(ctx, r.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("CrashRound() error: %v", err)
	}
	if crashed.Status != game.RoundCrashed || crashed.EndedAt == nil {
		t.Errorf("crashed round = %+v", crashed)
	}

	if _, _, err := p.CrashRound(ctx, r.ID, time.Now().UTC()); err != game.ErrRoundNotActive {
		t.Errorf("double crash error = %v, want %v", err, game.ErrRoundNotActive)
	}
}

func TestPostgres_GetRoundNotFound(t *testing.T) {
	p := NewPostgres(testPool)
	if _, err := p.GetRound(context.Background(), uuid.NewString()); err != game.ErrRoundNotFound {
		t.Errorf("error = %v, want %v", err, game.ErrRoundNotFound)
	}
}

func TestPostgres_PlaceBetDebitsAndAudits(t *testing.T) {
	p := NewPostgres(testPool)
	ctx := context.Background()

	userID := "user-" + uuid.NewString()
	fundUser(t, userID, game.LedgerReal, 5_000)
	r := newRound(t, p, game.RoundPending, 3.0)

	b := &game.Bet{
		ID:          uuid.NewString(),
		UserID:      userID,
		RoundID:     r.ID,
		Ledger:      game.LedgerReal,
		Status:      game.BetPlaced,
		AmountCents: 1_500,
		PlacedAt:    time.Now().UTC(),
	}
	after, err := p.PlaceBet(ctx, b)
	if err != nil {
		t.Fatalf("PlaceBet() error: %v", err)
	}
	if after != 3_500 {
		t.Errorf("balance after debit = %d, want 3500", after)
	}

	trail, err := p.AuditTrail(ctx, userID, 10)
	if err != nil {
		t.Fatalf("AuditTrail() error: %v", err)
	}
	if len(trail) != 1 || trail[0].Kind != game.AuditBetDebit {
		t.Fatalf("audit trail = %+v", trail)
	}
	if trail[0].BeforeCents != 5_000 || trail[0].AfterCents != 3_500 {
		t.Errorf("audit before/after = %d/%d", trail[0].BeforeCents, trail[0].AfterCents)
	}
}

func TestPostgres_PlaceBetInsufficientFunds(t *testing.T) {
	p := NewPostgres(testPool)
	ctx := context.Background()

	userID := "user-" + uuid.NewString()
	fundUser(t, userID, game.LedgerReal, 500)
	r := newRound(t, p, game.RoundPending, 2.0)

	b := &game.Bet{
		ID:          uuid.NewString(),
		UserID:      userID,
		RoundID:     r.ID,
		Ledger:      game.LedgerReal,
		Status:      game.BetPlaced,
		AmountCents: 1_000,
		PlacedAt:    time.Now().UTC(),
	}
	if _, err := p.PlaceBet(ctx, b); err != game.ErrInsufficientFunds {
		t.Fatalf("PlaceBet() error = %v, want %v", err, game.ErrInsufficientFunds)
	}

	balance, _ := p.Balance(ctx, userID, game.LedgerReal)
	if balance != 500 {
		t.Errorf("balance mutated on failed bet: %d", balance)
	}
	if _, err := p.GetBet(ctx, b.ID); err != game.ErrBetNotFound {
		t.Errorf("bet row exists after failed debit")
	}
}

func TestPostgres_PlaceBetRoundNotOpen(t *testing.T) {
	p := NewPostgres(testPool)

	userID := "user-" + uuid.NewString()
	fundUser(t, userID, game.LedgerReal, 5_000)
	r := newRound(t, p, game.RoundActive, 2.0)

	b := &game.Bet{
		ID:          uuid.NewString(),
		UserID:      userID,
		RoundID:     r.ID,
		Ledger:      game.LedgerReal,
		Status:      game.BetPlaced,
		AmountCents: 1_000,
		PlacedAt:    time.Now().UTC(),
	}
	if _, err := p.PlaceBet(context.Background(), b); err != game.ErrRoundNotOpen {
		t.Errorf("PlaceBet() error = %v, want %v", err, game.ErrRoundNotOpen)
	}
}

func TestPostgres_SettleCashoutExactlyOnce(t *testing.T) {
	p := NewPostgres(testPool)
	ctx := context.Background()

	userID := "user-" + uuid.NewString()
	fundUser(t, userID, game.LedgerReal, 5_000)
	r := newRound(t, p, game.RoundPending, 10.0)
	bet := placeBet(t, p, userID, r.ID, 1_000)
	if _, err := p.ActivateRound(ctx, r.ID, time.Now().UTC()); err != nil {
		t.Fatalf("ActivateRound() error: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	wins := make(chan int64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, after, err := p.SettleCashout(ctx, bet.ID, 2.0, 1_000, 2_000, time.Now().UTC())
			if err == nil {
				wins <- after
			}
		}()
	}
	wg.Wait()
	close(wins)

	var successes int
	for after := range wins {
		successes++
		if after != 6_000 {
			t.Errorf("balance after cashout = %d, want 6000", after)
		}
	}
	if successes != 1 {
		t.Fatalf("cashout succeeded %d times, want exactly once", successes)
	}

	balance, _ := p.Balance(ctx, userID, game.LedgerReal)
	if balance != 6_000 {
		t.Errorf("final balance = %d, want 6000", balance)
	}
}

func TestPostgres_SettleCashoutAfterCrash(t *testing.T) {
	p := NewPostgres(testPool)
	ctx := context.Background()

	userID := "user-" + uuid.NewString()
	fundUser(t, userID, game.LedgerReal, 5_000)
	r := newRound(t, p, game.RoundPending, 1.5)
	bet := placeBet(t, p, userID, r.ID, 1_000)
	if _, err := p.ActivateRound(ctx, r.ID, time.Now().UTC()); err != nil {
		t.Fatalf("ActivateRound() error: %v", err)
	}
	if _, _, err := p.CrashRound(ctx, r.ID, time.Now().UTC()); err != nil {
		t.Fatalf("CrashRound() error: %v", err)
	}

	if _, _, err := p.SettleCashout(ctx, bet.ID, 1.2, 200, 1_200, time.Now().UTC()); err != game.ErrBetSettled {
		t.Errorf("post-crash cashout error = %v, want %v", err, game.ErrBetSettled)
	}
	balance, _ := p.Balance(ctx, userID, game.LedgerReal)
	if balance != 4_000 {
		t.Errorf("balance = %d, want 4000 (stake stays lost)", balance)
	}
}

func TestPostgres_CrashRoundSweepsPlacedBets(t *testing.T) {
	p := NewPostgres(testPool)
	ctx := context.Background()

	r := newRound(t, p, game.RoundPending, 2.0)
	var users []string
	for i := 0; i < 3; i++ {
		userID := "user-" + uuid.NewString()
		fundUser(t, userID, game.LedgerReal, 5_000)
		placeBet(t, p, userID, r.ID, 1_000)
		users = append(users, userID)
	}
	if _, err := p.ActivateRound(ctx, r.ID, time.Now().UTC()); err != nil {
		t.Fatalf("ActivateRound() error: %v", err)
	}

	_, lost, err := p.CrashRound(ctx, r.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("CrashRound() error: %v", err)
	}
	if lost != 3 {
		t.Errorf("lost = %d, want 3", lost)
	}

	lostBets, err := p.ListRoundBets(ctx, r.ID, game.BetLost)
	if err != nil {
		t.Fatalf("ListRoundBets() error: %v", err)
	}
	if len(lostBets) != 3 {
		t.Fatalf("lost bets = %d, want 3", len(lostBets))
	}
	for _, b := range lostBets {
		if b.ProfitCents == nil || *b.ProfitCents != -1_000 {
			t.Errorf("lost bet %s profit = %v, want -1000", b.ID, b.ProfitCents)
		}
	}
	for _, u := range users {
		balance, _ := p.Balance(ctx, u, game.LedgerReal)
		if balance != 4_000 {
			t.Errorf("user %s balance = %d, want 4000", u, balance)
		}
	}
}

func TestPostgres_CancelRoundRefunds(t *testing.T) {
	p := NewPostgres(testPool)
	ctx := context.Background()

	userID := "user-" + uuid.NewString()
	fundUser(t, userID, game.LedgerReal, 5_000)
	r := newRound(t, p, game.RoundPending, 2.0)
	bet := placeBet(t, p, userID, r.ID, 2_000)

	cancelled, refunded, err := p.CancelRound(ctx, r.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("CancelRound() error: %v", err)
	}
	if cancelled.Status != game.RoundCancelled || refunded != 1 {
		t.Errorf("status=%v refunded=%d", cancelled.Status, refunded)
	}

	balance, _ := p.Balance(ctx, userID, game.LedgerReal)
	if balance != 5_000 {
		t.Errorf("balance = %d, want full refund to 5000", balance)
	}

	got, err := p.GetBet(ctx, bet.ID)
	if err != nil {
		t.Fatalf("GetBet() error: %v", err)
	}
	if got.Status != game.BetRefunded {
		t.Errorf("bet status = %v, want %v", got.Status, game.BetRefunded)
	}
}

func TestPostgres_AdjustBalance(t *testing.T) {
	p := NewPostgres(testPool)
	ctx := context.Background()

	userID := "user-" + uuid.NewString()
	entry, err := p.AdjustBalance(ctx, userID, game.LedgerPractice, 10_000, "ops@example", "initial grant")
	if err != nil {
		t.Fatalf("AdjustBalance() error: %v", err)
	}
	if entry.BeforeCents != 0 || entry.AfterCents != 10_000 {
		t.Errorf("before/after = %d/%d, want 0/10000", entry.BeforeCents, entry.AfterCents)
	}

	balance, _ := p.Balance(ctx, userID, game.LedgerPractice)
	if balance != 10_000 {
		t.Errorf("balance = %d, want 10000", balance)
	}
}

func TestPostgres_RecentRounds(t *testing.T) {
	p := NewPostgres(testPool)
	ctx := context.Background()

	var last *game.Round
	for i := 0; i < 3; i++ {
		r := newRound(t, p, game.RoundActive, 2.0)
		if _, _, err := p.CrashRound(ctx, r.ID, time.Now().UTC()); err != nil {
			t.Fatalf("CrashRound() error: %v", err)
		}
		last = r
	}

	rounds, err := p.RecentRounds(ctx, 3)
	if err != nil {
		t.Fatalf("RecentRounds() error: %v", err)
	}
	if len(rounds) != 3 {
		t.Fatalf("len = %d, want 3", len(rounds))
	}
	if rounds[0].ID != last.ID {
		t.Errorf("newest round first expected, got %s", rounds[0].ID)
	}
	for i := 1; i < len(rounds); i++ {
		if rounds[i].RoundNumber >= rounds[i-1].RoundNumber {
			t.Errorf("rounds not in descending order")
		}
	}
}
