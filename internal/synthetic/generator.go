package synthetic

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/tinytelemetry/errlens/internal/model"
)

const (
	// DefaultDelay emulates admin API latency for every synthetic page.
	DefaultDelay = 500 * time.Millisecond

	// LastPage is the final page that carries data; later pages are empty.
	LastPage = 3

	minPerPage = 10
	maxPerPage = 20
)

var (
	channels   = []string{"MA0", "MW0", "HOM"}
	apps       = []string{"Bxm-Core", "Bxm-FEP", "Smart-Banking"}
	services   = []string{"TransferSvc", "AccountSvc", "CustomerSvc", "AuthSvc"}
	operations = []string{"checkBalance", "transfer", "login", "validateUser"}
	nodes      = []string{"was-node-01", "was-node-02", "was-node-03"}
	failures   = []struct{ code, msg string }{
		{"DB-001", "Database connection timeout"},
		{"NET-503", "Gateway timeout exception"},
		{"BIZ-102", "Invalid account status"},
		{"SYS-999", "NullPointerException occurred"},
	}
)

// Config holds tunable parameters for the generator.
type Config struct {
	Seed    int64 // 0 = seeded from the clock
	Delay   time.Duration
	NoDelay bool // disables latency emulation
	Now     func() time.Time
}

// Generator produces plausible error records when the real backend is
// unavailable.
type Generator struct {
	mu    sync.Mutex
	rng   *rand.Rand
	delay time.Duration
	now   func() time.Time
}

// New creates a generator.
func New(conf ...Config) *Generator {
	seed := time.Now().UnixNano()
	delay := DefaultDelay
	now := time.Now
	if len(conf) > 0 {
		if conf[0].Seed != 0 {
			seed = conf[0].Seed
		}
		if conf[0].Delay > 0 {
			delay = conf[0].Delay
		}
		if conf[0].NoDelay {
			delay = 0
		}
		if conf[0].Now != nil {
			now = conf[0].Now
		}
	}
	return &Generator{
		rng:   rand.New(rand.NewSource(seed)),
		delay: delay,
		now:   now,
	}
}

// Page returns the synthetic records for a 1-based page. Pages after LastPage
// are empty to signal end of stream.
func (g *Generator) Page(ctx context.Context, page int) []model.LogRecord {
	if g.delay > 0 {
		t := time.NewTimer(g.delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}

	if page > LastPage {
		return []model.LogRecord{}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	count := minPerPage + g.rng.Intn(maxPerPage-minPerPage+1)
	stamp := g.now().Format("2006-01-02 15:04:05")
	records := make([]model.LogRecord, 0, count)
	for i := 0; i < count; i++ {
		e := failures[g.rng.Intn(len(failures))]
		records = append(records, model.LogRecord{
			Time:      stamp,
			Channel:   pick(g.rng, channels),
			App:       pick(g.rng, apps),
			Service:   pick(g.rng, services),
			Operation: pick(g.rng, operations),
			Code:      e.code,
			Message:   e.msg,
			Node:      pick(g.rng, nodes),
		}.Normalize())
	}
	return records
}

func pick(rng *rand.Rand, from []string) string {
	return from[rng.Intn(len(from))]
}
