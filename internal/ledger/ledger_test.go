package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kiteflow/trader/internal/database"
	"github.com/kiteflow/trader/internal/domain"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return New(db.Conn(), zerolog.Nop())
}

func testOrder(id string) domain.Order {
	now := time.Now().UTC().Truncate(time.Second)
	return domain.Order{
		BrokerOrderID: id,
		Intent: domain.OrderIntent{
			Instrument: domain.Instrument{Exchange: "NSE", TradingSymbol: "RELIANCE"},
			Side:       domain.SideBuy,
			Quantity:   10,
			OrderType:  domain.OrderTypeMarket,
			Product:    domain.ProductMIS,
			Validity:   domain.ValidityDay,
		},
		Status:    domain.OrderPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestUpsertOrderInsertsThenUpdates(t *testing.T) {
	repo := newTestRepo(t)
	order := testOrder("ORD-1")

	require.NoError(t, repo.UpsertOrder(order))

	order.Status = domain.OrderComplete
	order.FilledQty = 10
	order.AvgFillPrice = 2500.5
	order.UpdatedAt = order.UpdatedAt.Add(time.Second)
	require.NoError(t, repo.UpsertOrder(order))

	recent, err := repo.RecentOrders(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, domain.OrderComplete, recent[0].Status)
	require.Equal(t, int64(10), recent[0].FilledQty)
	require.Equal(t, 2500.5, recent[0].AvgFillPrice)
}

func TestRecentOrdersOrderedByUpdatedAtDescending(t *testing.T) {
	repo := newTestRepo(t)
	base := testOrder("ORD-A")
	base.UpdatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, repo.UpsertOrder(base))

	newer := testOrder("ORD-B")
	newer.UpdatedAt = time.Now()
	require.NoError(t, repo.UpsertOrder(newer))

	recent, err := repo.RecentOrders(10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "ORD-B", recent[0].BrokerOrderID)
	require.Equal(t, "ORD-A", recent[1].BrokerOrderID)
}

func TestInsertTradeAndTradesSince(t *testing.T) {
	repo := newTestRepo(t)
	old := domain.Trade{
		Instrument: domain.Instrument{Exchange: "NSE", TradingSymbol: "TCS"},
		Side:       domain.SideBuy, Quantity: 5, Price: 3500, OrderID: "ORD-1",
		Timestamp: time.Now().Add(-48 * time.Hour),
	}
	recent := domain.Trade{
		Instrument: domain.Instrument{Exchange: "NSE", TradingSymbol: "TCS"},
		Side:       domain.SideSell, Quantity: 5, Price: 3600, OrderID: "ORD-2",
		Timestamp: time.Now(),
	}
	require.NoError(t, repo.InsertTrade(old))
	require.NoError(t, repo.InsertTrade(recent))

	cutoff := time.Now().Add(-time.Hour)
	trades, err := repo.TradesSince(&cutoff, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, "ORD-2", trades[0].OrderID)

	all, err := repo.TradesSince(nil, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestTradeCountTodayExcludesOlderTrades(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.InsertTrade(domain.Trade{
		Instrument: domain.Instrument{Exchange: "NSE", TradingSymbol: "INFY"},
		Side:       domain.SideBuy, Quantity: 1, Price: 1500, OrderID: "ORD-OLD",
		Timestamp: time.Now().Add(-72 * time.Hour),
	}))
	require.NoError(t, repo.InsertTrade(domain.Trade{
		Instrument: domain.Instrument{Exchange: "NSE", TradingSymbol: "INFY"},
		Side:       domain.SideSell, Quantity: 1, Price: 1510, OrderID: "ORD-NEW",
		Timestamp: time.Now(),
	}))

	count, err := repo.TradeCountToday()
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
