package risk

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"paper-broker/internal/config"
	"paper-broker/internal/model"
)

func testWallet(initial, reserved string) *model.Wallet {
	return &model.Wallet{
		ID:              uuid.New(),
		Name:            "test",
		InitialBalance:  decimal.RequireFromString(initial),
		CurrentBalance:  decimal.RequireFromString(initial),
		ReservedBalance: decimal.RequireFromString(reserved),
	}
}

func openPosition(ticker string, qty int64) model.Position {
	return model.Position{
		ID:       uuid.New(),
		Ticker:   ticker,
		Market:   model.MarketNASDAQ,
		Quantity: qty,
	}
}

func newTestValidator() *Validator {
	return NewValidator(config.RiskConfig{
		MaxPositionPct:         0.20,
		MaxConcurrentPositions: 5,
		MinReservePct:          0.10,
	})
}

func buyCheck(ticker, cost string) OrderCheck {
	return OrderCheck{
		Ticker:        ticker,
		Side:          model.SideBuy,
		EstimatedCost: decimal.RequireFromString(cost),
	}
}

func TestCheck_AcceptsWithinLimits(t *testing.T) {
	v := newTestValidator()
	w := testWallet("10000", "0")

	if rej := v.Check(w, nil, buyCheck("AAPL", "1500")); rej != nil {
		t.Errorf("expected pass, got %v", rej)
	}
}

func TestCheck_SellsAlwaysPass(t *testing.T) {
	v := newTestValidator()
	w := testWallet("10000", "9500")
	positions := []model.Position{
		openPosition("AAPL", 10), openPosition("MSFT", 5),
		openPosition("GOOGL", 3), openPosition("AMZN", 2), openPosition("TSLA", 1),
	}

	check := OrderCheck{Ticker: "AAPL", Side: model.SideSell, EstimatedCost: decimal.RequireFromString("99999")}
	if rej := v.Check(w, positions, check); rej != nil {
		t.Errorf("sells reduce exposure and must pass, got %v", rej)
	}
}

func TestCheck_DuplicatePosition(t *testing.T) {
	v := newTestValidator()
	w := testWallet("10000", "0")
	positions := []model.Position{openPosition("AAPL", 10)}

	rej := v.Check(w, positions, buyCheck("AAPL", "500"))
	if rej == nil || rej.Reason != model.RejectDuplicatePosition {
		t.Errorf("expected DUPLICATE_POSITION, got %v", rej)
	}

	// 已平仓的记录不算重复
	closed := openPosition("MSFT", 0)
	rej = v.Check(w, []model.Position{closed}, buyCheck("MSFT", "500"))
	if rej != nil {
		t.Errorf("closed position must not block re-entry, got %v", rej)
	}
}

func TestCheck_MaxConcurrentPositions(t *testing.T) {
	v := newTestValidator()
	w := testWallet("100000", "0")
	positions := []model.Position{
		openPosition("AAPL", 1), openPosition("MSFT", 1),
		openPosition("GOOGL", 1), openPosition("AMZN", 1), openPosition("TSLA", 1),
	}

	rej := v.Check(w, positions, buyCheck("SPY", "500"))
	if rej == nil || rej.Reason != model.RejectMaxPositionsReached {
		t.Errorf("expected MAX_POSITIONS_REACHED, got %v", rej)
	}
}

func TestCheck_PositionTooLarge(t *testing.T) {
	v := newTestValidator()
	w := testWallet("10000", "0")

	// 上限 = 10000×0.20 = 2000
	rej := v.Check(w, nil, buyCheck("AAPL", "2000.01"))
	if rej == nil || rej.Reason != model.RejectPositionTooLarge {
		t.Errorf("expected POSITION_TOO_LARGE, got %v", rej)
	}
	if v.Check(w, nil, buyCheck("AAPL", "2000")) != nil {
		t.Error("cost exactly at limit must pass")
	}
}

func TestCheck_MinReserveFloor(t *testing.T) {
	v := newTestValidator()
	// 购买力 = 10000 − 8200 = 1800；下限 = 1000
	w := testWallet("10000", "8200")

	rej := v.Check(w, nil, buyCheck("AAPL", "900"))
	if rej == nil || rej.Reason != model.RejectInsufficientFunds {
		t.Errorf("expected INSUFFICIENT_BUYING_POWER, got %v", rej)
	}
	if v.Check(w, nil, buyCheck("AAPL", "800")) != nil {
		t.Error("order leaving exactly the reserve floor must pass")
	}
}

func TestCheck_Deterministic(t *testing.T) {
	v := newTestValidator()
	w := testWallet("10000", "0")
	positions := []model.Position{openPosition("AAPL", 10)}
	check := buyCheck("AAPL", "500")

	first := v.Check(w, positions, check)
	second := v.Check(w, positions, check)
	if first == nil || second == nil || first.Reason != second.Reason {
		t.Errorf("same snapshot must yield same verdict: %v vs %v", first, second)
	}
}
