package game

import (
	"testing"
)

func TestMarketDeterministicForSameSeed(t *testing.T) {
	a := NewMarket(nil, 42)
	b := NewMarket(nil, 42)
	for round := 1; round <= 10; round++ {
		pa := a.AdvanceRound()
		pb := b.AdvanceRound()
		for asset, price := range pa {
			if !price.Equal(pb[asset]) {
				t.Fatalf("round %d %s: %s vs %s", round, asset, price, pb[asset])
			}
		}
	}
}

func TestSeekRoundMatchesStepping(t *testing.T) {
	stepped := NewMarket(nil, SeedForGame("classroom"))
	for i := 0; i < 7; i++ {
		stepped.AdvanceRound()
	}
	sought := NewMarket(nil, SeedForGame("classroom"))
	prices := sought.SeekRound(7)

	if sought.Round() != 7 {
		t.Fatalf("round = %d, want 7", sought.Round())
	}
	for asset, price := range stepped.Prices() {
		if !price.Equal(prices[asset]) {
			t.Errorf("%s: stepped %s, sought %s", asset, price, prices[asset])
		}
	}
}

func TestSeekRoundNeverRewinds(t *testing.T) {
	m := NewMarket(nil, 1)
	m.SeekRound(5)
	before := m.Prices()
	m.SeekRound(2)
	if m.Round() != 5 {
		t.Fatalf("round = %d, want 5", m.Round())
	}
	for asset, price := range m.Prices() {
		if !price.Equal(before[asset]) {
			t.Errorf("%s changed on backwards seek", asset)
		}
	}
}

func TestPricesStayPositive(t *testing.T) {
	m := NewMarket(nil, 99)
	for i := 0; i < 200; i++ {
		for asset, price := range m.AdvanceRound() {
			if price.LessThan(minPrice) {
				t.Fatalf("round %d: %s price %s below floor", i+1, asset, price)
			}
		}
	}
}

func TestSeedForGameIsStable(t *testing.T) {
	if SeedForGame("classroom") != SeedForGame("classroom") {
		t.Error("same game id must produce the same seed")
	}
	if SeedForGame("classroom") == SeedForGame("section-b") {
		t.Error("different game ids should not collide on this input")
	}
}
