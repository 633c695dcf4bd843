package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"

	"odyssey/internal/cache"
	"odyssey/internal/game"
	"odyssey/internal/remote"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

// colorNotifier renders game events to the terminal. The injection banner
// stays on screen for the standard duration before the prompt returns.
type colorNotifier struct {
	sleep func(time.Duration)
}

func newColorNotifier() *colorNotifier {
	return &colorNotifier{sleep: time.Sleep}
}

func (n *colorNotifier) InjectionApplied(round int, amount decimal.Decimal) {
	success.Printf("\n  💰 Round %d cash injection: +$%s\n\n", round, amount.StringFixed(2))
	n.sleep(game.BannerDuration)
}

func (n *colorNotifier) TradeExecuted(rec game.TradeRecord) {}

func (n *colorNotifier) TradeRejected(reason string) {
	printError("Trade rejected: " + reason)
}

func (n *colorNotifier) RefreshPortfolio(*game.PortfolioState) {}

func (n *colorNotifier) Warn(msg string) {
	printWarn(msg)
}

func renderStatus(s *game.Session) {
	accent.Printf("Game %s — Round %d\n", s.GameID, s.Market.Round())
	neutral.Printf("Cash:            $%s\n", s.Portfolio.Cash.StringFixed(2))
	neutral.Printf("Total injected:  $%s\n", s.Portfolio.TotalCashInjected.StringFixed(2))

	prices := s.Market.Prices()
	total := s.Portfolio.TotalValue(prices)
	neutral.Printf("Portfolio value: $%s\n", total.StringFixed(2))

	if len(s.Portfolio.Holdings) == 0 {
		printInfo("No holdings.")
		return
	}
	assets := make([]string, 0, len(s.Portfolio.Holdings))
	for asset := range s.Portfolio.Holdings {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	fmt.Println()
	neutral.Printf("%-14s %14s %14s %14s\n", "ASSET", "UNITS", "PRICE", "VALUE")
	for _, asset := range assets {
		qty := s.Portfolio.Holdings[asset]
		price := prices[asset]
		neutral.Printf("%-14s %14s %14s %14s\n",
			asset,
			qty.StringFixed(4),
			price.StringFixed(2),
			qty.Mul(price).StringFixed(2),
		)
	}
}

func renderCachedStatus(c *cache.Cache, gameID string) {
	if cash, ok := c.GetDecimal(cache.PlayerCashKey(gameID)); ok {
		neutral.Printf("Cash (cached):           $%s\n", cash.StringFixed(2))
	}
	if total, ok := c.GetDecimal(cache.TotalInjectedKey(gameID)); ok {
		neutral.Printf("Total injected (cached): $%s\n", total.StringFixed(2))
	}
}

func renderTrade(rec game.TradeRecord) {
	verb := "Bought"
	if rec.Action == game.Sell {
		verb = "Sold"
	}
	delta := rec.CashDelta.StringFixed(2)
	if rec.CashDelta.Sign() >= 0 {
		delta = "+" + delta
	}
	success.Printf("%s %s %s @ $%s (cash %s)\n",
		verb,
		rec.Quantity.StringFixed(4),
		rec.Asset,
		rec.Price.StringFixed(2),
		delta,
	)
}

func renderPrices(s *game.Session) {
	prices := s.Market.Prices()
	assets := s.Market.Assets()
	fmt.Println()
	neutral.Printf("%-14s %14s\n", "ASSET", "PRICE")
	for _, asset := range assets {
		neutral.Printf("%-14s %14s\n", asset, prices[asset].StringFixed(2))
	}
}

func renderInjections(rows []remote.Row, total decimal.Decimal) {
	if len(rows) == 0 {
		printInfo("No injections recorded yet.")
		return
	}
	type entry struct {
		round  int
		amount decimal.Decimal
	}
	entries := make([]entry, 0, len(rows))
	for _, row := range rows {
		round, _ := remote.IntField(row, "round_number")
		amount, _ := remote.DecimalField(row, "amount")
		entries = append(entries, entry{round: round, amount: amount})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].round < entries[j].round })
	neutral.Printf("%-8s %14s\n", "ROUND", "AMOUNT")
	for _, e := range entries {
		neutral.Printf("%-8d %14s\n", e.round, "$"+e.amount.StringFixed(2))
	}
	accent.Printf("%-8s %14s\n", "TOTAL", "$"+total.StringFixed(2))
}

func renderLeaderboard(entries []game.LeaderboardEntry) {
	if len(entries) == 0 {
		printInfo("No participants yet.")
		return
	}
	neutral.Printf("%-6s %-28s %14s\n", "RANK", "PLAYER", "VALUE")
	for _, e := range entries {
		name := e.Name
		if name == "" {
			name = e.UserID
		}
		line := fmt.Sprintf("%-6d %-28s %14s", e.Rank, name, "$"+e.TotalValue.StringFixed(2))
		if e.Rank == 1 {
			success.Println(line)
			continue
		}
		neutral.Println(line)
	}
}
