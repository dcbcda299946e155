package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"golang.org/x/term"

	"brix/internal/ledger"
	"brix/internal/notify"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) { success.Println(msg) }
func printWarn(msg string)    { warn.Println(msg) }
func printError(msg string)   { danger.Println(msg) }
func printInfo(msg string)    { neutral.Println(msg) }

// printNote surfaces the operation's notification the way the web client's
// toast would.
func printNote(n *notify.Notification) {
	if n == nil {
		return
	}
	if n.Severity == notify.SeveritySuccess {
		printSuccess(n.Message)
		return
	}
	printError(n.Message)
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

func promptPassword(label string) (string, error) {
	fmt.Printf("%s: ", label)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	pw := strings.TrimSpace(string(raw))
	if pw == "" {
		return "", fmt.Errorf("%s is required", strings.ToLower(label))
	}
	return pw, nil
}

func renderProperties(properties []ledger.Property, holdings map[int64]int64) {
	accent.Println("\n== PROPERTY CATALOG ==")
	if len(properties) == 0 {
		printInfo("No properties available.")
		return
	}
	fmt.Printf("%-4s %-26s %-18s %10s %9s %9s %-18s %7s\n",
		"ID", "TITLE", "LOCATION", "TOKEN $", "AVAIL", "SOLD", "STATUS", "YOURS")
	for _, p := range properties {
		fmt.Printf("%-4d %-26s %-18s %10.2f %9d %9d %-18s %7d\n",
			p.ID,
			truncate(p.Title, 26),
			truncate(p.Location, 18),
			p.TokenPrice,
			p.AvailableTokens,
			p.SoldTokens,
			string(p.Status),
			holdings[p.ID],
		)
	}
	fmt.Println()
}

func renderPropertyDetail(p ledger.Property, held int64) {
	accent.Printf("\n== %s ==\n", p.Title)
	fmt.Printf("Location:     %s\n", p.Location)
	fmt.Printf("Status:       %s\n", p.Status)
	fmt.Printf("Total value:  $%.2f\n", p.PriceTotal)
	fmt.Printf("Token price:  $%.2f\n", p.TokenPrice)
	fmt.Printf("Tokens:       %d total, %d available, %d sold\n", p.TotalTokens, p.AvailableTokens, p.SoldTokens)
	fmt.Printf("Layout:       %d bed / %d bath, %.0f m²\n", p.Bedrooms, p.Bathrooms, p.AreaSqm)
	if held > 0 {
		fmt.Printf("You hold:     %d tokens\n", held)
	}
	if strings.TrimSpace(p.Description) != "" {
		fmt.Printf("\n%s\n", p.Description)
	}
	fmt.Println()
}

func renderPortfolio(properties []ledger.Property, holdings map[int64]int64) {
	accent.Println("\n== YOUR PORTFOLIO ==")
	byID := make(map[int64]ledger.Property, len(properties))
	for _, p := range properties {
		byID[p.ID] = p
	}
	var totalTokens int64
	var totalValue float64
	rows := 0
	fmt.Printf("%-4s %-26s %9s %10s %12s\n", "ID", "TITLE", "TOKENS", "TOKEN $", "VALUE")
	for _, p := range properties {
		amount := holdings[p.ID]
		if amount == 0 {
			continue
		}
		value := float64(amount) * p.TokenPrice
		fmt.Printf("%-4d %-26s %9d %10.2f %12.2f\n", p.ID, truncate(p.Title, 26), amount, p.TokenPrice, value)
		totalTokens += amount
		totalValue += value
		rows++
	}
	for propertyID, amount := range holdings {
		if _, known := byID[propertyID]; !known && amount > 0 {
			fmt.Printf("%-4d %-26s %9d %10s %12s\n", propertyID, "(not in catalog)", amount, "-", "-")
			totalTokens += amount
			rows++
		}
	}
	if rows == 0 {
		printInfo("No tokens held yet.")
		return
	}
	fmt.Printf("\nTotal: %d tokens, est. $%.2f\n\n", totalTokens, totalValue)
}

func renderHistory(txs []ledger.Transaction) {
	accent.Println("\n== TRANSACTION HISTORY ==")
	if len(txs) == 0 {
		printInfo("No transactions yet.")
		return
	}
	fmt.Printf("%-6s %-13s %-10s %9s %-14s %-16s\n", "ID", "KIND", "PROPERTY", "TOKENS", "COUNTERPARTY", "WHEN")
	for _, tx := range txs {
		fmt.Printf("%-6d %-13s %-10d %9d %-14s %-16s\n",
			tx.ID,
			tx.Kind,
			tx.PropertyID,
			tx.Amount,
			truncate(tx.Counterparty, 14),
			tx.CreatedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	fmt.Println()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
