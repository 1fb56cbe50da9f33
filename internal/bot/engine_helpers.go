package bot

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// printStartupInfo renders the startup configuration tables
func (e *Engine) printStartupInfo() {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("BOT INITIALIZATION")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"Symbols", strings.Join(e.cfg.Trading.Symbols, ", ")},
		{"Timeframe", e.cfg.Trading.Timeframe},
		{"Exchange", e.gateway.GetName()},
		{"Environment", e.gateway.GetEnvironment()},
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 15, WidthMax: 15, Align: text.AlignLeft},
		{Number: 2, WidthMin: 30, WidthMax: 60, Align: text.AlignLeft},
	})

	t.Render()
	fmt.Println()

	e.printConfiguration()
}

// printConfiguration renders the risk and engine parameters
func (e *Engine) printConfiguration() {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("BOT CONFIGURATION")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"Pivot Length", fmt.Sprintf("%d", e.cfg.Detection.PivotLength)},
		{"Risk Per Trade", fmt.Sprintf("%.2f%%", e.cfg.Risk.RiskPerTradePercent)},
		{"Reward/Risk", fmt.Sprintf("%.1fx", e.cfg.Risk.RewardRiskRatio)},
		{"Stop Buffer", fmt.Sprintf("%.3f%%", e.cfg.Risk.StopLossBuffer*100)},
	})

	t.AppendSeparator()

	t.AppendRows([]table.Row{
		{"Cycle Interval", e.cfg.CycleInterval().String()},
		{"Recon Interval", e.cfg.ReconciliationInterval().String()},
		{"Stale Order Age", e.cfg.PendingOrderMaxAge().String()},
	})

	t.AppendSeparator()

	metrics := e.state.MetricsSnapshot()
	t.AppendRows([]table.Row{
		{"Tracked Orders", fmt.Sprintf("%d", len(e.state.PendingOrders()))},
		{"Recorded Trades", fmt.Sprintf("%d", len(e.state.TradeHistory()))},
		{"Orders Placed", fmt.Sprintf("%d", metrics.OrdersPlaced)},
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, WidthMax: 60, Align: text.AlignLeft},
	})

	t.Render()
	fmt.Println()
}
