package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"altair/internal/domain"
	"altair/internal/store"
	"altair/pkg/altair"
)

const version = "0.1.0"

// Styles.
var (
	tierPlatinumStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	tierGoldStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	tierSilverStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	tierBronzeStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3"))
	symbolStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	goodStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	badStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	colHeaderStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	sectionStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("6"))
)

func tierStyle(tier domain.RatingTier) lipgloss.Style {
	switch tier {
	case domain.TierPlatinum:
		return tierPlatinumStyle
	case domain.TierGold:
		return tierGoldStyle
	case domain.TierSilver:
		return tierSilverStyle
	case domain.TierBronze:
		return tierBronzeStyle
	default:
		return lipgloss.NewStyle()
	}
}

func stateStyle(state domain.OrderState) lipgloss.Style {
	switch state {
	case domain.StateFilled:
		return goodStyle
	case domain.StateTriggered, domain.StateSubmitted, domain.StatePartiallyFilled:
		return warnStyle
	case domain.StateRejected, domain.StateExpired:
		return badStyle
	default:
		return dimStyle
	}
}

func healthStyle(h float64) lipgloss.Style {
	switch {
	case h >= 0.95:
		return goodStyle
	case h >= 0.80:
		return warnStyle
	default:
		return badStyle
	}
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: altair-cli <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version     Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  status      Show altair-server status\n")
		fmt.Fprintf(os.Stderr, "  orders      List active conditional orders\n")
		fmt.Fprintf(os.Stderr, "  create      Register a conditional order from a JSON file\n")
		fmt.Fprintf(os.Stderr, "  cancel      Cancel an active order\n")
		fmt.Fprintf(os.Stderr, "  brokers     Show broker performance snapshots\n")
		fmt.Fprintf(os.Stderr, "  route       Pick the best broker for an order\n")
		fmt.Fprintf(os.Stderr, "  split       Plan an order split across brokers\n")
		fmt.Fprintf(os.Stderr, "  executions  Show the execution journal for a date\n")
		fmt.Fprintf(os.Stderr, "  decisions   Show the decision journal for a date\n")
		fmt.Fprintf(os.Stderr, "  watch       Live dashboard\n")
		fmt.Fprintf(os.Stderr, "\nThe server address comes from -addr or ALTAIR_ADDR.\n\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("altair-cli %s\n", version)

	case "status":
		cmdStatus(os.Args[2:])

	case "orders":
		cmdOrders(os.Args[2:])

	case "create":
		cmdCreate(os.Args[2:])

	case "cancel":
		cmdCancel(os.Args[2:])

	case "brokers":
		cmdBrokers(os.Args[2:])

	case "route":
		cmdRoute(os.Args[2:])

	case "split":
		cmdSplit(os.Args[2:])

	case "executions":
		cmdExecutions(os.Args[2:])

	case "decisions":
		cmdDecisions(os.Args[2:])

	case "watch":
		cmdWatch(os.Args[2:])

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}
}

// addrFlag registers -addr on a subcommand's flag set, defaulting to
// ALTAIR_ADDR or the local server.
func addrFlag(fs *flag.FlagSet) *string {
	def := "http://localhost:8080"
	if a := os.Getenv("ALTAIR_ADDR"); a != "" {
		def = a
	}
	return fs.String("addr", def, "altair-server base URL")
}

func newClient(addr string) *altair.Client {
	return altair.NewClient(strings.TrimRight(addr, "/"))
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// padOrTrunc pads s with spaces to width, or truncates if longer.
func padOrTrunc(s string, width int) string {
	n := len(s)
	if n >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-n)
}

// ---------------------------------------------------------------------------
// One-shot commands
// ---------------------------------------------------------------------------

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	addr := addrFlag(fs)
	fs.Parse(args)

	st, err := newClient(*addr).Status(context.Background())
	if err != nil {
		fatalf("status: %v", err)
	}

	var b strings.Builder
	renderStatus(&b, st)
	fmt.Print(b.String())
}

func cmdOrders(args []string) {
	fs := flag.NewFlagSet("orders", flag.ExitOnError)
	addr := addrFlag(fs)
	symbol := fs.String("symbol", "", "filter by symbol")
	strategy := fs.String("strategy", "", "filter by strategy type")
	fs.Parse(args)

	orders, err := newClient(*addr).ListOrders(context.Background(), *symbol, domain.StrategyType(*strategy))
	if err != nil {
		fatalf("orders: %v", err)
	}

	var b strings.Builder
	renderOrders(&b, orders)
	fmt.Print(b.String())
}

func cmdCreate(args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	addr := addrFlag(fs)
	file := fs.String("file", "", "JSON file with the order request")
	fs.Parse(args)
	if *file == "" {
		fatalf("create: -file is required")
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		fatalf("create: %v", err)
	}
	var req altair.OrderRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		fatalf("create: parsing %s: %v", *file, err)
	}

	order, err := newClient(*addr).CreateOrder(context.Background(), req)
	if err != nil {
		fatalf("create: %v", err)
	}
	fmt.Printf("created %s  %s %s %d %s  state %s\n",
		order.ID, symbolStyle.Render(order.Symbol), order.Side, order.Quantity,
		order.Strategy, stateStyle(order.State).Render(string(order.State)))
}

func cmdCancel(args []string) {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	addr := addrFlag(fs)
	fs.Parse(args)
	if fs.NArg() != 1 {
		fatalf("usage: altair-cli cancel [options] <order-id>")
	}

	id := fs.Arg(0)
	if err := newClient(*addr).CancelOrder(context.Background(), id); err != nil {
		fatalf("cancel: %v", err)
	}
	fmt.Printf("cancelled %s\n", id)
}

func cmdBrokers(args []string) {
	fs := flag.NewFlagSet("brokers", flag.ExitOnError)
	addr := addrFlag(fs)
	fs.Parse(args)

	snaps, err := newClient(*addr).Brokers(context.Background())
	if err != nil {
		fatalf("brokers: %v", err)
	}

	var b strings.Builder
	renderBrokers(&b, snaps)
	fmt.Print(b.String())
}

func cmdRoute(args []string) {
	fs := flag.NewFlagSet("route", flag.ExitOnError)
	addr := addrFlag(fs)
	symbol := fs.String("symbol", "", "symbol to trade")
	qty := fs.Int64("qty", 0, "order quantity")
	orderType := fs.String("type", "market", "order type hint")
	candidates := fs.String("candidates", "", "comma-separated broker allowlist")
	fs.Parse(args)

	dec, err := newClient(*addr).Route(context.Background(), altair.RouteRequest{
		Symbol:     *symbol,
		Quantity:   *qty,
		OrderType:  *orderType,
		Candidates: splitList(*candidates),
	})
	if err != nil {
		fatalf("route: %v", err)
	}

	tier := domain.TierForScore(dec.Score)
	fmt.Printf("%s %d -> %s  score %.3f (%s)\n",
		symbolStyle.Render(dec.Symbol), dec.Quantity,
		tierStyle(tier).Render(dec.BrokerID), dec.Score, tier)
	fmt.Printf("  %s\n", dec.PrimaryReason)
	fmt.Printf("  est improvement %.4f  est cost %.4f  est exec %.0fms\n",
		dec.EstimatedPriceImprovement, dec.EstimatedCost, dec.EstimatedExecutionTimeMs)
	for _, alt := range dec.Alternatives {
		fmt.Printf("  alt: %s %.3f\n", padOrTrunc(alt.BrokerID, 12), alt.Score)
	}
	for _, w := range dec.Warnings {
		fmt.Printf("  %s\n", warnStyle.Render("warning: "+w))
	}
}

func cmdSplit(args []string) {
	fs := flag.NewFlagSet("split", flag.ExitOnError)
	addr := addrFlag(fs)
	symbol := fs.String("symbol", "", "symbol to trade")
	side := fs.String("side", "buy", "buy or sell")
	qty := fs.Int64("qty", 0, "total quantity")
	strategy := fs.String("strategy", string(domain.SplitWeighted), "equal, weighted, priority or adaptive")
	parent := fs.String("parent", "", "parent order id")
	candidates := fs.String("candidates", "", "comma-separated broker allowlist")
	fs.Parse(args)

	plan, err := newClient(*addr).Split(context.Background(), altair.SplitRequest{
		ParentOrderID: *parent,
		Symbol:        *symbol,
		Side:          domain.Side(*side),
		Quantity:      *qty,
		Strategy:      domain.SplitStrategy(*strategy),
		Candidates:    splitList(*candidates),
	})
	if err != nil {
		fatalf("split: %v", err)
	}

	fmt.Printf("%s %s %d  strategy %s  risk %s\n",
		symbolStyle.Render(plan.Symbol), plan.Side, plan.TotalQuantity,
		plan.Strategy, plan.RiskLevel)
	fmt.Println(colHeaderStyle.Render(fmt.Sprintf("  %-12s %8s %7s %4s  %s",
		"BROKER", "QTY", "PCT", "PRI", "REASON")))
	for _, a := range plan.Allocations {
		fmt.Printf("  %-12s %8d %6.1f%% %4d  %s\n",
			padOrTrunc(a.BrokerID, 12), a.Quantity, a.AllocationPercent,
			a.Priority, dimStyle.Render(a.Reason))
	}
}

func cmdExecutions(args []string) {
	fs := flag.NewFlagSet("executions", flag.ExitOnError)
	addr := addrFlag(fs)
	date := fs.String("date", time.Now().UTC().Format("2006-01-02"), "journal date (YYYY-MM-DD)")
	fs.Parse(args)

	recs, err := newClient(*addr).Executions(context.Background(), *date)
	if err != nil {
		fatalf("executions: %v", err)
	}
	if len(recs) == 0 {
		fmt.Printf("no executions journaled on %s\n", *date)
		return
	}

	fmt.Println(colHeaderStyle.Render(fmt.Sprintf("%-12s %-20s %-7s %-16s %9s %8s %3s  %s",
		"TIME", "ORDER", "SYMBOL", "STATE", "PRICE", "FILLED", "TRY", "REASON")))
	for _, r := range recs {
		ts := time.UnixMilli(r.Timestamp).UTC().Format("15:04:05.000")
		fmt.Printf("%-12s %-20s %-7s %s %9.2f %8d %3d  %s\n",
			ts, padOrTrunc(r.OrderID, 20), padOrTrunc(r.Symbol, 7),
			stateStyle(domain.OrderState(r.State)).Render(fmt.Sprintf("%-16s", r.State)),
			r.Price, r.Filled, r.Attempts, dimStyle.Render(r.Reason))
	}
	fmt.Printf("\n%d events\n", len(recs))
}

func cmdDecisions(args []string) {
	fs := flag.NewFlagSet("decisions", flag.ExitOnError)
	addr := addrFlag(fs)
	date := fs.String("date", time.Now().UTC().Format("2006-01-02"), "journal date (YYYY-MM-DD)")
	fs.Parse(args)

	recs, err := newClient(*addr).Decisions(context.Background(), *date)
	if err != nil {
		fatalf("decisions: %v", err)
	}
	if len(recs) == 0 {
		fmt.Printf("no decisions journaled on %s\n", *date)
		return
	}

	fmt.Println(colHeaderStyle.Render(fmt.Sprintf("%-12s %-6s %-7s %-12s %8s %6s %4s  %s",
		"TIME", "KIND", "SYMBOL", "BROKER", "QTY", "SCORE", "ALT", "REASON")))
	for _, r := range recs {
		ts := time.UnixMilli(r.Timestamp).UTC().Format("15:04:05.000")
		fmt.Printf("%-12s %-6s %-7s %-12s %8d %6.3f %4d  %s\n",
			ts, r.Kind, padOrTrunc(r.Symbol, 7), padOrTrunc(r.BrokerID, 12),
			r.Quantity, r.Score, r.Alternatives, dimStyle.Render(r.Reason))
	}
	fmt.Printf("\n%d decisions\n", len(recs))
}

// ---------------------------------------------------------------------------
// Shared renderers
// ---------------------------------------------------------------------------

func renderStatus(b *strings.Builder, st *altair.Status) {
	fmt.Fprintf(b, "%s  %s\n", symbolStyle.Render(st.Service), st.Time.Local().Format(time.RFC3339))
	e := st.Engine
	fmt.Fprintf(b, "  active orders:   %d\n", e.ActiveOrders)
	if len(e.ByStrategy) > 0 {
		keys := make([]string, 0, len(e.ByStrategy))
		for k := range e.ByStrategy {
			keys = append(keys, string(k))
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%d", k, e.ByStrategy[domain.StrategyType(k)]))
		}
		fmt.Fprintf(b, "  by strategy:     %s\n", strings.Join(parts, "  "))
	}
	fmt.Fprintf(b, "  evaluations:     %d (%d errors)\n", e.Evaluations, e.EvalErrors)
	fmt.Fprintf(b, "  submissions:     %d (%d failed)\n", e.Submissions, e.SubmitFailures)
	fmt.Fprintf(b, "  health:          %s\n", healthStyle(e.Health).Render(fmt.Sprintf("%.3f", e.Health)))
	fmt.Fprintf(b, "  brokers tracked: %d (performance v%d)\n", st.Brokers, st.PerformanceVersion)
}

func renderOrders(b *strings.Builder, orders []*domain.ConditionalOrder) {
	if len(orders) == 0 {
		b.WriteString(dimStyle.Render("no active orders"))
		b.WriteString("\n")
		return
	}
	b.WriteString(colHeaderStyle.Render(fmt.Sprintf("%-20s %-7s %-4s %8s  %-13s %-16s %8s  %s",
		"ID", "SYMBOL", "SIDE", "QTY", "STRATEGY", "STATE", "FILLED", "AGE")))
	b.WriteString("\n")
	for _, o := range orders {
		age := time.Since(o.CreatedAt).Round(time.Second)
		fmt.Fprintf(b, "%-20s %s %-4s %8d  %-13s %s %8d  %s\n",
			padOrTrunc(o.ID, 20),
			symbolStyle.Render(padOrTrunc(o.Symbol, 7)),
			o.Side, o.Quantity, o.Strategy,
			stateStyle(o.State).Render(fmt.Sprintf("%-16s", o.State)),
			o.FilledQuantity, age)
	}
	fmt.Fprintf(b, "\n%d active\n", len(orders))
}

func renderBrokers(b *strings.Builder, snaps []domain.BrokerPerformanceSnapshot) {
	if len(snaps) == 0 {
		b.WriteString(dimStyle.Render("no brokers tracked"))
		b.WriteString("\n")
		return
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].OverallScore > snaps[j].OverallScore })

	b.WriteString(colHeaderStyle.Render(fmt.Sprintf("%-12s %-9s %6s %6s %8s %7s %8s %7s %5s %5s",
		"BROKER", "TIER", "SCORE", "FILL", "SUCCESS", "UPTIME", "EXEC MS", "FEE", "LOAD", "CAP")))
	b.WriteString("\n")
	for _, s := range snaps {
		fmt.Fprintf(b, "%-12s %s %6.3f %5.1f%% %7.1f%% %6.2f%% %8.0f %7.4f %4.0f%% %5d\n",
			padOrTrunc(s.BrokerID, 12),
			tierStyle(s.RatingTier).Render(padOrTrunc(string(s.RatingTier), 9)),
			s.OverallScore,
			s.FillRate*100, s.SuccessRate*100, s.UptimePercent,
			s.AvgExecutionTimeMs, s.AvgFee, s.CurrentLoad*100, s.AvailableCapacity)
	}
}

// ---------------------------------------------------------------------------
// Watch mode
// ---------------------------------------------------------------------------

// Messages.
type tickMsg time.Time

type refreshMsg struct {
	status  *altair.Status
	orders  []*domain.ConditionalOrder
	brokers []domain.BrokerPerformanceSnapshot
	execs   []store.ExecutionRecord
	err     error
}

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// refreshCmd fetches a full dashboard snapshot off the update loop.
func refreshCmd(c *altair.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		st, err := c.Status(ctx)
		if err != nil {
			return refreshMsg{err: err}
		}
		orders, err := c.ListOrders(ctx, "", "")
		if err != nil {
			return refreshMsg{err: err}
		}
		brokers, err := c.Brokers(ctx)
		if err != nil {
			return refreshMsg{err: err}
		}
		execs, err := c.Executions(ctx, time.Now().UTC().Format("2006-01-02"))
		if err != nil {
			// The journal is optional server-side; show the rest.
			execs = nil
		}
		return refreshMsg{status: st, orders: orders, brokers: brokers, execs: execs}
	}
}

type watchModel struct {
	client *altair.Client
	addr   string

	status  *altair.Status
	orders  []*domain.ConditionalOrder
	brokers []domain.BrokerPerformanceSnapshot
	execs   []store.ExecutionRecord
	lastErr error
	fetched time.Time

	viewport      viewport.Model
	ready         bool
	width, height int
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(tickCmd(), refreshCmd(m.client))
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, refreshCmd(m.client)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		headerH := 1
		footerH := 1
		vpHeight := m.height - headerH - footerH
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(m.width, vpHeight)
			m.viewport.MouseWheelEnabled = true
			m.ready = true
			m.viewport.SetContent(m.renderContent())
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = vpHeight
		}
		return m, nil

	case tickMsg:
		return m, tea.Batch(refreshCmd(m.client), tickCmd())

	case refreshMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.status = msg.status
			m.orders = msg.orders
			m.brokers = msg.brokers
			m.execs = msg.execs
			m.fetched = time.Now()
		}
		if m.ready {
			m.viewport.SetContent(m.renderContent())
		}
		return m, nil
	}

	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m watchModel) View() string {
	if !m.ready {
		return "Loading..."
	}

	headerText := fmt.Sprintf(" altair  %s    connecting... ", m.addr)
	if m.status != nil {
		headerText = fmt.Sprintf(" altair  %s    active: %d    health: %.3f    as of %s ",
			m.addr, m.status.Engine.ActiveOrders, m.status.Engine.Health,
			m.fetched.Format("15:04:05"))
	}
	headerBar := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("15")).
		Background(lipgloss.Color("4")).
		Render(padOrTrunc(headerText, m.width))

	footerLeft := " q quit  r refresh  pgup/dn scroll"
	if m.lastErr != nil {
		footerLeft = " error: " + m.lastErr.Error()
	}
	pct := m.viewport.ScrollPercent() * 100
	footerRight := fmt.Sprintf("%.0f%% ", pct)
	gap := m.width - len(footerLeft) - len(footerRight)
	if gap < 0 {
		gap = 0
	}
	footerText := footerLeft + strings.Repeat(" ", gap) + footerRight
	footerBar := lipgloss.NewStyle().
		Foreground(lipgloss.Color("15")).
		Background(lipgloss.Color("8")).
		Render(padOrTrunc(footerText, m.width))

	return headerBar + "\n" + m.viewport.View() + "\n" + footerBar
}

func (m watchModel) renderContent() string {
	var b strings.Builder
	if m.status == nil {
		b.WriteString(dimStyle.Render("  waiting for first snapshot..."))
		b.WriteString("\n")
		return b.String()
	}

	section := func(label string) {
		b.WriteString(sectionStyle.Width(m.width).Render("  " + label + "  "))
		b.WriteString("\n")
	}

	section("ENGINE")
	renderStatus(&b, m.status)
	b.WriteString("\n")

	section("BROKERS")
	renderBrokers(&b, m.brokers)
	b.WriteString("\n")

	section("ACTIVE ORDERS")
	renderOrders(&b, m.orders)

	if len(m.execs) > 0 {
		b.WriteString("\n")
		section("TODAY'S EXECUTIONS")
		// Tail only: the newest events carry the story.
		tail := m.execs
		if len(tail) > 20 {
			tail = tail[len(tail)-20:]
		}
		for _, r := range tail {
			ts := time.UnixMilli(r.Timestamp).UTC().Format("15:04:05")
			fmt.Fprintf(&b, "%-9s %-20s %-7s %s %9.2f %8d  %s\n",
				ts, padOrTrunc(r.OrderID, 20), padOrTrunc(r.Symbol, 7),
				stateStyle(domain.OrderState(r.State)).Render(fmt.Sprintf("%-16s", r.State)),
				r.Price, r.Filled, dimStyle.Render(r.Reason))
		}
	}
	return b.String()
}

func cmdWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	addr := addrFlag(fs)
	fs.Parse(args)

	m := watchModel{client: newClient(*addr), addr: *addr}
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		fatalf("watch: %v", err)
	}
}
