package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/audit"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/cedar"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/chain"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/guardrails"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/policy"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/quality"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/quota"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

const help = `Commands:
  <text>            validate text as a generation request
  /out <text>       validate text as generated output
  /fallback <type>  show the fallback template for a content type
  /usage            show monthly usage for the current user
  /audit            list audit events recorded this session
  /user <id> <tier> switch user
  exit | quit`

func main() {
	fmt.Println(colorCyan + colorBold + `
╔═══════════════════════════════════════════════════════════╗
║          AI USAGE GUARDRAIL - Interactive CLI             ║
║          Type text to see the request verdict             ║
║          Type /help for commands, 'exit' to quit          ║
╚═══════════════════════════════════════════════════════════╝` + colorReset)
	fmt.Println()

	policyDir := os.Getenv("POLICY_DIR")
	loader := policy.NewLoader(policyDir, os.Getenv("POLICY_DEFAULT_ID"), nil)
	if err := loader.Load(); err != nil {
		fmt.Printf("%sError: failed to load policies: %v%s\n", colorRed, err, colorReset)
		os.Exit(1)
	}

	cedarPath := os.Getenv("CEDAR_POLICY_PATH")
	cedarEngine, err := cedar.NewEngine(cedarPath, nil)
	if err != nil {
		fmt.Printf("%sError: failed to load Cedar policies: %v%s\n", colorRed, err, colorReset)
		os.Exit(1)
	}

	auditLog := audit.NewMemoryLogger()
	g := guardrails.New(loader,
		guardrails.WithAuditLogger(auditLog),
		guardrails.WithAuthorizer(cedarEngine),
		guardrails.WithQuotaStore(quota.NewMemoryStore()))

	user := chain.User{ID: "cli-user", Tier: policy.TierFree, ConsentGiven: true}

	fmt.Printf("%s[✓] Guardrails initialized%s\n", colorGreen, colorReset)
	fmt.Printf("    Policy: %s (v%s)\n", loader.Current().ID, loader.Current().Version)
	fmt.Printf("    Consent rules: %s\n", firstNonEmpty(cedarPath, "built-in"))
	fmt.Printf("    User: %s (%s)\n", user.ID, user.Tier)
	fmt.Println()

	ctx := context.Background()
	started := time.Now()
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Printf("%s%s> %s", colorBold, colorBlue, colorReset)
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "exit", "quit":
			fmt.Println(colorCyan + "Goodbye!" + colorReset)
			return
		case "/help":
			fmt.Println(help)
		case "/out":
			printVerdict(g.ValidateResponse(ctx, arg, quality.Context{}))
		case "/fallback":
			fmt.Println(g.GetFallbackContent(strings.TrimSpace(arg)))
		case "/usage":
			s, err := g.UsageSummary(ctx, user.ID, user.Tier)
			if err != nil {
				fmt.Printf("%s%v%s\n", colorRed, err, colorReset)
				break
			}
			fmt.Printf("%d of %d generations used (%.0f%%)\n", s.Used, s.Limit, s.PercentageUsed)
		case "/audit":
			for _, e := range g.GetAuditLog(started) {
				fmt.Printf("%s %-32s %v\n", e.Timestamp.Format(time.TimeOnly), e.EventType, e.Details)
			}
		case "/user":
			fields := strings.Fields(arg)
			if len(fields) == 0 {
				fmt.Println("usage: /user <id> [tier]")
				break
			}
			user.ID = fields[0]
			if len(fields) > 1 {
				user.Tier = policy.ParseTier(fields[1])
			}
			fmt.Printf("User: %s (%s)\n", user.ID, user.Tier)
		default:
			printVerdict(g.ValidateRequest(ctx, user, line))
		}
		fmt.Println()
	}
}

func printVerdict(v *chain.Verdict) {
	fmt.Println()
	if v.Valid {
		fmt.Printf("%s%s  ✅ VALID  %s\n", colorBold, colorGreen, colorReset)
	} else {
		fmt.Printf("%s%s  🛑 REJECTED  %s\n", colorBold, colorRed, colorReset)
	}

	for _, e := range v.Errors {
		fmt.Printf("%s│ error:   %s%s\n", colorRed, e, colorReset)
	}
	for _, w := range v.Warnings {
		fmt.Printf("%s│ warning: %s%s\n", colorYellow, w, colorReset)
	}
	if v.SanitizedText != "" {
		fmt.Printf("│ sanitized: %s\n", v.SanitizedText)
	}

	printScores("Quality", v.QualityScores)
	printScores("Bias", v.BiasScores)
}

func printScores(title string, scores map[string]float64) {
	if len(scores) == 0 {
		return
	}
	fmt.Printf("%s┌─ %s ─────────────────────────────────────────%s\n", colorCyan, title, colorReset)
	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("│ %-16s %.2f\n", k, scores[k])
	}
	fmt.Printf("%s└────────────────────────────────────────────────────%s\n", colorCyan, colorReset)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
