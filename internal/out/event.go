package out

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/ggonzalez94/defi-agent/internal/model"
)

var (
	labelColor   = color.New(color.FgCyan)
	successColor = color.New(color.FgGreen, color.Bold)
	warnColor    = color.New(color.FgYellow)
	failColor    = color.New(color.FgRed, color.Bold)
	dimColor     = color.New(color.FgHiBlack)
)

// RenderEvent writes one session event. JSON mode emits a single line per
// event so the stream can be piped into jq.
func RenderEvent(w io.Writer, ev model.Event, mode string) error {
	if mode == "json" {
		buf, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(buf))
		return err
	}
	return renderEventPlain(w, ev)
}

func renderEventPlain(w io.Writer, ev model.Event) error {
	var b strings.Builder
	switch ev.Type {
	case model.EventReply:
		b.WriteString(ev.Message + "\n")
	case model.EventQuoteReady:
		if ev.Message != "" {
			warnColor.Fprintf(&b, "%s\n", ev.Message)
		}
		writeQuote(&b, ev.Quote)
	case model.EventConfirmationRequired:
		if ev.Intent != nil {
			fmt.Fprintf(&b, "Swap %s %s for %s? ", ev.Intent.Amount, ev.Intent.FromToken, ev.Intent.ToToken)
		}
		labelColor.Fprint(&b, "[confirm/cancel]\n")
	case model.EventWalletLocked:
		warnColor.Fprintf(&b, "%s\n", ev.Message)
	case model.EventExecutionStarted:
		dimColor.Fprint(&b, "Executing swap...\n")
	case model.EventExecutionSettled:
		successColor.Fprint(&b, "Swap settled\n")
		fmt.Fprintf(&b, "  Received: %s\n", ev.AmountOut)
		writeHashes(&b, ev)
		if ev.GasUsed > 0 {
			fmt.Fprintf(&b, "  Gas used: %d\n", ev.GasUsed)
		}
	case model.EventExecutionFailed:
		failColor.Fprintf(&b, "Swap failed (%s)\n", ev.Code)
		fmt.Fprintf(&b, "  Reason:   %s\n", ev.Reason)
		writeHashes(&b, ev)
	case model.EventError:
		failColor.Fprintf(&b, "Error (%s): ", ev.Code)
		b.WriteString(ev.Message + "\n")
	case model.EventSwapCancelled:
		warnColor.Fprintf(&b, "Swap cancelled: %s\n", ev.Reason)
	default:
		fmt.Fprintf(&b, "%s\n", ev.Type)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeQuote(b *strings.Builder, q *model.Quote) {
	if q == nil {
		return
	}
	if q.Binding() {
		successColor.Fprint(b, "Quote\n")
	} else {
		warnColor.Fprint(b, "Estimate (non-binding)\n")
	}
	fmt.Fprintf(b, "  From:         %s %s\n", q.AmountIn, labelColor.Sprint(q.FromToken))
	fmt.Fprintf(b, "  To:           ~%s %s\n", q.AmountOutDisplay, labelColor.Sprint(q.ToToken))
	fmt.Fprintf(b, "  Route:        %s\n", q.Route)
	fmt.Fprintf(b, "  Price impact: %s\n", q.PriceImpactDisplay())
	fmt.Fprintf(b, "  Gas estimate: %d\n", q.GasEstimate)
	fmt.Fprintf(b, "  Valid until:  %s\n", q.ExpiresAt().Format("15:04:05"))
}

func writeHashes(b *strings.Builder, ev model.Event) {
	if ev.ApprovalTxHash != "" {
		fmt.Fprintf(b, "  Approval: %s\n", dimColor.Sprint(ev.ApprovalTxHash))
	}
	if ev.TxHash != "" {
		fmt.Fprintf(b, "  Tx:       %s\n", dimColor.Sprint(ev.TxHash))
	}
	if ev.ExplorerURL != "" {
		fmt.Fprintf(b, "  Explorer: %s\n", ev.ExplorerURL)
	}
}
