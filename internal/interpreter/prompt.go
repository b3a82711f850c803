package interpreter

import (
	"fmt"
	"sort"
	"strings"
)

const intentPromptTemplate = `Parse this user message for token swap instructions.
Respond with exactly one JSON object or the literal null, and nothing else.

User message: %q

Available tokens: %s
Legacy symbols: %s

JSON shape:
{"action":"swap|trade|exchange","fromToken":"SYMBOL","toToken":"SYMBOL","amount":"decimal_as_string","amountUnit":"SYMBOL"}

Respond null when there is no swap request, when the user asks not to swap,
when information is missing, or when a token is not in the list.

Examples:
"swap 5 ETH for USDC" -> {"action":"swap","fromToken":"WETH","toToken":"USDC","amount":"5","amountUnit":"WETH"}
"trade 100 MATIC for DAI" -> {"action":"trade","fromToken":"POL","toToken":"DAI","amount":"100","amountUnit":"POL"}
"what is the weather today" -> null`

const replyPromptTemplate = `You are a concise assistant for a token swap wallet on %s.
Available tokens: %s. MATIC was renamed to POL; both names refer to the same asset.
If the user seems to want a swap, show the format "swap <amount> <token> for <token>".
Answer in at most three sentences.

User message: %q`

const cannedReply = "I couldn't reach the assistant right now, but swaps still work. Try a command like \"swap 5 POL for USDC\"."

func intentPrompt(text string, symbols []string, aliases map[string]string) string {
	return fmt.Sprintf(intentPromptTemplate, text, strings.Join(symbols, ", "), formatAliases(aliases))
}

func replyPrompt(text, network string, symbols []string) string {
	return fmt.Sprintf(replyPromptTemplate, network, strings.Join(symbols, ", "), text)
}

func formatAliases(aliases map[string]string) string {
	keys := make([]string, 0, len(aliases))
	for k := range aliases {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" means "+aliases[k])
	}
	return strings.Join(parts, "; ")
}
