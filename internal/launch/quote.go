package launch

import (
	"strings"

	"github.com/alessio/shellescape"
)

func posixQuote(s string) string {
	return shellescape.Quote(s)
}

func posixJoin(argv []string) string {
	return shellescape.QuoteCommand(argv)
}

// psQuote wraps s in a PowerShell single-quoted literal, where the only
// escape is a doubled quote.
func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func psQuoteAll(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = psQuote(a)
	}
	return out
}

func psJoin(argv []string) string {
	return strings.Join(psQuoteAll(argv), " ")
}

// cmdQuote double-quotes arguments that cmd.exe would otherwise split or
// interpret. Embedded quotes are doubled.
func cmdQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\"&|<>^()%!,;=") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func cmdJoin(argv []string) string {
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = cmdQuote(a)
	}
	return strings.Join(out, " ")
}

func appleScriptEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
