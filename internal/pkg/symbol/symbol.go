package symbol

import (
	"strings"
)

// quoteCurrencies 按优先级匹配无分隔符写法的计价币。
var quoteCurrencies = []string{"USDT", "BUSD", "USDC", "TUSD", "FDUSD", "BTC", "ETH", "BNB"}

// Symbol 是拆分后的交易对。
type Symbol struct {
	Base  string
	Quote string
}

// Internal 返回 "BASE/QUOTE"。
func (s Symbol) Internal() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "/" + s.Quote
}

// Binance 返回交易所写法 "BASEQUOTE"。
func (s Symbol) Binance() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

// Parse 支持 "btc/usdt"、"BTCUSDT"、"BTC/USDT:USDT" 三种写法；无法识别时返回零值。
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	if base, quote, ok := strings.Cut(s, "/"); ok {
		base, quote = strings.TrimSpace(base), strings.TrimSpace(quote)
		if base == "" || quote == "" {
			return Symbol{}
		}
		return Symbol{Base: base, Quote: quote}
	}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{Base: s[:len(s)-len(quote)], Quote: quote}
		}
	}
	return Symbol{}
}

// ToBinance 把任意写法转换为交易所写法；无法拆分时原样大写返回。
func ToBinance(s string) string {
	if sym := Parse(s); sym.Base != "" {
		return sym.Binance()
	}
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "/", ""))
}

func IsValid(s string) bool {
	sym := Parse(s)
	return sym.Base != "" && sym.Quote != ""
}
