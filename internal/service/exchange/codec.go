package exchange

import (
	"encoding/json"
	"fmt"
	"strings"

	"TradePipe/internal/domain/models"
	"TradePipe/internal/domain/pipeline"
	"TradePipe/pkg/logger"
	"TradePipe/pkg/util"

	"github.com/shopspring/decimal"
)

const (
	BinanceEndpoint  = "wss://stream.binance.com:9443"
	BybitEndpoint    = "wss://stream.bybit.com/v5/public/spot"
	CoinbaseEndpoint = "wss://ws-feed.exchange.coinbase.com"
)

// DefaultSymbol returns the BTC pair each venue quotes by default.
func DefaultSymbol(src models.Source) string {
	switch src {
	case models.SourceBinance:
		return "btcusdt"
	case models.SourceBybit:
		return "BTCUSDT"
	case models.SourceCoinbase:
		return "BTC-USD"
	default:
		return ""
	}
}

// New builds the collector for a venue.
func New(src models.Source, opts Options, log *logger.Logger) (*Collector, error) {
	if opts.Symbol == "" {
		opts.Symbol = DefaultSymbol(src)
	}
	var codec Codec
	switch src {
	case models.SourceBinance:
		codec = NewBinanceCodec(opts.Symbol)
	case models.SourceBybit:
		codec = NewBybitCodec(opts.Symbol)
	case models.SourceCoinbase:
		codec = NewCoinbaseCodec(opts.Symbol)
	default:
		return nil, fmt.Errorf("no websocket codec for source %q", src)
	}
	return NewCollector(codec, opts, log), nil
}

func parseDecimal(field, s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", pipeline.ErrMessageParse, field, s)
	}
	f, _ := d.Float64()
	return f, nil
}

func parseFailure(src models.Source, err error) []models.Event {
	return []models.Event{models.NewErrorEvent(src, "%s: %v", src, err)}
}

// BinanceCodec decodes the raw <symbol>@trade stream.
type BinanceCodec struct {
	symbol string
}

func NewBinanceCodec(symbol string) *BinanceCodec {
	return &BinanceCodec{symbol: strings.ToLower(symbol)}
}

type binanceTrade struct {
	Event      string `json:"e"`
	EventTime  uint64 `json:"E"`
	Symbol     string `json:"s"`
	TradeID    uint64 `json:"t"`
	Price      string `json:"p"`
	Quantity   string `json:"q"`
	TradeTime  uint64 `json:"T"`
	BuyerMaker bool   `json:"m"`
	Ignore     bool   `json:"M"`
}

func (c *BinanceCodec) Source() models.Source    { return models.SourceBinance }
func (c *BinanceCodec) Endpoint() string         { return fmt.Sprintf("%s/ws/%s@trade", BinanceEndpoint, c.symbol) }
func (c *BinanceCodec) SubscribeMessages() []any { return nil }

func (c *BinanceCodec) Decode(frame []byte) []models.Event {
	src := c.Source()
	var m binanceTrade
	if err := json.Unmarshal(frame, &m); err != nil {
		return parseFailure(src, fmt.Errorf("%w: %v", pipeline.ErrMessageParse, err))
	}
	if m.Event != "trade" {
		return []models.Event{models.NewUnsupportedEvent(src, "binance frame "+quoteOr(m.Event, "without event type"))}
	}
	price, err := parseDecimal("price", m.Price)
	if err != nil {
		return parseFailure(src, err)
	}
	size, err := parseDecimal("quantity", m.Quantity)
	if err != nil {
		return parseFailure(src, err)
	}
	return []models.Event{models.NewTradeEvent(src, price, size, m.TradeTime)}
}

// BybitCodec decodes the v5 spot publicTrade topic.
type BybitCodec struct {
	symbol string
}

func NewBybitCodec(symbol string) *BybitCodec {
	return &BybitCodec{symbol: strings.ToUpper(symbol)}
}

type bybitSubscribe struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

type bybitFrame struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Op      string          `json:"op"`
	Success *bool           `json:"success"`
	RetMsg  string          `json:"ret_msg"`
	Data    json.RawMessage `json:"data"`
}

type bybitTrade struct {
	Time   uint64 `json:"T"`
	Symbol string `json:"s"`
	Side   string `json:"S"`
	Size   string `json:"v"`
	Price  string `json:"p"`
}

func (c *BybitCodec) Source() models.Source { return models.SourceBybit }
func (c *BybitCodec) Endpoint() string      { return BybitEndpoint }
func (c *BybitCodec) topic() string         { return "publicTrade." + c.symbol }

func (c *BybitCodec) SubscribeMessages() []any {
	return []any{bybitSubscribe{Op: "subscribe", Args: []string{c.topic()}}}
}

func (c *BybitCodec) Decode(frame []byte) []models.Event {
	src := c.Source()
	var m bybitFrame
	if err := json.Unmarshal(frame, &m); err != nil {
		return parseFailure(src, fmt.Errorf("%w: %v", pipeline.ErrMessageParse, err))
	}
	if m.Op != "" {
		if m.Success != nil && !*m.Success {
			return []models.Event{models.NewErrorEvent(src, "bybit %s rejected: %s", m.Op, m.RetMsg)}
		}
		return []models.Event{models.NewUnsupportedEvent(src, "bybit "+m.Op+" ack")}
	}
	if !strings.HasPrefix(m.Topic, "publicTrade.") {
		return []models.Event{models.NewUnsupportedEvent(src, "bybit topic "+quoteOr(m.Topic, "missing"))}
	}

	var trades []bybitTrade
	if err := json.Unmarshal(m.Data, &trades); err != nil {
		return parseFailure(src, fmt.Errorf("%w: trades: %v", pipeline.ErrMessageParse, err))
	}
	out := make([]models.Event, 0, len(trades))
	for _, t := range trades {
		price, err := parseDecimal("price", t.Price)
		if err != nil {
			out = append(out, parseFailure(src, err)...)
			continue
		}
		size, err := parseDecimal("size", t.Size)
		if err != nil {
			out = append(out, parseFailure(src, err)...)
			continue
		}
		out = append(out, models.NewTradeEvent(src, price, size, t.Time))
	}
	return out
}

// CoinbaseCodec decodes the ticker channel, which carries the last match.
type CoinbaseCodec struct {
	product string
}

func NewCoinbaseCodec(product string) *CoinbaseCodec {
	return &CoinbaseCodec{product: strings.ToUpper(product)}
}

type coinbaseSubscribe struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

type coinbaseFrame struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	LastSize  string `json:"last_size"`
	Time      string `json:"time"`
	Message   string `json:"message"`
	Reason    string `json:"reason"`
}

func (c *CoinbaseCodec) Source() models.Source { return models.SourceCoinbase }
func (c *CoinbaseCodec) Endpoint() string      { return CoinbaseEndpoint }

func (c *CoinbaseCodec) SubscribeMessages() []any {
	return []any{coinbaseSubscribe{Type: "subscribe", ProductIDs: []string{c.product}, Channels: []string{"ticker"}}}
}

func (c *CoinbaseCodec) Decode(frame []byte) []models.Event {
	src := c.Source()
	var m coinbaseFrame
	if err := json.Unmarshal(frame, &m); err != nil {
		return parseFailure(src, fmt.Errorf("%w: %v", pipeline.ErrMessageParse, err))
	}
	switch m.Type {
	case "ticker":
	case "error":
		return []models.Event{models.NewErrorEvent(src, "coinbase error: %s %s", m.Message, m.Reason)}
	default:
		return []models.Event{models.NewUnsupportedEvent(src, "coinbase frame "+quoteOr(m.Type, "without type"))}
	}

	price, err := parseDecimal("price", m.Price)
	if err != nil {
		return parseFailure(src, err)
	}
	size, err := parseDecimal("last_size", m.LastSize)
	if err != nil {
		return parseFailure(src, err)
	}
	ts, ok := util.ParseTime(m.Time)
	if !ok {
		return parseFailure(src, fmt.Errorf("%w: time %q", pipeline.ErrMessageParse, m.Time))
	}
	return []models.Event{models.NewTradeEvent(src, price, size, uint64(ts.UnixMilli()))}
}

func quoteOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return fmt.Sprintf("%q", s)
}
