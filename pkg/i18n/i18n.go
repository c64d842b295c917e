// Package i18n holds the user-facing message catalogue in English and
// Traditional Chinese.
package i18n

import (
	"reflect"
	"strings"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangZH Language = "zh"
)

// Messages holds all translatable strings
type Messages struct {
	// System
	Starting        string
	ConfigLoaded    string
	ServerListening string
	GRPCListening   string
	ShuttingDown    string
	APIServerError  string

	// Series
	SeriesReady     string
	SeriesNotFound  string
	SeriesNotReady  string
	UnknownExchange string

	// Plan errors
	PlanZeroStopDistance string
	PlanStopWrongSide    string
	PlanNonFinite        string
	PlanNonPositivePrice string
	PlanMissingLeverage  string
	PlanBadRiskPercent   string
	PlanBadRewardRatio   string
	PlanBadCloseRatio    string
	PlanBadSide          string
	PlanNegativeFee      string
	PlanNoStopReference  string

	// Plan outcomes
	PlanInsufficientCapital string
	PlanBalanceUnknown      string
}

var (
	currentLang Language = LangEN
	mu          sync.RWMutex
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	Starting:        "Starting risk desk...",
	ConfigLoaded:    "Config loaded (Port: %s)",
	ServerListening: "Server listening on :%s",
	GRPCListening:   "gRPC health listening on :%s",
	ShuttingDown:    "Shutting down gracefully...",
	APIServerError:  "API server error: %v",

	SeriesReady:     "Series %s ready with %d candles",
	SeriesNotFound:  "Series is not subscribed",
	SeriesNotReady:  "Series is still loading",
	UnknownExchange: "Exchange is not available",

	PlanZeroStopDistance: "Stop price equals the entry price",
	PlanStopWrongSide:    "Stop price is on the wrong side of the entry for this direction",
	PlanNonFinite:        "Inputs must be finite numbers",
	PlanNonPositivePrice: "Prices must be greater than zero",
	PlanMissingLeverage:  "Leverage data is unavailable",
	PlanBadRiskPercent:   "Risk percent must be within (0, 100]",
	PlanBadRewardRatio:   "Reward to risk ratio must be greater than zero",
	PlanBadCloseRatio:    "Partial close ratio must be within (0, 100]",
	PlanBadSide:          "Side must be long or short",
	PlanNegativeFee:      "Taker fee rate must not be negative",
	PlanNoStopReference:  "Not enough candles to derive a stop",

	PlanInsufficientCapital: "Position capped: available capital or leverage tiers cannot carry the full size",
	PlanBalanceUnknown:      "Balance unknown: sizing omitted",
}

// Chinese messages
var messagesZH = Messages{
	Starting:        "啟動風險計算服務...",
	ConfigLoaded:    "設定已載入（埠號：%s）",
	ServerListening: "服務監聽於 :%s",
	GRPCListening:   "gRPC 健康檢查監聽於 :%s",
	ShuttingDown:    "正在優雅關閉...",
	APIServerError:  "API 伺服器錯誤：%v",

	SeriesReady:     "K 線序列 %s 已就緒，共 %d 根",
	SeriesNotFound:  "尚未訂閱此 K 線序列",
	SeriesNotReady:  "K 線序列仍在載入中",
	UnknownExchange: "交易所不可用",

	PlanZeroStopDistance: "停損價與進場價相同",
	PlanStopWrongSide:    "停損價位於此方向進場價的錯誤一側",
	PlanNonFinite:        "輸入必須為有限數值",
	PlanNonPositivePrice: "價格必須大於零",
	PlanMissingLeverage:  "無法取得槓桿資料",
	PlanBadRiskPercent:   "風險百分比必須介於 (0, 100]",
	PlanBadRewardRatio:   "風險報酬比必須大於零",
	PlanBadCloseRatio:    "部分平倉比例必須介於 (0, 100]",
	PlanBadSide:          "方向必須為 long 或 short",
	PlanNegativeFee:      "吃單手續費率不可為負數",
	PlanNoStopReference:  "K 線數量不足，無法推算停損",

	PlanInsufficientCapital: "倉位已受限：可用資金或槓桿級距不足以承載完整倉位",
	PlanBalanceUnknown:      "餘額未知：略過倉位計算",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	messages = For(lang)
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// ParseLanguage maps tags like "zh-TW" or "en-US,en;q=0.9". Empty or
// unrecognised input returns the current language.
func ParseLanguage(tag string) Language {
	tag = strings.ToLower(strings.TrimSpace(tag))
	switch {
	case strings.HasPrefix(tag, "zh"):
		return LangZH
	case strings.HasPrefix(tag, "en"):
		return LangEN
	}
	return GetLanguage()
}

// For returns the catalogue for lang.
func For(lang Language) *Messages {
	if lang == LangZH {
		return &messagesZH
	}
	return &messagesEN
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	return lookup(M(), key)
}

// GetIn returns key from lang's catalogue.
func GetIn(lang Language, key string) string {
	return lookup(For(lang), key)
}

func lookup(msg *Messages, key string) string {
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
