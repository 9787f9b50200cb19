package deepseek

import (
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

const tradePromptTemplate = `Generate optimal trade signals based on the following strategy and market data:

Strategy Configuration:
%s

Symbols: %v

Market Data:
%s

Available Budget: %.2f USDT

Requirements:
1. Analyze current market conditions against strategy rules
2. Validate all strategy conditions are met
3. Calculate optimal position size based on budget and risk
4. Generate precise entry/exit points
5. Include confidence score based on condition alignment
6. Return trades in strict JSON format

Return an array of trade signals with this exact structure:
[{
  "asset": string,
  "direction": "buy" | "sell",
  "entry_price": number,
  "stop_loss": number,
  "take_profit": number,
  "position_size": number,
  "confidence": number,
  "conditions_met": string[]
}]`

const adaptationPromptTemplate = `Adapt the following trading strategy based on current market conditions:

Strategy Configuration:
%s

Market Data:
%s

Requirements:
1. Analyze current market conditions
2. Identify strengths and weaknesses in the current strategy
3. Suggest improvements to entry and exit conditions
4. Optimize position sizing and risk management
5. Return the adapted strategy configuration in the same JSON format

Return the adapted strategy configuration with this exact structure:
{
  "indicatorType": string,
  "entryConditions": object,
  "exitConditions": object,
  "tradeParameters": {
    "positionSize": number,
    "maxOpenPositions": number,
    "stopLoss": number,
    "takeProfit": number
  }
}`

func tradePrompt(req domain.SignalRequest) (string, error) {
	cfg, err := json.MarshalIndent(req.Strategy.Config, "", "  ")
	if err != nil {
		return "", err
	}
	market, err := json.MarshalIndent(req.Snapshot, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(tradePromptTemplate, cfg, req.Strategy.Symbols, market, req.AvailableBudget), nil
}

func adaptationPrompt(st domain.Strategy, snap domain.MarketSnapshot) (string, error) {
	cfg, err := json.MarshalIndent(st.Config, "", "  ")
	if err != nil {
		return "", err
	}
	market, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(adaptationPromptTemplate, cfg, market), nil
}
