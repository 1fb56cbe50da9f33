package orderblock

import (
	"fmt"
	"math"
	"time"

	boterrors "github.com/haiminh-dev/orderblock-bot/internal/errors"
	"github.com/haiminh-dev/orderblock-bot/pkg/types"
)

// BlockType represents the direction of an order block
type BlockType string

const (
	BlockTypeBullish BlockType = "bullish"
	BlockTypeBearish BlockType = "bearish"
)

// OrderBlock represents a detected supply or demand zone. A bullish block
// is a demand zone below price formed by a swept pivot low; a bearish
// block is a supply zone above price formed by a swept pivot high.
type OrderBlock struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	Type          BlockType `json:"type"`
	Top           float64   `json:"top"`
	Bottom        float64   `json:"bottom"`
	PivotTime     time.Time `json:"pivot_time"`
	ConfirmedTime time.Time `json:"confirmed_time"`
	Mitigated     bool      `json:"mitigated"`
	Invalidated   bool      `json:"invalidated"`
}

// Active reports whether the block is still tradeable
func (b *OrderBlock) Active() bool {
	return !b.Mitigated && !b.Invalidated
}

// EntryPrice returns the zone boundary nearer to price, where the entry
// limit order rests: the top for a bullish block, the bottom for a
// bearish one.
func (b *OrderBlock) EntryPrice() float64 {
	if b.Type == BlockTypeBullish {
		return b.Top
	}
	return b.Bottom
}

// FarBoundary returns the zone boundary away from price, beyond which the
// stop loss is placed.
func (b *OrderBlock) FarBoundary() float64 {
	if b.Type == BlockTypeBullish {
		return b.Bottom
	}
	return b.Top
}

// Detector finds order blocks in a candle series using pivot extremes
// swept through a rolling structural band.
type Detector struct {
	length     int // candles on each side of a pivot
	bandPeriod int // rolling band lookback, length*10
}

// NewDetector creates a detector with the given pivot window
func NewDetector(length int) *Detector {
	return &Detector{
		length:     length,
		bandPeriod: length * 10,
	}
}

// Detect scans the candle series and returns every confirmed order block
// with its mitigation and invalidation flags evaluated against the
// candles that followed it. Candles must be ordered oldest first.
func (d *Detector) Detect(symbol string, candles []types.OHLCV) ([]OrderBlock, error) {
	if err := validateCandles(symbol, candles); err != nil {
		return nil, err
	}

	n := len(candles)
	// A pivot at p needs a full band behind it and a full confirmation
	// window after it.
	if n < d.bandPeriod+d.length+1 {
		return nil, nil
	}

	var blocks []OrderBlock
	for p := d.bandPeriod; p+d.length < n; p++ {
		if d.isPivotHigh(candles, p) {
			upper := rollingMaxHigh(candles, p-d.bandPeriod, p)
			if candles[p].High > upper {
				block := d.newBlock(symbol, BlockTypeBearish, candles, p)
				d.evaluate(&block, candles, p+d.length+1)
				blocks = append(blocks, block)
			}
		}
		if d.isPivotLow(candles, p) {
			lower := rollingMinLow(candles, p-d.bandPeriod, p)
			if candles[p].Low < lower {
				block := d.newBlock(symbol, BlockTypeBullish, candles, p)
				d.evaluate(&block, candles, p+d.length+1)
				blocks = append(blocks, block)
			}
		}
	}

	return blocks, nil
}

// MostRecentActive returns the latest still-tradeable block of the given
// type, or nil when none exists.
func MostRecentActive(blocks []OrderBlock, blockType BlockType) *OrderBlock {
	for i := len(blocks) - 1; i >= 0; i-- {
		if blocks[i].Type == blockType && blocks[i].Active() {
			return &blocks[i]
		}
	}
	return nil
}

// newBlock builds a block from the pivot candle at index p. The zone spans
// the pivot candle's full range; confirmation lands length candles later,
// when the pivot becomes knowable.
func (d *Detector) newBlock(symbol string, blockType BlockType, candles []types.OHLCV, p int) OrderBlock {
	pivot := candles[p]
	return OrderBlock{
		ID:            blockID(symbol, blockType, pivot.Timestamp),
		Symbol:        symbol,
		Type:          blockType,
		Top:           pivot.High,
		Bottom:        pivot.Low,
		PivotTime:     pivot.Timestamp,
		ConfirmedTime: candles[p+d.length].Timestamp,
	}
}

// evaluate walks the candles after confirmation and sets the mitigation or
// invalidation flag. Invalidation is a close beyond the far boundary;
// mitigation is price trading back into the zone. Whichever happens first
// wins, with invalidation checked first within a single candle.
func (d *Detector) evaluate(block *OrderBlock, candles []types.OHLCV, from int) {
	for i := from; i < len(candles); i++ {
		c := candles[i]
		if block.Type == BlockTypeBullish {
			if c.Close < block.Bottom {
				block.Invalidated = true
				return
			}
			if c.Low <= block.Top {
				block.Mitigated = true
				return
			}
		} else {
			if c.Close > block.Top {
				block.Invalidated = true
				return
			}
			if c.High >= block.Bottom {
				block.Mitigated = true
				return
			}
		}
	}
}

// isPivotHigh reports whether candle p is the highest high of its window.
// Earlier candles are compared non-strictly and later ones strictly, so on
// equal highs the most recent candle wins.
func (d *Detector) isPivotHigh(candles []types.OHLCV, p int) bool {
	h := candles[p].High
	for k := 1; k <= d.length; k++ {
		if p-k >= 0 && candles[p-k].High > h {
			return false
		}
		if candles[p+k].High >= h {
			return false
		}
	}
	return true
}

// isPivotLow mirrors isPivotHigh for swing lows
func (d *Detector) isPivotLow(candles []types.OHLCV, p int) bool {
	l := candles[p].Low
	for k := 1; k <= d.length; k++ {
		if p-k >= 0 && candles[p-k].Low < l {
			return false
		}
		if candles[p+k].Low <= l {
			return false
		}
	}
	return true
}

// rollingMaxHigh returns the highest high over candles [from, to)
func rollingMaxHigh(candles []types.OHLCV, from, to int) float64 {
	max := candles[from].High
	for i := from + 1; i < to; i++ {
		if candles[i].High > max {
			max = candles[i].High
		}
	}
	return max
}

// rollingMinLow returns the lowest low over candles [from, to)
func rollingMinLow(candles []types.OHLCV, from, to int) float64 {
	min := candles[from].Low
	for i := from + 1; i < to; i++ {
		if candles[i].Low < min {
			min = candles[i].Low
		}
	}
	return min
}

// blockID builds a deterministic identifier so the same zone detected on
// consecutive cycles keeps the same identity.
func blockID(symbol string, blockType BlockType, pivotTime time.Time) string {
	return fmt.Sprintf("%s-%s-%d", symbol, blockType, pivotTime.UnixMilli())
}

// validateCandles rejects series with out-of-order timestamps or
// non-finite prices.
func validateCandles(symbol string, candles []types.OHLCV) error {
	for i, c := range candles {
		for _, v := range [4]float64{c.Open, c.High, c.Low, c.Close} {
			if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
				return boterrors.NewDataError("detector", "validate_candles",
					fmt.Sprintf("%s: non-finite or non-positive price at candle %d", symbol, i))
			}
		}
		if c.High < c.Low {
			return boterrors.NewDataError("detector", "validate_candles",
				fmt.Sprintf("%s: high below low at candle %d", symbol, i))
		}
		if i > 0 && !candles[i-1].Timestamp.Before(c.Timestamp) {
			return boterrors.NewDataError("detector", "validate_candles",
				fmt.Sprintf("%s: timestamps not strictly ascending at candle %d", symbol, i))
		}
	}
	return nil
}
