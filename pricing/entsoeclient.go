package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/devskill-org/powerctl/entsoe"
	"github.com/devskill-org/powerctl/runplan"
)

// EntsoeClient is the default TariffClient: it downloads a day-ahead market
// document and explodes its hourly points into fixed-resolution PriceSlots.
// It is one reference implementation behind TariffClient (see SPEC_FULL §6);
// a deployment against a different market feed supplies its own.
type EntsoeClient struct {
	api           *entsoe.APIClient
	securityToken string
	urlFormat     string
	location      *time.Location
}

// NewEntsoeClient wraps the ENTSO-E XML API behind TariffClient. urlFormat
// takes (periodStart, periodEnd, securityToken) in that order, matching
// buildPublicationMarketDataURL's Sprintf call.
func NewEntsoeClient(securityToken, urlFormat string, location *time.Location) *EntsoeClient {
	return &EntsoeClient{
		api:           entsoe.NewAPIClient(),
		securityToken: securityToken,
		urlFormat:     urlFormat,
		location:      location,
	}
}

func (c *EntsoeClient) FetchSlots(ctx context.Context, now time.Time, resolution time.Duration, horizon time.Duration) ([]runplan.PriceSlot, error) {
	doc, err := entsoe.DownloadPublicationMarketData(ctx, c.securityToken, c.urlFormat, c.location)
	if err != nil {
		return nil, fmt.Errorf("entsoe: download market data: %w", err)
	}

	var slots []runplan.PriceSlot
	cutoff := now.Add(horizon)
	for _, ts := range doc.TimeSeries {
		start := ts.Period.TimeInterval.Start.In(c.location)
		step := ts.Period.Resolution
		if step <= 0 {
			step = time.Hour
		}
		for _, pt := range ts.Period.Points {
			pointStart := start.Add(time.Duration(pt.Position-1) * step)
			if pointStart.Add(step).Before(now) || pointStart.After(cutoff) {
				continue
			}
			slots = append(slots, explode(pointStart, step, resolution, pt.PriceAmount)...)
		}
	}
	return slots, nil
}

// explode splits one coarse-resolution priced interval into consecutive
// fixed-resolution PriceSlots, matching the teacher's 5-minute consolidation
// in the original Amber feed.
func explode(start time.Time, coarse, fine time.Duration, pricePerMWh float64) []runplan.PriceSlot {
	if fine <= 0 || fine >= coarse {
		return []runplan.PriceSlot{{
			Date:        start.Truncate(24 * time.Hour),
			StartDT:     start,
			EndDT:       start.Add(coarse),
			Minutes:     int(coarse.Minutes()),
			PricePerKWh: mwhToCentsPerKWh(pricePerMWh),
		}}
	}

	n := int(coarse / fine)
	slots := make([]runplan.PriceSlot, 0, n)
	for i := 0; i < n; i++ {
		s := start.Add(time.Duration(i) * fine)
		slots = append(slots, runplan.PriceSlot{
			Date:        s.Truncate(24 * time.Hour),
			StartDT:     s,
			EndDT:       s.Add(fine),
			Minutes:     int(fine.Minutes()),
			PricePerKWh: mwhToCentsPerKWh(pricePerMWh),
		})
	}
	return slots
}

// mwhToCentsPerKWh converts ENTSO-E's EUR/MWh quotation to cents/kWh (the
// unit runplan.PriceSlot works in): 1 EUR/MWh is 100 cents per 1000 kWh,
// i.e. 0.1 cents/kWh, so the value is divided by 10 in decimal arithmetic.
func mwhToCentsPerKWh(pricePerMWh float64) decimal.Decimal {
	return decimal.NewFromFloat(pricePerMWh).Div(decimal.NewFromInt(10))
}
