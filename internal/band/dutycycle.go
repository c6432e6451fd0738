package band

import (
	"time"
)

const (
	dutyCyclePeriod            = time.Hour
	dutyCyclePeriodJoinBackOff = 24 * time.Hour

	backOffDC1Hour   = 100
	backOffDC10Hours = 1000
	backOffDC24Hours = 10000
)

// JoinDutyCycle returns the join back-off duty-cycle for the given time since
// start-up: 1% during the first hour, 0.1% during the next 10 hours and
// 0.01% after that.
func JoinDutyCycle(elapsedSinceStartup time.Duration) uint16 {
	switch {
	case elapsedSinceStartup < time.Hour:
		return backOffDC1Hour
	case elapsedSinceStartup < 11*time.Hour:
		return backOffDC10Hours
	default:
		return backOffDC24Hours
	}
}

func (b *Band) dutyCycle(joined bool, elapsedSinceStartup time.Duration) uint16 {
	dc := b.DCycle
	if !joined {
		if jdc := JoinDutyCycle(elapsedSinceStartup); jdc > dc {
			dc = jdc
		}
	}
	if dc == 0 {
		dc = 1
	}
	return dc
}

// updateTimeCredits adds the time elapsed since the last update as credits,
// bounded by the max. time credits of the current period. It returns the
// duty-cycle which applies to the band.
func (b *Band) updateTimeCredits(joined, dutyCycleEnabled bool, elapsedSinceStartup time.Duration, now time.Time) uint16 {
	dc := b.dutyCycle(joined, elapsedSinceStartup)

	period := dutyCyclePeriod
	if !joined && elapsedSinceStartup >= time.Hour {
		period = dutyCyclePeriodJoinBackOff
	}
	b.MaxTimeCredits = period

	switch {
	case !dutyCycleEnabled || b.LastBandUpdateTime.IsZero():
		b.TimeCredits = b.MaxTimeCredits
		b.LastMaxCreditAssignTime = now
	case now.After(b.LastBandUpdateTime):
		b.TimeCredits += now.Sub(b.LastBandUpdateTime)
	}

	if b.TimeCredits >= b.MaxTimeCredits {
		b.TimeCredits = b.MaxTimeCredits
		b.LastMaxCreditAssignTime = now
	}
	b.LastBandUpdateTime = now

	return dc
}

// cost returns the time credits consumed by a transmission.
func cost(toa time.Duration, dc uint16) time.Duration {
	return toa * time.Duration(dc)
}

// UpdateTimeCredits updates the time credits of all bands and marks the
// bands which allow a transmission of the given time on air. It returns the
// minimum time to wait until a band becomes ready (0 when a band is ready).
func (r *dynamicRegion) UpdateTimeCredits(joined, dutyCycleEnabled bool, elapsedSinceStartup, toa time.Duration, now time.Time) time.Duration {
	var minWait time.Duration
	var ready bool

	for i := range r.state.Bands {
		b := &r.state.Bands[i]
		dc := b.updateTimeCredits(joined, dutyCycleEnabled, elapsedSinceStartup, now)

		c := cost(toa, dc)
		if !dutyCycleEnabled || b.TimeCredits >= c {
			b.ReadyForTransmission = true
			ready = true
			continue
		}

		b.ReadyForTransmission = false
		wait := c - b.TimeCredits
		if minWait == 0 || wait < minWait {
			minWait = wait
		}
	}

	if ready {
		return 0
	}
	return minWait
}

func (r *dynamicRegion) SetBandTxDone(ch int, joined bool, toa time.Duration, dutyCycleEnabled bool, elapsedSinceStartup time.Duration, now time.Time) {
	if ch < 0 || ch >= len(r.state.Channels) {
		return
	}
	bi := r.state.Channels[ch].Band
	if bi < 0 || bi >= len(r.state.Bands) {
		return
	}

	b := &r.state.Bands[bi]
	dc := b.updateTimeCredits(joined, dutyCycleEnabled, elapsedSinceStartup, now)
	if !dutyCycleEnabled {
		return
	}

	b.TimeCredits -= cost(toa, dc)
	if b.TimeCredits < 0 {
		b.TimeCredits = 0
	}
}

// NextChannel selects a random enabled channel which supports the data-rate
// and of which the band has enough time credits.
func (r *dynamicRegion) NextChannel(p NextChannelParams) (int, time.Duration, error) {
	// re-enable the default channels when all channels are disabled
	if len(r.enabledChannels(r.state.ChannelsMask)) == 0 {
		for i := range r.state.ChannelsMask {
			r.state.ChannelsMask[i] |= r.state.ChannelsDefaultMask[i]
		}
	}

	if !p.LastAggrTx.IsZero() && p.AggrTimeOff > 0 {
		if elapsed := p.Now.Sub(p.LastAggrTx); elapsed < p.AggrTimeOff {
			return 0, p.AggrTimeOff - elapsed, ErrDutyCycleRestricted
		}
	}

	r.UpdateTimeCredits(p.Joined, p.DutyCycleEnabled, p.ElapsedSinceStartup, p.TimeOnAir, p.Now)

	var candidates []int
	var drMatch int
	for _, i := range r.enabledChannels(r.state.ChannelsMask) {
		c := r.state.Channels[i]
		if p.Datarate < c.MinDR || p.Datarate > c.MaxDR {
			continue
		}
		drMatch++

		if !r.state.Bands[c.Band].ReadyForTransmission {
			continue
		}
		candidates = append(candidates, i)
	}

	if len(candidates) > 0 {
		n := 0
		if p.Intn != nil && len(candidates) > 1 {
			n = p.Intn(len(candidates))
		}
		return candidates[n], 0, nil
	}

	if drMatch == 0 {
		for i := range r.state.ChannelsMask {
			r.state.ChannelsMask[i] |= r.state.ChannelsDefaultMask[i]
		}
		return 0, 0, ErrNoChannelFound
	}

	return 0, r.bandWait(p), ErrDutyCycleRestricted
}

// bandWait returns the minimum wait time over the bands containing an enabled
// channel for the data-rate.
func (r *dynamicRegion) bandWait(p NextChannelParams) time.Duration {
	var minWait time.Duration
	for _, i := range r.enabledChannels(r.state.ChannelsMask) {
		c := r.state.Channels[i]
		if p.Datarate < c.MinDR || p.Datarate > c.MaxDR {
			continue
		}

		b := r.state.Bands[c.Band]
		wait := cost(p.TimeOnAir, b.dutyCycle(p.Joined, p.ElapsedSinceStartup)) - b.TimeCredits
		if wait < 0 {
			wait = 0
		}
		if minWait == 0 || wait < minWait {
			minWait = wait
		}
	}
	return minWait
}
