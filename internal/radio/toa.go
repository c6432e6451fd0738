package radio

import "time"

// TimeOnAir returns the time on air of a packet with the given configuration
// and payload length (in bytes).
func TimeOnAir(c TxConfig, pktLen int) time.Duration {
	switch c.Modulation {
	case ModemFSK:
		return fskTimeOnAir(c, pktLen)
	default:
		return loraTimeOnAir(c, pktLen)
	}
}

func loraTimeOnAir(c TxConfig, pktLen int) time.Duration {
	if c.Bandwidth == 0 || c.SpreadFactor == 0 {
		return 0
	}

	sf := int64(c.SpreadFactor)
	bw := int64(c.Bandwidth) * 1000
	cr := int64(c.CodeRate)
	if cr == 0 {
		cr = 1
	}

	var crc, ih, ldro int64
	if c.CRCOn {
		crc = 1
	}
	if c.FixLen {
		ih = 1
	}
	// Low data-rate optimization is mandated when the symbol time exceeds
	// 16 ms (SF11 and SF12 at 125 kHz).
	if (int64(1)<<uint(sf))*1000000/bw > 16000 {
		ldro = 1
	}

	payloadSymb := 8*int64(pktLen) - 4*sf + 28 + 16*crc - 20*ih
	div := 4 * (sf - 2*ldro)
	if payloadSymb < 0 || div <= 0 {
		payloadSymb = 0
	} else {
		payloadSymb = (payloadSymb + div - 1) / div * (cr + 4)
	}

	// (preamble + 4.25) symbols, all in quarter symbols
	quarters := (int64(c.PreambleLen)+8+payloadSymb)*4 + 17
	chips := quarters * (int64(1) << uint(sf))

	return time.Duration(chips) * time.Second / time.Duration(bw*4)
}

func fskTimeOnAir(c TxConfig, pktLen int) time.Duration {
	if c.Bitrate == 0 {
		return 0
	}

	var crc int64
	if c.CRCOn {
		crc = 2
	}
	var length int64
	if !c.FixLen {
		length = 1
	}

	// preamble + sync-word (3) + length + payload + crc
	bits := 8 * (int64(c.PreambleLen) + 3 + length + int64(pktLen) + crc)
	return time.Duration(bits) * time.Second / time.Duration(c.Bitrate)
}
